package state

import (
	"crypto/md5" //nolint:gosec // legacy hash-key compatibility, not a security boundary
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/app-sre/external-resources-manager/internal/model"
)

const (
	attrHashKey        = "external_resource_key_hash"
	attrKey            = "external_resource_key"
	attrStatus         = "resource_status"
	attrTimestamp      = "time_stamp"
	attrErrors         = "reconciliation_errors"
	attrReconciliation = "reconciliation"

	attrPP = "provision_provider"
	attrPN = "provisioner_name"
	attrP  = "provider"
	attrID = "identifier"

	attrResourceHash = "resource_hash"
	attrInput        = "input"
	attrAction       = "action"
	attrModuleConf   = "module_configuration"

	attrImage                 = "image"
	attrVersion               = "version"
	attrDriftDetectionMinutes = "drift_detection_minutes" // wire name diverges from the Go field name, kept for migration compatibility
	attrTimeoutMinutes        = "timeout_minutes"         // same
)

// legacyHashKey reproduces the md5-over-state-path hash key historical
// records were written under, before the canonical textual state path
// became the hash key.
func legacyHashKey(key model.ResourceKey) string {
	sum := md5.Sum([]byte(key.StatePath())) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func toItem(rec model.State) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		attrHashKey: &types.AttributeValueMemberS{Value: rec.Key.StatePath()},
		attrKey: &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			attrPP: &types.AttributeValueMemberS{Value: rec.Key.ProvisionProvider},
			attrPN: &types.AttributeValueMemberS{Value: rec.Key.ProvisionerName},
			attrP:  &types.AttributeValueMemberS{Value: rec.Key.Provider},
			attrID: &types.AttributeValueMemberS{Value: rec.Key.Identifier},
		}},
		attrStatus:    &types.AttributeValueMemberS{Value: string(rec.Status)},
		attrTimestamp: &types.AttributeValueMemberS{Value: rec.Timestamp.UTC().Format(time.RFC3339)},
		attrErrors:    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.ReconciliationErrors)},
	}

	if rec.Reconciliation.Key != (model.ResourceKey{}) || rec.Reconciliation.ResourceHash != "" {
		item[attrReconciliation] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			attrResourceHash: &types.AttributeValueMemberS{Value: rec.Reconciliation.ResourceHash},
			attrInput:        &types.AttributeValueMemberS{Value: rec.Reconciliation.Input},
			attrAction:       &types.AttributeValueMemberS{Value: string(rec.Reconciliation.Action)},
			attrModuleConf: &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				attrImage:                 &types.AttributeValueMemberS{Value: rec.Reconciliation.ModuleConfiguration.Image},
				attrVersion:               &types.AttributeValueMemberS{Value: rec.Reconciliation.ModuleConfiguration.Version},
				attrDriftDetectionMinutes: &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Reconciliation.ModuleConfiguration.ReconcileDriftIntervalMinutes)},
				attrTimeoutMinutes:        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Reconciliation.ModuleConfiguration.ReconcileTimeoutMinutes)},
			}},
		}}
	}

	return item, nil
}

// fromItem deserializes a full or partially-projected item. partial must be
// true when item came from a ScanPartial projection: fields beyond
// {key, timestamp, status, reconciliation.resource_hash} are then allowed to
// be absent instead of an error.
func fromItem(item map[string]types.AttributeValue, partial bool) (model.State, error) {
	var rec model.State

	keyMember, ok := item[attrKey].(*types.AttributeValueMemberM)
	if !ok {
		return rec, fmt.Errorf("state item missing %s", attrKey)
	}
	key, err := parseKey(keyMember.Value)
	if err != nil {
		return rec, err
	}
	rec.Key = key

	if s, ok := item[attrStatus].(*types.AttributeValueMemberS); ok {
		rec.Status = model.ResourceStatus(s.Value)
	} else if !partial {
		return rec, fmt.Errorf("state item %s missing %s", key, attrStatus)
	}

	if ts, ok := item[attrTimestamp].(*types.AttributeValueMemberS); ok {
		parsed, err := time.Parse(time.RFC3339, ts.Value)
		if err != nil {
			return rec, fmt.Errorf("state item %s: invalid %s: %w", key, attrTimestamp, err)
		}
		rec.Timestamp = parsed
	} else if !partial {
		return rec, fmt.Errorf("state item %s missing %s", key, attrTimestamp)
	}

	if n, ok := item[attrErrors].(*types.AttributeValueMemberN); ok {
		fmt.Sscanf(n.Value, "%d", &rec.ReconciliationErrors)
	}

	if reconM, ok := item[attrReconciliation].(*types.AttributeValueMemberM); ok {
		rec.Reconciliation.Key = key
		if h, ok := reconM.Value[attrResourceHash].(*types.AttributeValueMemberS); ok {
			rec.Reconciliation.ResourceHash = h.Value
		}
		if i, ok := reconM.Value[attrInput].(*types.AttributeValueMemberS); ok {
			rec.Reconciliation.Input = i.Value
		}
		if a, ok := reconM.Value[attrAction].(*types.AttributeValueMemberS); ok {
			rec.Reconciliation.Action = model.Action(a.Value)
		}
		if confM, ok := reconM.Value[attrModuleConf].(*types.AttributeValueMemberM); ok {
			conf := model.NewModuleConfiguration()
			if img, ok := confM.Value[attrImage].(*types.AttributeValueMemberS); ok {
				conf.Image = img.Value
			}
			if v, ok := confM.Value[attrVersion].(*types.AttributeValueMemberS); ok {
				conf.Version = v.Value
			}
			if d, ok := confM.Value[attrDriftDetectionMinutes].(*types.AttributeValueMemberN); ok {
				fmt.Sscanf(d.Value, "%d", &conf.ReconcileDriftIntervalMinutes)
			}
			if t, ok := confM.Value[attrTimeoutMinutes].(*types.AttributeValueMemberN); ok {
				fmt.Sscanf(t.Value, "%d", &conf.ReconcileTimeoutMinutes)
			}
			rec.Reconciliation.ModuleConfiguration = conf
		}
	}

	return rec, nil
}

func parseKey(m map[string]types.AttributeValue) (model.ResourceKey, error) {
	get := func(name string) (string, error) {
		v, ok := m[name].(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("external_resource_key missing %s", name)
		}
		return v.Value, nil
	}
	pp, err := get(attrPP)
	if err != nil {
		return model.ResourceKey{}, err
	}
	pn, err := get(attrPN)
	if err != nil {
		return model.ResourceKey{}, err
	}
	p, err := get(attrP)
	if err != nil {
		return model.ResourceKey{}, err
	}
	id, err := get(attrID)
	if err != nil {
		return model.ResourceKey{}, err
	}
	return model.ResourceKey{ProvisionProvider: pp, ProvisionerName: pn, Provider: p, Identifier: id}, nil
}

// partialProjection is the DynamoDB ProjectionExpression used by
// ScanPartial: {key, timestamp, status, reconciliation.resource_hash}.
const partialProjection = attrKey + ", " + attrTimestamp + ", " + attrStatus + ", " + attrReconciliation + "." + attrResourceHash
