package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/resolve"
)

// ElastiCacheResourceFactory implements the "elasticache" resource type.
type ElastiCacheResourceFactory struct{}

var _ factory.ResourceFactory = (*ElastiCacheResourceFactory)(nil)

func (ElastiCacheResourceFactory) Resolve(_ context.Context, spec model.Spec, _ model.ModuleConfiguration) (map[string]any, error) {
	values, err := resolverFor(spec, true).Resolve()
	if err != nil {
		return nil, err
	}

	replicationGroupID, _ := values["replication_group_id"].(string)
	if replicationGroupID == "" {
		replicationGroupID = spec.Identifier()
		values["replication_group_id"] = replicationGroupID
	}

	if clusterMode, ok := values["cluster_mode"].(map[string]any); ok {
		for k, v := range clusterMode {
			values[k] = v
		}
		delete(values, "cluster_mode")
	}

	if pg, ok := values["parameter_group"].(map[string]any); ok {
		pgData, err := resolve.Values(pg)
		if err != nil {
			return nil, err
		}
		name, _ := pgData["name"].(string)
		pgData["name"] = prefixedParameterGroupName(replicationGroupID, name)
		values["parameter_group"] = pgData
	}

	return values, nil
}

func prefixedParameterGroupName(replicationGroupID, name string) string {
	if name == "" {
		return replicationGroupID
	}
	return fmt.Sprintf("%s-%s", replicationGroupID, name)
}

func (ElastiCacheResourceFactory) Validate(_ context.Context, resource model.Resource, _ model.ModuleConfiguration) error {
	replicationGroupID, _ := resource.Values["replication_group_id"].(string)

	explicitName, hasExplicit := resource.Values["parameter_group_name"].(string)
	if !hasExplicit || explicitName == "" {
		return nil
	}

	pg, _ := resource.Values["parameter_group"].(map[string]any)
	declaredName, _ := pg["name"].(string)
	// Resolve has normally prefixed parameter_group.name already; prefix
	// only a name that does not carry the replication_group_id yet.
	expected := declaredName
	if declaredName != replicationGroupID && !strings.HasPrefix(declaredName, replicationGroupID+"-") {
		expected = prefixedParameterGroupName(replicationGroupID, declaredName)
	}

	if explicitName != expected {
		return &model.ValidationError{
			Key:  resource.Key,
			Rule: "parameter_group_name",
			Cause: fmt.Errorf(
				"explicit parameter_group_name %q does not match replication_group_id-prefixed name %q",
				explicitName, expected,
			),
		}
	}
	return nil
}
