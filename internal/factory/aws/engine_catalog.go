package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"
)

// RDSEngineVersionCatalog is the production EngineVersionCatalog,
// backed by rds.Client.DescribeDBEngineVersions' ValidUpgradeTarget list.
type RDSEngineVersionCatalog struct {
	Client *rds.Client
}

var _ EngineVersionCatalog = (*RDSEngineVersionCatalog)(nil)

func (c *RDSEngineVersionCatalog) ValidUpgradeTargets(ctx context.Context, engine, version string) ([]UpgradeTarget, error) {
	out, err := c.Client.DescribeDBEngineVersions(ctx, &rds.DescribeDBEngineVersionsInput{
		Engine:        &engine,
		EngineVersion: &version,
	})
	if err != nil {
		return nil, fmt.Errorf("describing db engine versions for %s/%s: %w", engine, version, err)
	}

	var targets []UpgradeTarget
	for _, ev := range out.DBEngineVersions {
		for _, t := range ev.ValidUpgradeTarget {
			if t.EngineVersion == nil {
				continue
			}
			targets = append(targets, UpgradeTarget{
				EngineVersion:         *t.EngineVersion,
				IsMajorVersionUpgrade: isMajorUpgrade(t),
			})
		}
	}
	return targets, nil
}

func isMajorUpgrade(t types.UpgradeTarget) bool {
	return t.IsMajorVersionUpgrade != nil && *t.IsMajorVersionUpgrade
}
