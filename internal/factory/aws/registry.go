package aws

import (
	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

// NewRegistry builds the "aws" provision provider's ResourceFactory
// registry: rds, msk and elasticache get specializations, every other
// resource type (kms, cloudwatch, ...) falls back to the default factory.
func NewRegistry(inv InventoryLookup, engineCatalog EngineVersionCatalog, secretReader secretreader.Reader) *factory.Registry[factory.ResourceFactory] {
	reg := factory.NewRegistry[factory.ResourceFactory]()
	reg.SetDefault(DefaultResourceFactory{})
	reg.Register("rds", &RDSResourceFactory{Inventory: inv, EngineCatalog: engineCatalog, ProvisionProvider: "aws"})
	reg.Register("msk", &MSKResourceFactory{SecretReader: secretReader})
	reg.Register("elasticache", ElastiCacheResourceFactory{})
	return reg
}

// NewExternalResourceFactory constructs the AWS provision provider's
// ExternalResourceFactory with its per-resource-type registry installed.
func NewExternalResourceFactory(inv InventoryLookup, engineCatalog EngineVersionCatalog, secretReader secretreader.Reader, supportedRegions []string) *ExternalResourceFactory {
	regions := make(map[string]struct{}, len(supportedRegions))
	for _, r := range supportedRegions {
		regions[r] = struct{}{}
	}
	return &ExternalResourceFactory{
		Registry:         NewRegistry(inv, engineCatalog, secretReader),
		SupportedRegions: regions,
	}
}
