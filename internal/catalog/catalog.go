// Package catalog declares the narrow, typed query contract the rest of the
// codebase depends on for catalog access. GraphQLClient (graphql.go) is the
// production implementation; callers may inject any other Client
// implementation.
package catalog

import (
	"context"

	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

// ResourceBlock is one declared external resource within a namespace's
// provider block, as enumerated by the inventory.
type ResourceBlock struct {
	ProvisionProvider string
	ProvisionerName   string
	Provider          string
	Identifier        string
	Attributes        map[string]any
	Delete            bool
	ManagedByERV2     bool
	ModuleOverrides   map[string]any
	NamespaceSelector *model.NamespaceSelector
}

// NamespaceDoc is a catalog namespace carrying zero or more external
// resource declarations.
type NamespaceDoc struct {
	ClusterName              string
	Name                     string
	EnvironmentName          string
	AppName                  string
	ManagedExternalResources bool
	ExternalResources        []ResourceBlock
	// Raw is the namespace's full document, used for JSONPath
	// include/exclude evaluation when a ResourceBlock's NamespaceSelector
	// needs to test this namespace as a candidate target.
	Raw map[string]any
}

// Module describes one provision-provider/provider module's catalog
// metadata.
type Module struct {
	ProvisionProvider     string
	Provider              string
	Image                 string
	Version               string
	OutputsSecretImage    string
	OutputsSecretVersion  string
	DefaultDriftMinutes   int
	DefaultTimeoutMinutes int
	Resources             model.ResourceRequirements
}

// Settings is the global configuration resolved from the catalog.
type Settings struct {
	StateDynamoDBAccountName string
	StateDynamoDBRegion      string
	StateDynamoDBTable       string
	WorkersClusterName       string
	WorkersNamespaceName     string
	ImagePullSecretName      string
}

// AWSAccount is a catalog AWS account carrying the reference to its
// automation-token secret, through which the manager authenticates against
// that account (the state-store account in particular).
type AWSAccount struct {
	Name                   string
	ResourcesDefaultRegion string
	AutomationToken        secretreader.Ref
}

// Client is the catalog query contract consumed by the inventory and
// manager construction path.
type Client interface {
	GetNamespaces(ctx context.Context) ([]NamespaceDoc, error)
	GetModules(ctx context.Context) ([]Module, error)
	GetSettings(ctx context.Context) (Settings, error)
	GetAWSAccount(ctx context.Context, name string) (AWSAccount, error)
}
