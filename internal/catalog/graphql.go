package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

// GraphQLClient is the one concrete Client implementation this repository
// ships: a thin HTTP client that POSTs fixed query documents and decodes
// the handful of fields the rest of the codebase depends on. The query
// surface is small and stable enough that a full GraphQL client library
// would buy nothing over net/http and encoding/json.
type GraphQLClient struct {
	Endpoint string
	Token    string
	HTTP     *http.Client
}

// NewGraphQLClient constructs a GraphQLClient against endpoint, sending
// token as a bearer credential if non-empty.
func NewGraphQLClient(endpoint, token string) *GraphQLClient {
	return &GraphQLClient{Endpoint: endpoint, Token: token, HTTP: http.DefaultClient}
}

var _ Client = (*GraphQLClient)(nil)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

func (c *GraphQLClient) do(ctx context.Context, query string, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return fmt.Errorf("catalog: encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("catalog: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: unexpected status %d: %s", resp.StatusCode, respBody)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return fmt.Errorf("catalog: decoding response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("catalog: query returned errors: %s", gqlResp.Errors[0].Message)
	}

	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("catalog: decoding data: %w", err)
	}
	return nil
}

const namespacesQuery = `{
  namespaces: namespace_v1 {
    cluster { name }
    name
    environment { name }
    app { name }
    managedExternalResources
    externalResources {
      provider
      provisioner { name automationToken { path field version } defaultRegion }
      resources
    }
  }
}`

type namespacesPayload struct {
	Namespaces []struct {
		Cluster struct {
			Name string `json:"name"`
		} `json:"cluster"`
		Name        string `json:"name"`
		Environment struct {
			Name string `json:"name"`
		} `json:"environment"`
		App struct {
			Name string `json:"name"`
		} `json:"app"`
		ManagedExternalResources bool `json:"managedExternalResources"`
		ExternalResources        []struct {
			Provider    string           `json:"provider"`
			Provisioner map[string]any   `json:"provisioner"`
			Resources   []map[string]any `json:"resources"`
		} `json:"externalResources"`
	} `json:"namespaces"`
}

// GetNamespaces implements Client. The field names above mirror the shape
// every app-sre qontract-reconcile consumer expects from a namespace_v1
// query; resource-level parsing of the free-form `resources` documents into
// ResourceBlocks happens in the inventory package, which is schema-aware.
func (c *GraphQLClient) GetNamespaces(ctx context.Context) ([]NamespaceDoc, error) {
	var payload namespacesPayload
	if err := c.do(ctx, namespacesQuery, &payload); err != nil {
		return nil, err
	}

	docs := make([]NamespaceDoc, 0, len(payload.Namespaces))
	for _, ns := range payload.Namespaces {
		doc := NamespaceDoc{
			ClusterName:              ns.Cluster.Name,
			Name:                     ns.Name,
			EnvironmentName:          ns.Environment.Name,
			AppName:                  ns.App.Name,
			ManagedExternalResources: ns.ManagedExternalResources,
		}
		for _, er := range ns.ExternalResources {
			for _, res := range er.Resources {
				doc.ExternalResources = append(doc.ExternalResources, resourceBlockFrom(er.Provider, er.Provisioner, res))
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func resourceBlockFrom(provider string, provisioner map[string]any, res map[string]any) ResourceBlock {
	provisionerName, _ := provisioner["name"].(string)
	identifier, _ := res["identifier"].(string)
	provisionProvider, _ := res["provisioner"].(string)
	deleteFlag, _ := res["delete"].(bool)
	managed, ok := res["managed_by_erv2"].(bool)
	if !ok {
		managed = true
	}
	overrides, _ := res["module_overrides"].(map[string]any)

	return ResourceBlock{
		ProvisionProvider: provisionProvider,
		ProvisionerName:   provisionerName,
		Provider:          provider,
		Identifier:        identifier,
		Attributes:        res,
		Delete:            deleteFlag,
		ManagedByERV2:     managed,
		ModuleOverrides:   overrides,
	}
}

const modulesQuery = `{
  modules: external_resources_module_v1 {
    provisionProvider: provision_provider
    provider
    image
    version
    outputsSecretImage: outputs_secret_image
    outputsSecretVersion: outputs_secret_version
    defaultDriftMinutes: reconcile_drift_interval_minutes
    defaultTimeoutMinutes: reconcile_timeout_minutes
    resources { requests limits }
  }
}`

type modulesPayload struct {
	Modules []struct {
		ProvisionProvider     string `json:"provisionProvider"`
		Provider              string `json:"provider"`
		Image                 string `json:"image"`
		Version               string `json:"version"`
		OutputsSecretImage    string `json:"outputsSecretImage"`
		OutputsSecretVersion  string `json:"outputsSecretVersion"`
		DefaultDriftMinutes   int    `json:"defaultDriftMinutes"`
		DefaultTimeoutMinutes int    `json:"defaultTimeoutMinutes"`
		Resources             struct {
			Requests map[string]string `json:"requests"`
			Limits   map[string]string `json:"limits"`
		} `json:"resources"`
	} `json:"modules"`
}

// GetModules implements Client.
func (c *GraphQLClient) GetModules(ctx context.Context) ([]Module, error) {
	var payload modulesPayload
	if err := c.do(ctx, modulesQuery, &payload); err != nil {
		return nil, err
	}

	modules := make([]Module, 0, len(payload.Modules))
	for _, m := range payload.Modules {
		modules = append(modules, Module{
			ProvisionProvider:     m.ProvisionProvider,
			Provider:              m.Provider,
			Image:                 m.Image,
			Version:               m.Version,
			OutputsSecretImage:    m.OutputsSecretImage,
			OutputsSecretVersion:  m.OutputsSecretVersion,
			DefaultDriftMinutes:   m.DefaultDriftMinutes,
			DefaultTimeoutMinutes: m.DefaultTimeoutMinutes,
			Resources: model.ResourceRequirements{
				Requests: m.Resources.Requests,
				Limits:   m.Resources.Limits,
			},
		})
	}
	return modules, nil
}

const settingsQuery = `{
  settings: external_resources_settings_v1 {
    stateDynamoDBAccountName: state_dynamodb_account { name }
    stateDynamoDBRegion: state_dynamodb_region
    stateDynamoDBTable: state_dynamodb_table
    workersClusterName: workers_cluster { name }
    workersNamespaceName: workers_namespace { name }
    imagePullSecretName: image_pull_secret_name
  }
}`

type settingsPayload struct {
	Settings []struct {
		StateDynamoDBAccountName struct {
			Name string `json:"name"`
		} `json:"stateDynamoDBAccountName"`
		StateDynamoDBRegion string `json:"stateDynamoDBRegion"`
		StateDynamoDBTable  string `json:"stateDynamoDBTable"`
		WorkersClusterName  struct {
			Name string `json:"name"`
		} `json:"workersClusterName"`
		WorkersNamespaceName struct {
			Name string `json:"name"`
		} `json:"workersNamespaceName"`
		ImagePullSecretName string `json:"imagePullSecretName"`
	} `json:"settings"`
}

// GetSettings implements Client. The catalog models settings as a
// singleton list, matching qontract-schema's convention for global
// settings objects; the first entry is authoritative.
func (c *GraphQLClient) GetSettings(ctx context.Context) (Settings, error) {
	var payload settingsPayload
	if err := c.do(ctx, settingsQuery, &payload); err != nil {
		return Settings{}, err
	}
	if len(payload.Settings) == 0 {
		return Settings{}, fmt.Errorf("catalog: no external_resources_settings_v1 object found")
	}

	s := payload.Settings[0]
	return Settings{
		StateDynamoDBAccountName: s.StateDynamoDBAccountName.Name,
		StateDynamoDBRegion:      s.StateDynamoDBRegion,
		StateDynamoDBTable:       s.StateDynamoDBTable,
		WorkersClusterName:       s.WorkersClusterName.Name,
		WorkersNamespaceName:     s.WorkersNamespaceName.Name,
		ImagePullSecretName:      s.ImagePullSecretName,
	}, nil
}

const awsAccountsQuery = `{
  accounts: awsaccounts_v1 {
    name
    resourcesDefaultRegion: resources_default_region
    automationToken: automation_token { path field version }
  }
}`

type awsAccountsPayload struct {
	Accounts []struct {
		Name                   string `json:"name"`
		ResourcesDefaultRegion string `json:"resourcesDefaultRegion"`
		AutomationToken        struct {
			Path    string `json:"path"`
			Field   string `json:"field"`
			Version int    `json:"version"`
		} `json:"automationToken"`
	} `json:"accounts"`
}

// GetAWSAccount implements Client. The catalog has no by-name filter on
// awsaccounts_v1, so the full account list is fetched and the match
// selected here, the same way qontract consumers do it.
func (c *GraphQLClient) GetAWSAccount(ctx context.Context, name string) (AWSAccount, error) {
	var payload awsAccountsPayload
	if err := c.do(ctx, awsAccountsQuery, &payload); err != nil {
		return AWSAccount{}, err
	}

	for _, acc := range payload.Accounts {
		if acc.Name != name {
			continue
		}
		return AWSAccount{
			Name:                   acc.Name,
			ResourcesDefaultRegion: acc.ResourcesDefaultRegion,
			AutomationToken: secretreader.Ref{
				Path:    acc.AutomationToken.Path,
				Field:   acc.AutomationToken.Field,
				Version: acc.AutomationToken.Version,
			},
		}, nil
	}
	return AWSAccount{}, fmt.Errorf("catalog: no AWS account named %q", name)
}
