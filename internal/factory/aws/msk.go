package aws

import (
	"context"
	"fmt"

	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

// MSKResourceFactory implements the "msk" (Managed Streaming for Kafka)
// resource type.
type MSKResourceFactory struct {
	SecretReader secretreader.Reader
}

var _ factory.ResourceFactory = (*MSKResourceFactory)(nil)

func (f *MSKResourceFactory) Resolve(ctx context.Context, spec model.Spec, _ model.ModuleConfiguration) (map[string]any, error) {
	values, err := resolverFor(spec, true).Resolve()
	if err != nil {
		return nil, err
	}

	scramUsers := map[string]any{}
	values["scram_users"] = scramUsers
	if !scramEnabled(values) {
		return values, nil
	}

	users, _ := values["users"].([]any)
	if len(users) == 0 {
		return nil, &model.ValidationError{
			Key:   spec.Key,
			Rule:  "users",
			Cause: fmt.Errorf("users attribute must be given when client_authentication.sasl.scram is enabled"),
		}
	}
	for _, u := range users {
		userRef, ok := u.(map[string]any)
		if !ok {
			continue
		}
		name, _ := userRef["name"].(string)
		ref, err := secretRefOf(userRef["secret"])
		if err != nil {
			return nil, &model.ValidationError{Key: spec.Key, Rule: "users", Cause: fmt.Errorf("user %q: %w", name, err)}
		}
		fields, err := secretFields(ctx, f.SecretReader, spec.Key, ref)
		if err != nil {
			return nil, err
		}
		scramUsers[name] = fields
	}
	delete(values, "users")

	return values, nil
}

// secretRefOf accepts both forms a user's secret reference takes in the
// catalog: a full {path, field, version} object, or a bare path string.
func secretRefOf(v any) (secretreader.Ref, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return secretreader.Ref{}, fmt.Errorf("secret reference is empty")
		}
		return secretreader.Ref{Path: t}, nil
	case map[string]any:
		path, _ := t["path"].(string)
		if path == "" {
			return secretreader.Ref{}, fmt.Errorf("secret reference has no path")
		}
		field, _ := t["field"].(string)
		version := 0
		if n, err := asInt(t["version"]); err == nil {
			version = n
		}
		return secretreader.Ref{Path: path, Field: field, Version: version}, nil
	default:
		return secretreader.Ref{}, fmt.Errorf("unsupported secret reference type %T", v)
	}
}

func scramEnabled(values map[string]any) bool {
	auth, _ := values["client_authentication"].(map[string]any)
	if auth == nil {
		return false
	}
	sasl, _ := auth["sasl"].(map[string]any)
	if sasl == nil {
		return false
	}
	scram, _ := sasl["scram"].(bool)
	return scram
}

func (f *MSKResourceFactory) Validate(_ context.Context, resource model.Resource, _ model.ModuleConfiguration) error {
	if err := validateBrokerCount(resource); err != nil {
		return err
	}
	return validateScramUsers(resource)
}

func validateBrokerCount(resource model.Resource) error {
	nodesRaw, ok := resource.Values["number_of_broker_nodes"]
	if !ok {
		return nil
	}
	nodes, err := asInt(nodesRaw)
	if err != nil {
		return &model.ValidationError{Key: resource.Key, Rule: "number_of_broker_nodes", Cause: err}
	}

	info, _ := resource.Values["broker_node_group_info"].(map[string]any)
	subnets, _ := info["client_subnets"].([]any)
	if len(subnets) == 0 {
		return &model.ValidationError{Key: resource.Key, Rule: "number_of_broker_nodes", Cause: fmt.Errorf("broker_node_group_info.client_subnets is empty")}
	}

	if nodes%len(subnets) != 0 {
		return &model.ValidationError{Key: resource.Key, Rule: "number_of_broker_nodes", Cause: fmt.Errorf("number_of_broker_nodes (%d) must be a multiple of len(client_subnets) (%d)", nodes, len(subnets))}
	}
	return nil
}

func validateScramUsers(resource model.Resource) error {
	scramUsers, ok := resource.Values["scram_users"].(map[string]any)
	if !ok {
		return nil
	}
	for username, fieldsRaw := range scramUsers {
		fields, ok := fieldsRaw.(map[string]string)
		if !ok {
			return &model.ValidationError{Key: resource.Key, Rule: "scram_users", Cause: fmt.Errorf("user %q: secret fields not resolved to a string map", username)}
		}
		if len(fields) != 2 {
			return &model.ValidationError{Key: resource.Key, Rule: "scram_users", Cause: fmt.Errorf("user %q: secret must contain exactly {username, password}, got %d fields", username, len(fields))}
		}
		if _, ok := fields["username"]; !ok {
			return &model.ValidationError{Key: resource.Key, Rule: "scram_users", Cause: fmt.Errorf("user %q: secret missing username field", username)}
		}
		if _, ok := fields["password"]; !ok {
			return &model.ValidationError{Key: resource.Key, Rule: "scram_users", Cause: fmt.Errorf("user %q: secret missing password field", username)}
		}
	}
	return nil
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
