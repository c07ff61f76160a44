// Package catalogtest provides a fixture-backed catalog.Client fake for
// tests that need to exercise inventory assembly without a real GraphQL
// client.
package catalogtest

import (
	"context"
	"fmt"

	"github.com/app-sre/external-resources-manager/internal/catalog"
)

// Client is a fixture-backed catalog.Client.
type Client struct {
	Namespaces  []catalog.NamespaceDoc
	Modules     []catalog.Module
	Settings    catalog.Settings
	AWSAccounts []catalog.AWSAccount
}

var _ catalog.Client = (*Client)(nil)

func (c *Client) GetNamespaces(_ context.Context) ([]catalog.NamespaceDoc, error) {
	return c.Namespaces, nil
}

func (c *Client) GetModules(_ context.Context) ([]catalog.Module, error) {
	return c.Modules, nil
}

func (c *Client) GetSettings(_ context.Context) (catalog.Settings, error) {
	return c.Settings, nil
}

func (c *Client) GetAWSAccount(_ context.Context, name string) (catalog.AWSAccount, error) {
	for _, acc := range c.AWSAccounts {
		if acc.Name == name {
			return acc, nil
		}
	}
	return catalog.AWSAccount{}, fmt.Errorf("no fixture AWS account named %q", name)
}
