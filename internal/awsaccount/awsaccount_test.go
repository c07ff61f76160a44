package awsaccount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/catalog/catalogtest"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
	"github.com/app-sre/external-resources-manager/internal/secretreader/secretreadertest"
)

func fixtureClient() *catalogtest.Client {
	return &catalogtest.Client{
		AWSAccounts: []catalog.AWSAccount{
			{
				Name:                   "app-sre-state",
				ResourcesDefaultRegion: "us-east-1",
				AutomationToken:        secretreader.Ref{Path: "app-sre/creds/state", Field: "all", Version: 2},
			},
		},
	}
}

func TestResolveBuildsStaticCredentialsFromAutomationToken(t *testing.T) {
	reader := &secretreadertest.Reader{Fields: map[string]map[string]string{
		"app-sre/creds/state": {
			"aws_access_key_id":     "AKIAEXAMPLE",
			"aws_secret_access_key": "wJalrXUtnFEMI",
		},
	}}

	creds, err := Resolve(context.Background(), fixtureClient(), reader, "app-sre-state")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", creds.Region)

	resolved, err := creds.Provider.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", resolved.AccessKeyID)
	assert.Equal(t, "wJalrXUtnFEMI", resolved.SecretAccessKey)
}

func TestResolveFailsOnUnknownAccount(t *testing.T) {
	reader := &secretreadertest.Reader{}
	_, err := Resolve(context.Background(), fixtureClient(), reader, "no-such-account")
	require.Error(t, err)
}

func TestResolveFailsOnIncompleteToken(t *testing.T) {
	reader := &secretreadertest.Reader{Fields: map[string]map[string]string{
		"app-sre/creds/state": {"aws_access_key_id": "AKIAEXAMPLE"},
	}}
	_, err := Resolve(context.Background(), fixtureClient(), reader, "app-sre-state")
	require.ErrorContains(t, err, "aws_secret_access_key")
}
