// Package awsaccount resolves a catalog AWS account into static SDK
// credentials: the account is looked up by name, its automation-token
// secret is read through the secret reader, and the access-key pair found
// there becomes an aws.CredentialsProvider for client construction. This
// is how the manager authenticates against the state-store account when
// the catalog names one, instead of relying on the process's own ambient
// credential chain.
package awsaccount

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

const (
	accessKeyIDField     = "aws_access_key_id"
	secretAccessKeyField = "aws_secret_access_key"
)

// Credentials carries the resolved credential provider plus the account's
// default region, which callers use as a region fallback when the catalog
// settings leave it unset.
type Credentials struct {
	Provider aws.CredentialsProvider
	Region   string
}

// Resolve looks up accountName in the catalog and turns its
// automation-token secret into static credentials.
func Resolve(ctx context.Context, client catalog.Client, reader secretreader.Reader, accountName string) (Credentials, error) {
	account, err := client.GetAWSAccount(ctx, accountName)
	if err != nil {
		return Credentials{}, fmt.Errorf("awsaccount: looking up account %q: %w", accountName, err)
	}

	fields, err := reader.ReadAll(ctx, account.AutomationToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("awsaccount: reading automation token for %q: %w", accountName, err)
	}

	keyID, ok := fields[accessKeyIDField]
	if !ok || keyID == "" {
		return Credentials{}, fmt.Errorf("awsaccount: automation token for %q has no %s", accountName, accessKeyIDField)
	}
	secretKey, ok := fields[secretAccessKeyField]
	if !ok || secretKey == "" {
		return Credentials{}, fmt.Errorf("awsaccount: automation token for %q has no %s", accountName, secretAccessKeyField)
	}

	return Credentials{
		Provider: credentials.NewStaticCredentialsProvider(keyID, secretKey, ""),
		Region:   account.ResourcesDefaultRegion,
	}, nil
}
