// Package config binds the manager's command-line flags, environment
// variables and an optional YAML overrides file into one typed Config.
// Flags are dashed, readable from the environment with underscores, and
// bound into viper from a cobra PreRunE.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// secretFlags never have their resolved value logged by LogResolvedFlags.
var secretFlags = map[string]bool{
	FlagCatalogToken: true,
	FlagVaultToken:   true,
}

// Flag names, bound to viper keys of the same name (dashes), readable from
// the environment with dashes replaced by underscores (e.g.
// --thread-pool-size / THREAD_POOL_SIZE).
const (
	FlagDryRun              = "dry-run"
	FlagDryRunJobSuffix     = "dry-run-job-suffix"
	FlagThreadPoolSize      = "thread-pool-size"
	FlagPollInterval        = "poll-interval"
	FlagJobCheckInterval    = "job-check-interval"
	FlagJobWaitTimeout      = "job-wait-timeout"
	FlagWorkersCluster      = "workers-cluster"
	FlagWorkersNamespace    = "workers-namespace"
	FlagCatalogEndpoint     = "catalog-endpoint"
	FlagCatalogToken        = "catalog-token"
	FlagVaultAddr           = "vault-addr"
	FlagVaultToken          = "vault-token"
	FlagSecretCacheSize     = "secret-cache-size"
	FlagKubeconfig          = "kubeconfig"
	FlagMetricsAddr         = "metrics-addr"
	FlagAWSSupportedRegions = "aws-supported-regions"
	FlagConfigFile          = "config-file"
	FlagLogLevel            = "log-level"
)

// RegisterFlags installs every flag above on cmd, with the defaults a live
// deployment would want. Dry-run mode is the --dry-run flag of the same
// command, not a separate subcommand.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool(FlagDryRun, false, "Review changes without dispatching live jobs or advancing state.")
	flags.String(FlagDryRunJobSuffix, "", "Suffix distinguishing this dry-run invocation's job names from another's.")
	flags.Int(FlagThreadPoolSize, 10, "Worker pool size for dry-run job dispatch and log fetch.")
	flags.Duration(FlagPollInterval, 30*time.Second, "Delay between control-loop passes in live mode.")
	flags.Duration(FlagJobCheckInterval, 10*time.Second, "Polling interval while waiting for dry-run jobs to complete.")
	flags.Duration(FlagJobWaitTimeout, 30*time.Minute, "Maximum time to wait for dry-run jobs to complete; <0 means no timeout.")
	flags.String(FlagWorkersCluster, "", "Override the catalog-declared worker cluster name.")
	flags.String(FlagWorkersNamespace, "", "Override the catalog-declared worker namespace name.")
	flags.String(FlagCatalogEndpoint, "", "GraphQL endpoint of the configuration catalog.")
	flags.String(FlagCatalogToken, "", "Bearer token for the configuration catalog.")
	flags.String(FlagVaultAddr, "", "Vault address for the secret reader.")
	flags.String(FlagVaultToken, "", "Vault token for the secret reader.")
	flags.Int(FlagSecretCacheSize, 256, "Maximum distinct secret paths cached by the secret reader.")
	flags.String(FlagKubeconfig, "", "Path to a kubeconfig file; empty uses in-cluster config.")
	flags.String(FlagMetricsAddr, ":9090", "Address the /metrics endpoint listens on.")
	flags.StringSlice(FlagAWSSupportedRegions, nil, "AWS regions resources may declare; empty disables the check.")
	flags.String(FlagConfigFile, "", "Optional YAML file of setting overrides, applied on top of flags/env.")
	flags.String(FlagLogLevel, "info", "Zap log level: debug, info, warn, error.")
}

// Overrides is the shape of an optional YAML settings file, matching
// settings.go's Plan pattern of a typed struct round-tripped through
// yaml.v3. Every field is optional; a present field overrides the
// flag/env-sourced value of the same name.
type Overrides struct {
	WorkersCluster   string `yaml:"workersCluster"`
	WorkersNamespace string `yaml:"workersNamespace"`
	MetricsAddr      string `yaml:"metricsAddr"`
}

// Config is the fully-resolved set of values the manager's bootstrap needs.
type Config struct {
	DryRun              bool
	DryRunJobSuffix     string
	ThreadPoolSize      int
	PollInterval        time.Duration
	JobCheckInterval    time.Duration
	JobWaitTimeout      time.Duration
	WorkersCluster      string
	WorkersNamespace    string
	CatalogEndpoint     string
	CatalogToken        string
	VaultAddr           string
	VaultToken          string
	SecretCacheSize     int
	Kubeconfig          string
	MetricsAddr         string
	AWSSupportedRegions []string
	LogLevel            string
}

// Bind enables dashed-flag/underscore-env translation and binds cmd's
// flags into viper. Call from a cobra PreRunE.
func Bind(cmd *cobra.Command) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("config: binding flags: %w", err)
	}
	viper.AutomaticEnv()
	return nil
}

// Load reads every bound flag/env value into a Config, then applies an
// optional YAML overrides file named by --config-file on top.
func Load() (Config, error) {
	cfg := Config{
		DryRun:              viper.GetBool(FlagDryRun),
		DryRunJobSuffix:     viper.GetString(FlagDryRunJobSuffix),
		ThreadPoolSize:      viper.GetInt(FlagThreadPoolSize),
		PollInterval:        viper.GetDuration(FlagPollInterval),
		JobCheckInterval:    viper.GetDuration(FlagJobCheckInterval),
		JobWaitTimeout:      viper.GetDuration(FlagJobWaitTimeout),
		WorkersCluster:      viper.GetString(FlagWorkersCluster),
		WorkersNamespace:    viper.GetString(FlagWorkersNamespace),
		CatalogEndpoint:     viper.GetString(FlagCatalogEndpoint),
		CatalogToken:        viper.GetString(FlagCatalogToken),
		VaultAddr:           viper.GetString(FlagVaultAddr),
		VaultToken:          viper.GetString(FlagVaultToken),
		SecretCacheSize:     viper.GetInt(FlagSecretCacheSize),
		Kubeconfig:          viper.GetString(FlagKubeconfig),
		MetricsAddr:         viper.GetString(FlagMetricsAddr),
		AWSSupportedRegions: viper.GetStringSlice(FlagAWSSupportedRegions),
		LogLevel:            viper.GetString(FlagLogLevel),
	}

	path := viper.GetString(FlagConfigFile)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var overrides Overrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if overrides.WorkersCluster != "" {
		cfg.WorkersCluster = overrides.WorkersCluster
	}
	if overrides.WorkersNamespace != "" {
		cfg.WorkersNamespace = overrides.WorkersNamespace
	}
	if overrides.MetricsAddr != "" {
		cfg.MetricsAddr = overrides.MetricsAddr
	}

	return cfg, nil
}

// LogResolvedFlags reports every flag's value as viper resolves it
// (command line, then environment, then default) at startup, redacting
// FlagCatalogToken/FlagVaultToken. Values from the --config-file overrides
// are not reflected.
func LogResolvedFlags(cmd *cobra.Command, log func(name, value string)) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		value := fmt.Sprint(viper.Get(f.Name))
		if secretFlags[f.Name] && value != "" {
			value = "<redacted>"
		}
		log(f.Name, value)
	})
}
