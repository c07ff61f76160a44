package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/app-sre/external-resources-manager/internal/awsaccount"
	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/config"
	"github.com/app-sre/external-resources-manager/internal/factory"
	awsfactory "github.com/app-sre/external-resources-manager/internal/factory/aws"
	"github.com/app-sre/external-resources-manager/internal/factory/cloudflare"
	"github.com/app-sre/external-resources-manager/internal/inventory"
	"github.com/app-sre/external-resources-manager/internal/jobcontroller"
	"github.com/app-sre/external-resources-manager/internal/jobreconciler"
	"github.com/app-sre/external-resources-manager/internal/manager"
	"github.com/app-sre/external-resources-manager/internal/metrics"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
	"github.com/app-sre/external-resources-manager/internal/secretsync"
	"github.com/app-sre/external-resources-manager/internal/state"
)

// RunCommand builds the "run" subcommand: the one long-running entry point
// that assembles every collaborator and drives the control loop.
func RunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the external resources control loop.",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.Bind(cmd)
		},
		RunE: doRun,
	}
	config.RegisterFlags(runCmd)
	return runCmd
}

func doRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	config.LogResolvedFlags(cmd, func(name, value string) {
		log.V(1).Info("resolved flag", "name", name, "value", value)
	})

	if cfg.DryRun && cfg.DryRunJobSuffix == "" {
		// Unset --dry-run-job-suffix gets a random one so two concurrent
		// dry-run invocations (e.g. two open PRs) never collide on job names.
		cfg.DryRunJobSuffix = uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := buildManager(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("building manager: %w", err)
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr, log)
	defer stopMetrics()

	if cfg.DryRun {
		return runDryRun(ctx, mgr, cfg, log)
	}
	return runLoop(ctx, mgr, cfg, log)
}

// buildManager constructs every collaborator and wires them into a
// manager.Manager: catalog client, settings, module list, namespace
// inventory, secret reader, AWS clients for the state store, job
// reconciler, secret synchroniser, then the manager itself.
func buildManager(ctx context.Context, cfg config.Config, log logr.Logger) (*manager.Manager, error) {
	catalogClient := catalog.NewGraphQLClient(cfg.CatalogEndpoint, cfg.CatalogToken)

	settings, err := catalogClient.GetSettings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching catalog settings")
	}
	modules, err := catalogClient.GetModules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching catalog modules")
	}

	inv, err := inventory.Build(ctx, catalogClient)
	if err != nil {
		return nil, errors.Wrap(err, "building inventory")
	}

	workersCluster := settings.WorkersClusterName
	if cfg.WorkersCluster != "" {
		workersCluster = cfg.WorkersCluster
	}
	workersNamespace := settings.WorkersNamespaceName
	if cfg.WorkersNamespace != "" {
		workersNamespace = cfg.WorkersNamespace
	}
	log.Info("resolved worker target", "cluster", workersCluster, "namespace", workersNamespace)

	secretReader, err := buildSecretReader(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "building secret reader")
	}

	awsCfg, err := loadAWSConfig(ctx, catalogClient, secretReader, settings, log)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}
	if err := logCallerIdentity(ctx, awsCfg, log); err != nil {
		return nil, errors.Wrap(err, "checking AWS credentials")
	}

	store := state.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), settings.StateDynamoDBTable, log)

	kubeClient, err := buildKubeClient(cfg.Kubeconfig)
	if err != nil {
		return nil, errors.Wrap(err, "building kube client")
	}

	jobController := jobcontroller.NewK8sController(kubeClient, workersNamespace, log)
	reconciler := jobreconciler.NewReconciler(jobController, kubeClient, jobreconciler.Config{
		WorkerNamespace:     workersNamespace,
		ImagePullSecretName: settings.ImagePullSecretName,
		DryRunSuffix:        cfg.DryRunJobSuffix,
	}, cfg.DryRun)

	sync := secretsync.New(kubeClient, workersNamespace, cfg.ThreadPoolSize, log)

	factories := factory.NewRegistry[factory.ExternalResourceFactory]()
	factories.Register("aws", awsfactory.NewExternalResourceFactory(
		inv,
		&awsfactory.RDSEngineVersionCatalog{Client: rds.NewFromConfig(awsCfg)},
		secretReader,
		cfg.AWSSupportedRegions,
	))
	factories.Register("cloudflare", cloudflare.NewExternalResourceFactory(secretReader))

	metricsRecorder := metrics.New(prometheus.DefaultRegisterer)

	mgr := manager.New(inv, factories, modules, store, reconciler, sync, metricsRecorder, log)
	return mgr, nil
}

func buildSecretReader(cfg config.Config) (secretreader.Reader, error) {
	if cfg.VaultAddr == "" {
		return nil, fmt.Errorf("--%s is required", config.FlagVaultAddr)
	}
	return secretreader.NewVaultReader(cfg.VaultAddr, cfg.VaultToken, cfg.SecretCacheSize)
}

// buildKubeClient returns an in-cluster clientset, or one built from
// kubeconfigPath for local development when it is non-empty.
func buildKubeClient(kubeconfigPath string) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfigPath != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("loading kube config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

// loadAWSConfig builds the AWS config every SDK client shares. When the
// catalog settings name a state-store account, that account's
// automation-token credentials are resolved through the secret reader and
// installed as a static provider; otherwise the default credential chain
// applies. The settings region wins over the account's default region.
func loadAWSConfig(ctx context.Context, catalogClient catalog.Client, secretReader secretreader.Reader, settings catalog.Settings, log logr.Logger) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	region := settings.StateDynamoDBRegion

	if settings.StateDynamoDBAccountName != "" {
		creds, err := awsaccount.Resolve(ctx, catalogClient, secretReader, settings.StateDynamoDBAccountName)
		if err != nil {
			return aws.Config{}, err
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(creds.Provider))
		if region == "" {
			region = creds.Region
		}
		log.Info("using catalog AWS account credentials", "account", settings.StateDynamoDBAccountName)
	}

	opts = append(opts, awsconfig.WithRegion(region))
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// logCallerIdentity calls sts:GetCallerIdentity as a startup sanity check:
// a misconfigured credential chain fails fast here with a clear error
// rather than surfacing as a confusing DynamoDB/RDS access-denied deep
// inside the first control-loop pass.
func logCallerIdentity(ctx context.Context, awsCfg aws.Config, log logr.Logger) error {
	out, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return err
	}
	log.Info("AWS credentials verified", "account", aws.ToString(out.Account), "arn", aws.ToString(out.Arn))
	return nil
}

func newLogger(level string) (logr.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return logr.Logger{}, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	zapLog, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("building zap logger: %w", err)
	}
	logrLog := zapr.NewLogger(zapLog)
	// Give controller-runtime's package logger the same logr logger. klog
	// output (client-go's transport warnings) is not redirected by this
	// and still goes to klog's default writer.
	ctrllog.SetLogger(logrLog)
	return logrLog, nil
}

func serveMetrics(addr string, log logr.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "metrics server stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runLoop(ctx context.Context, mgr *manager.Manager, cfg config.Config, log logr.Logger) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		result, err := mgr.Run(ctx)
		if err != nil {
			log.Error(err, "control loop pass failed")
			return err
		}
		for key, verr := range result.ValidationErrors {
			log.Info("validation error", "key", key.String(), "error", verr.Error())
		}
		for key, perr := range result.ProcessingErrors {
			log.Info("processing error", "key", key.String(), "error", perr.Error())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runDryRun(ctx context.Context, mgr *manager.Manager, cfg config.Config, log logr.Logger) error {
	results, err := mgr.RunDryRun(ctx, cfg.ThreadPoolSize, cfg.JobCheckInterval, cfg.JobWaitTimeout)
	if err != nil {
		return fmt.Errorf("dry run: %w", err)
	}

	failed := false
	for _, r := range results {
		log.Info("dry-run result", "key", r.Key.String(), "action", r.Action, "status", r.Status)
		if r.Status != model.ReconcileSuccess {
			failed = true
			fmt.Print(r.Logs)
		}
	}
	if failed {
		return fmt.Errorf("dry run: one or more reconciliations did not succeed")
	}
	return nil
}
