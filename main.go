package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/compare"
	"github.com/arwahdevops/dbtester/internal/config"
	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/loader"
	"github.com/arwahdevops/dbtester/internal/logger"
	"github.com/arwahdevops/dbtester/internal/metrics"
	"github.com/arwahdevops/dbtester/internal/secrets"
	"github.com/arwahdevops/dbtester/internal/server"
	"github.com/arwahdevops/dbtester/internal/tester"
)

const (
	exitOK          = 0
	exitError       = 1
	exitDifferences = 2
)

var (
	modeFlag          string
	datasetOverride   string
	expectedOverride  string
	operationOverride string
	orderingOverride  string
	scenarioOverride  string
	settingsOverride  string
)

func main() {
	flag.StringVar(&modeFlag, "mode", "prepare", "prepare: apply the dataset; verify: compare the database with the expected dataset")
	flag.StringVar(&datasetOverride, "dataset", "", "Override DATASET_DIR")
	flag.StringVar(&expectedOverride, "expected", "", "Override EXPECTED_DIR")
	flag.StringVar(&operationOverride, "operation", "", "Override OPERATION (e.g. CLEAN_INSERT, REFRESH)")
	flag.StringVar(&orderingOverride, "ordering", "", "Override TABLE_ORDERING (AUTO, LOAD_ORDER_FILE, FOREIGN_KEY, ALPHABETICAL)")
	flag.StringVar(&scenarioOverride, "scenario", "", "Override SCENARIOS (comma-separated)")
	flag.StringVar(&settingsOverride, "settings", "", "Override COMPARISON_SETTINGS_FILE")
	flag.Parse()

	os.Exit(run())
}

func run() int {
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: could not load .env file: %v. Relying on environment variables.\n", err)
	}

	preCfg := &struct {
		EnableJsonLogging bool   `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool   `env:"DEBUG_MODE" envDefault:"false"`
		LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Printf("Failed to parse pre-configuration for logger: %v", err)
		return exitError
	}
	level, err := logger.ParseLevel(preCfg.LogLevel)
	if err != nil {
		stdlog.Printf("Invalid LOG_LEVEL: %v", err)
		return exitError
	}
	if err := logger.Init(level, preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Printf("Failed to initialize logger: %v", err)
		return exitError
	}
	defer func() { _ = logger.Log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Error("Configuration loading error", zap.Error(err))
		return exitError
	}
	applyCliOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		logger.Log.Error("Invalid configuration after CLI overrides", zap.Error(err))
		return exitError
	}
	mode := strings.ToLower(strings.TrimSpace(modeFlag))
	if mode != "prepare" && mode != "verify" {
		logger.Log.Error("Invalid -mode", zap.String("mode", modeFlag), zap.Strings("allowed", []string{"prepare", "verify"}))
		return exitError
	}
	logLoadedConfig(cfg, mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsStore := metrics.NewMetricsStore()
	registry := db.Global()
	defer func() {
		if err := registry.CloseAll(); err != nil {
			logger.Log.Error("Error closing data sources", zap.Error(err))
		}
	}()

	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		logger.Log.Error("Failed to load database credentials", zap.Error(err))
		return exitError
	}

	conn, err := db.ConnectWithRetry(ctx, cfg.DB, creds.Username, creds.Password, db.RetryOptions{
		MaxRetries: cfg.MaxRetries,
		Interval:   cfg.RetryInterval,
		Label:      cfg.DataSourceName,
	}, metricsStore, logger.Log)
	if err != nil {
		logger.Log.Error("Failed to establish database connection", zap.Error(err))
		return exitError
	}
	if err := conn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		logger.Log.Warn("Failed to optimize DB pool", zap.Error(err))
	}
	if err := registry.RegisterDefault(conn); err != nil {
		logger.Log.Error("Failed to register data source", zap.Error(err))
		return exitError
	}
	if err := registry.Register(cfg.DataSourceName, conn); err != nil {
		logger.Log.Error("Failed to register data source", zap.Error(err))
		return exitError
	}

	if cfg.EnableMetricsServer {
		go server.RunHTTPServer(ctx, server.Options{Port: cfg.MetricsPort, EnablePprof: cfg.EnablePprof}, metricsStore, registry, logger.Log)
	}

	settings, err := config.LoadComparisonSettings(cfg.ComparisonSettingsFile)
	if err != nil {
		logger.Log.Error("Failed to load comparison settings", zap.Error(err))
		return exitError
	}
	comparator, err := compare.NewComparatorFromSettings(settings, logger.Log, metricsStore)
	if err != nil {
		logger.Log.Error("Invalid comparison settings", zap.Error(err))
		return exitError
	}

	fsys, datasetDir, err := rootedPath(cfg.DatasetDir)
	if err != nil {
		logger.Log.Error("Invalid dataset directory", zap.Error(err))
		return exitError
	}
	_, expectedDir, err := rootedPath(cfg.ExpectedDir)
	if err != nil {
		logger.Log.Error("Invalid expected directory", zap.Error(err))
		return exitError
	}

	t := tester.New(registry, loader.New(fsys, cfg.ScenarioMarker, cfg.LoadOrderFile, logger.Log), comparator, logger.Log, metricsStore)
	t.QuoteIdentifiers = cfg.QuoteIdentifiers
	t.MergeStrategy, _ = dataset.ParseMergeStrategy(cfg.MergeStrategy)
	op, _ := dataset.ParseOperation(cfg.Operation)
	ordering, _ := dataset.ParseTableOrderingStrategy(cfg.TableOrdering)

	exitCode := exitOK
	switch mode {
	case "prepare":
		err = t.Prepare(ctx, tester.PrepareRequest{
			Dir:        datasetDir,
			Scenarios:  cfg.Scenarios,
			Operation:  op,
			Ordering:   ordering,
			DataSource: cfg.DataSourceName,
		})
		if err != nil {
			logger.Log.Error("Prepare failed", zap.Error(err), zap.String("sqlstate", dberrors.SQLState(err)))
			exitCode = exitError
		}
	case "verify":
		report, verr := t.Verify(ctx, tester.VerifyRequest{
			Dir:        expectedDir,
			Scenarios:  cfg.Scenarios,
			Ordering:   ordering,
			DataSource: cfg.DataSourceName,
		})
		switch {
		case errors.Is(verr, dberrors.ErrValidation) && report != nil:
			fmt.Fprintln(os.Stdout, report.String())
			exitCode = exitDifferences
		case verr != nil:
			logger.Log.Error("Verify failed", zap.Error(verr))
			exitCode = exitError
		default:
			fmt.Fprintln(os.Stdout, report.Summary())
		}
	}

	if cfg.EnableMetricsServer && ctx.Err() == nil {
		logger.Log.Info("Run finished; metrics server stays up until SIGINT or SIGTERM", zap.Int("exit_code", exitCode))
		<-ctx.Done()
	}
	logger.Log.Info("Exiting", zap.Int("exit_code", exitCode))
	return exitCode
}

// applyCliOverrides applies CLI flags on top of the environment.
func applyCliOverrides(cfg *config.Config) {
	if datasetOverride != "" {
		logger.Log.Info("Overriding DATASET_DIR with CLI flag", zap.String("env_value", cfg.DatasetDir), zap.String("cli_value", datasetOverride))
		if cfg.ExpectedDir == filepath.Join(cfg.DatasetDir, "expected") {
			cfg.ExpectedDir = ""
		}
		cfg.DatasetDir = datasetOverride
	}
	if expectedOverride != "" {
		cfg.ExpectedDir = expectedOverride
	}
	if operationOverride != "" {
		logger.Log.Info("Overriding OPERATION with CLI flag", zap.String("env_value", cfg.Operation), zap.String("cli_value", operationOverride))
		cfg.Operation = operationOverride
	}
	if orderingOverride != "" {
		logger.Log.Info("Overriding TABLE_ORDERING with CLI flag", zap.String("env_value", cfg.TableOrdering), zap.String("cli_value", orderingOverride))
		cfg.TableOrdering = orderingOverride
	}
	if scenarioOverride != "" {
		var scenarios []string
		for _, s := range strings.Split(scenarioOverride, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scenarios = append(scenarios, s)
			}
		}
		cfg.Scenarios = scenarios
	}
	if settingsOverride != "" {
		cfg.ComparisonSettingsFile = settingsOverride
	}
}

func logLoadedConfig(cfg *config.Config, mode string) {
	passSource := "not set"
	if cfg.DB.Password != "" {
		passSource = "env var"
	} else if cfg.VaultEnabled && cfg.DBSecretPath != "" {
		passSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.String("mode", mode),
		zap.String("dataset_dir", cfg.DatasetDir), zap.String("expected_dir", cfg.ExpectedDir),
		zap.String("operation", cfg.Operation), zap.String("table_ordering", cfg.TableOrdering),
		zap.Strings("scenarios", cfg.Scenarios), zap.String("scenario_marker", cfg.ScenarioMarker),
		zap.String("merge_strategy", cfg.MergeStrategy), zap.Bool("quote_identifiers", cfg.QuoteIdentifiers),
		zap.String("comparison_settings_file", cfg.ComparisonSettingsFile),
		zap.String("data_source", cfg.DataSourceName),
		zap.String("dialect", cfg.DB.Dialect), zap.String("host", cfg.DB.Host), zap.Int("port", cfg.DB.Port),
		zap.String("user", cfg.DB.User), zap.String("password_source", passSource),
		zap.String("dbname", cfg.DB.DBName), zap.String("sslmode", cfg.DB.SSLMode),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Int("conn_pool_size", cfg.ConnPoolSize), zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.Bool("metrics_server", cfg.EnableMetricsServer), zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("enable_pprof", cfg.EnablePprof),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("db_secret_path", cfg.DBSecretPath),
	)
}

// loadCredentials prefers DB_PASSWORD, then Vault. With no source
// configured at all the configured user connects without a password.
func loadCredentials(ctx context.Context, cfg *config.Config) (*secrets.Credentials, error) {
	providers := []secrets.Provider{secrets.EnvProvider{Username: cfg.DB.User, Password: cfg.DB.Password}}
	if cfg.VaultEnabled {
		vaultProvider, err := secrets.NewVaultProvider(cfg, logger.Log)
		if err != nil {
			return nil, err
		}
		if cfg.DBSecretPath == "" {
			logger.Log.Warn("VAULT_ENABLED is set but DB_SECRET_PATH is empty; Vault is not consulted")
		} else {
			providers = append(providers, vaultProvider)
		}
	}

	creds, err := secrets.Resolve(ctx, secrets.Request{
		Path:         cfg.DBSecretPath,
		UsernameKey:  cfg.DBUsernameKey,
		PasswordKey:  cfg.DBPasswordKey,
		FallbackUser: cfg.DB.User,
	}, logger.Log, providers...)
	if err == secrets.ErrNoCredentials {
		logger.Log.Info("No password configured; connecting with user only", zap.String("user", cfg.DB.User))
		return &secrets.Credentials{Username: cfg.DB.User}, nil
	}
	return creds, err
}

// rootedPath maps dir onto a filesystem rooted at its volume, so dataset
// and expected directories can live anywhere.
func rootedPath(dir string) (fs.FS, string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("cannot resolve %s: %w", dir, err)
	}
	root := filepath.VolumeName(abs) + string(filepath.Separator)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, "", fmt.Errorf("cannot resolve %s: %w", dir, err)
	}
	return os.DirFS(root), filepath.ToSlash(rel), nil
}
