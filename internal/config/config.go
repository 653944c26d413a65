package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/logger"
)

type Config struct {
	// Dataset settings
	DatasetDir             string   `env:"DATASET_DIR" envDefault:"testdata"`
	ExpectedDir            string   `env:"EXPECTED_DIR"` // defaults to <DATASET_DIR>/expected
	Operation              string   `env:"OPERATION" envDefault:"CLEAN_INSERT"`
	TableOrdering          string   `env:"TABLE_ORDERING" envDefault:"AUTO"`
	LoadOrderFile          string   `env:"LOAD_ORDER_FILE" envDefault:"load-order.txt"`
	ScenarioMarker         string   `env:"SCENARIO_MARKER" envDefault:"[Scenario]"`
	Scenarios              []string `env:"SCENARIOS" envSeparator:","`
	MergeStrategy          string   `env:"MERGE_STRATEGY" envDefault:"UNION_ALL"`
	QuoteIdentifiers       bool     `env:"QUOTE_IDENTIFIERS" envDefault:"false"`
	ComparisonSettingsFile string   `env:"COMPARISON_SETTINGS_FILE"`
	DataSourceName         string   `env:"DATA_SOURCE_NAME" envDefault:"default"`

	// Connection retry (connect only; statements are never retried)
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`

	// Connection Pool
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`

	// Observability & Debugging
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode           bool   `env:"DEBUG_MODE" envDefault:"false"`
	EnableJsonLogging   bool   `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	EnableMetricsServer bool   `env:"ENABLE_METRICS_SERVER" envDefault:"false"`
	EnablePprof         bool   `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort         int    `env:"METRICS_PORT" envDefault:"9091"`

	// Secret management
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"https://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN"`
	VaultCACert     string `env:"VAULT_CACERT"`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	VaultMountPath  string `env:"VAULT_MOUNT_PATH" envDefault:"secret"`
	DBSecretPath    string `env:"DB_SECRET_PATH"`
	DBUsernameKey   string `env:"DB_USERNAME_KEY" envDefault:"username"`
	DBPasswordKey   string `env:"DB_PASSWORD_KEY" envDefault:"password"`

	DB DatabaseConfig `envPrefix:"DB_"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT,required"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"0"` // 0 means the dialect default
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	DBName   string `env:"DBNAME,required"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, dberrors.Configuration("config parsing error", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that env tags cannot express and fills derived
// defaults. Errors match dberrors.ErrConfiguration.
func Validate(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return dberrors.Configuration("invalid configuration", err)
	}
	return nil
}

func validate(cfg *Config) error {
	cfg.DB.Dialect = strings.ToLower(strings.TrimSpace(cfg.DB.Dialect))
	allowedDialects := map[string]bool{"mysql": true, "postgres": true, "sqlite": true}
	if !allowedDialects[cfg.DB.Dialect] {
		return fmt.Errorf("invalid database dialect: %q. Valid options: %v", cfg.DB.Dialect, getMapKeys(allowedDialects))
	}

	if cfg.DB.Port == 0 {
		cfg.DB.Port = defaultPort(cfg.DB.Dialect)
	}
	if cfg.DB.Dialect != "sqlite" {
		if err := validatePort(cfg.DB.Port, "database"); err != nil {
			return err
		}
	}
	if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
		return err
	}

	if _, err := dataset.ParseOperation(cfg.Operation); err != nil {
		return err
	}
	if _, err := dataset.ParseTableOrderingStrategy(cfg.TableOrdering); err != nil {
		return err
	}
	if _, err := dataset.ParseMergeStrategy(cfg.MergeStrategy); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.DatasetDir) == "" {
		return fmt.Errorf("dataset directory must not be empty")
	}
	if cfg.ExpectedDir == "" {
		cfg.ExpectedDir = filepath.Join(cfg.DatasetDir, "expected")
	}
	if strings.TrimSpace(cfg.DataSourceName) == "" {
		return fmt.Errorf("data source name must not be empty")
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}

	validSSL := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if isSSLModeRelevant(cfg.DB.Dialect) && !validSSL[strings.ToLower(cfg.DB.SSLMode)] {
		return fmt.Errorf("invalid SSL mode: %s", cfg.DB.SSLMode)
	}

	if cfg.VaultEnabled && cfg.VaultAddr == "" {
		return fmt.Errorf("VAULT_ADDR is required when VAULT_ENABLED=true")
	}
	return nil
}

func validatePort(port int, name string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

func defaultPort(dialect string) int {
	switch dialect {
	case "mysql":
		return 3306
	case "postgres":
		return 5432
	}
	return 0
}

func getMapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isSSLModeRelevant(dialect string) bool {
	switch dialect {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
