package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/config"
	"github.com/arwahdevops/dbtester/internal/logger"
	"github.com/arwahdevops/dbtester/internal/metrics"
)

// RetryOptions controls ConnectWithRetry. Only connection establishment is
// retried; statements never are.
type RetryOptions struct {
	MaxRetries int
	Interval   time.Duration
	Label      string // data source name used in logs and metrics
}

// ConnectWithRetry opens and pings a connection, retrying on failure.
func ConnectWithRetry(
	ctx context.Context,
	dbCfg config.DatabaseConfig,
	username string,
	password string,
	opts RetryOptions,
	metricsStore *metrics.Store,
	log *zap.Logger,
) (*Connector, error) {
	log = log.With(zap.String("data_source", opts.Label))
	gl := logger.GetGormLogger()
	var lastErr error

	dsn, err := BuildDSN(dbCfg, username, password)
	if err != nil {
		connectionError(metricsStore, opts.Label, "dsn")
		return nil, err
	}

	for i := 0; i <= opts.MaxRetries; i++ {
		attemptStartTime := time.Now()
		if i > 0 {
			log.Warn("Retrying database connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", opts.MaxRetries+1),
				zap.Duration("wait_interval", opts.Interval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(opts.Interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				connectionError(metricsStore, opts.Label, "cancelled")
				return nil, fmt.Errorf("context cancelled while waiting to retry connection to %s (attempt %d): %w; last error: %v", opts.Label, i+1, ctx.Err(), lastErr)
			}
		}

		log.Info("Attempting to connect",
			zap.String("dialect", dbCfg.Dialect),
			zap.String("host", dbCfg.Host),
			zap.Int("port", dbCfg.Port),
			zap.String("dbname", dbCfg.DBName),
			zap.String("user", username),
			zap.Int("attempt", i+1))

		conn, err := New(dbCfg.Dialect, dsn, gl)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed: %w", i+1, opts.MaxRetries+1, err)
			continue
		}

		if pingErr := conn.Ping(ctx); pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed: %w", i+1, opts.MaxRetries+1, pingErr)
			_ = conn.Close()
			continue
		}

		log.Info("Database connection successful", zap.Duration("connect_duration", time.Since(attemptStartTime)))
		return conn, nil
	}

	log.Error("Failed to connect to database after all retries",
		zap.Int("attempts", opts.MaxRetries+1),
		zap.NamedError("final_error", lastErr))
	connectionError(metricsStore, opts.Label, "exhausted")
	return nil, fmt.Errorf("failed to connect to %s (%s at %s:%d) after %d attempts: %w",
		opts.Label, dbCfg.Dialect, dbCfg.Host, dbCfg.Port, opts.MaxRetries+1, lastErr)
}

func connectionError(s *metrics.Store, label, reason string) {
	if s == nil {
		return
	}
	s.ConnectionErrorsTotal.WithLabelValues(label, reason).Inc()
}

// BuildDSN renders the driver connection string for cfg.
func BuildDSN(cfg config.DatabaseConfig, username, password string) (string, error) {
	sslmode := strings.ToLower(cfg.SSLMode)

	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		sslParam := "tls=false"
		switch sslmode {
		case "", "disable":
		case "allow", "prefer":
			sslParam = "tls=skip-verify"
		default:
			sslParam = "tls=true"
		}
		// clientFoundRows makes UPDATE report matched rows, which REFRESH
		// relies on to decide between update and insert.
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true&timeout=10s&readTimeout=60s&writeTimeout=60s&%s",
			username, password, cfg.Host, cfg.Port, cfg.DBName, sslParam), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			cfg.Host, cfg.Port, username, password, cfg.DBName, sslmode), nil
	case "sqlite":
		return fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1&_busy_timeout=5000", cfg.DBName), nil
	default:
		return "", fmt.Errorf("could not build DSN: unsupported dialect %q", cfg.Dialect)
	}
}
