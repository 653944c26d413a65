package logger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

var (
	Log        *zap.Logger = zap.NewNop()
	gormLogger GormLoggerInterface
)

// GormLoggerInterface defines the interface for our GormLogger
type GormLoggerInterface interface {
	gormlogger.Interface
}

// GormLogger routes GORM's logging through zap.
type GormLogger struct {
	*zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
	redactors     []*regexp.Regexp
}

var sensitiveWords = []string{"password", "token", "secret", "apikey", "credential"}

// ParseLevel maps a LOG_LEVEL value to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Init initializes the global Zap logger and the GORM logger wrapper.
// debug forces debug level and a colored console encoder; otherwise level
// applies. jsonOutput controls whether logs are formatted as JSON.
func Init(level zapcore.Level, debug bool, jsonOutput bool) error {
	var config zap.Config
	var encoderConfig zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		level = zapcore.DebugLevel
	} else {
		config = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		config.DisableCaller = true
	}
	config.Level = zap.NewAtomicLevelAt(level)

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.NameKey = "logger"
	encoderConfig.MessageKey = "msg"
	encoderConfig.StacktraceKey = "stacktrace"
	if !config.DisableCaller {
		encoderConfig.CallerKey = "caller"
	}

	config.EncoderConfig = encoderConfig
	config.DisableStacktrace = !debug
	if jsonOutput {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
	}

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}
	Log = built

	gormLogger = NewGormLogger(Log, debug)
	Log.Info("Logger initialized",
		zap.Bool("debug_mode", debug),
		zap.Bool("json_output", jsonOutput),
		zap.String("log_level", level.String()),
	)
	return nil
}

// NewGormLogger wraps base for GORM. In debug mode every statement is traced.
func NewGormLogger(base *zap.Logger, debug bool) GormLoggerInterface {
	gormLevel := gormlogger.Warn
	if debug {
		gormLevel = gormlogger.Info
	}

	redactors := make([]*regexp.Regexp, 0, len(sensitiveWords))
	for _, word := range sensitiveWords {
		redactors = append(redactors,
			regexp.MustCompile(fmt.Sprintf(`(?i)(%s\s*[:=]\s*)('.*?'|".*?"|\S+)`, regexp.QuoteMeta(word))))
	}

	return &GormLogger{
		Logger:        base.Named("gorm"),
		LogLevel:      gormLevel,
		SlowThreshold: 200 * time.Millisecond,
		redactors:     redactors,
	}
}

// LogMode sets the GORM log level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error(fmt.Sprintf(msg, data...))
	}
}

// Redact masks values assigned to sensitive keys in a SQL string.
func (l *GormLogger) Redact(sql string) string {
	for _, re := range l.redactors {
		sql = re.ReplaceAllString(sql, `${1}***REDACTED***`)
	}
	return sql
}

// Trace logs SQL queries and execution details.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("duration_ms", elapsed.Round(time.Millisecond)),
		zap.String("sql", l.Redact(sql)),
	}
	if rows > -1 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		// callers log the wrapped failure
		l.Logger.Debug("SQL Error", append(fields, zap.Error(err))...)
	case elapsed > l.SlowThreshold && l.SlowThreshold > 0 && l.LogLevel >= gormlogger.Warn:
		l.Logger.Warn("Slow Query", append(fields, zap.Duration("threshold", l.SlowThreshold))...)
	case l.LogLevel >= gormlogger.Info:
		l.Logger.Debug("SQL Query", fields...)
	}
}

// GetGormLogger returns the GORM logger built by Init, or a warn-level one
// over the current global logger when Init was not called (tests).
func GetGormLogger() GormLoggerInterface {
	if gormLogger == nil {
		return NewGormLogger(Log, false)
	}
	return gormLogger
}
