package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/watchfix/api/internal/platform/requestctx"
)

// LoggerOptions control the root logger.
type LoggerOptions struct {
	// Environment "local" switches to a coloured console encoder.
	Environment string
	// Level overrides LOG_LEVEL. Unknown values fall back to info.
	Level   string
	Service string
	Version string
}

// NewLogger builds the process logger. Outside local development it writes JSON lines whose keys
// match what Cloud Logging parses (severity, message, timestamp).
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	levelName := strings.TrimSpace(opts.Level)
	if levelName == "" {
		levelName = os.Getenv("LOG_LEVEL")
	}
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		level = zapcore.InfoLevel
	}

	local := strings.EqualFold(strings.TrimSpace(opts.Environment), "local")
	encoder := zap.NewProductionEncoderConfig()
	encoder.MessageKey = "message"
	encoder.TimeKey = "timestamp"
	encoder.LevelKey = "severity"
	encoder.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoder.EncodeLevel = severityEncoder
	encoding := "json"
	if local {
		encoding = "console"
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       local,
		Encoding:          encoding,
		EncoderConfig:     encoder,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !local,
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	var fields []zap.Field
	if opts.Service != "" {
		fields = append(fields, zap.String("service", opts.Service))
	}
	if opts.Version != "" {
		fields = append(fields, zap.String("version", opts.Version))
	}
	return logger.With(fields...), nil
}

// severityEncoder writes Cloud Logging severity names; zap's dpanic and fatal have no direct match.
func severityEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	default:
		enc.AppendString("EMERGENCY")
	}
}

// WithLogger stores the logger on the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the context logger or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// MigrateLogger lets golang-migrate report through zap.
type MigrateLogger struct {
	sugar   *zap.SugaredLogger
	verbose bool
}

func NewMigrateLogger(logger *zap.Logger, verbose bool) MigrateLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return MigrateLogger{sugar: logger.Sugar(), verbose: verbose}
}

func (m MigrateLogger) Printf(format string, args ...any) {
	m.sugar.Infof(strings.TrimRight(format, "\n"), args...)
}

func (m MigrateLogger) Verbose() bool { return m.verbose }
