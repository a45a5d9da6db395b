package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger using uber-go/zap. Bound fields are
// converted once at binding time, not on every emit.
type ZapLogger struct {
	logger *zap.Logger
	bound  []zap.Field
}

// NewZapLogger creates a zap-based logger from config
func NewZapLogger(config Config) (*ZapLogger, error) {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	core := zapcore.NewCore(
		encoderFor(config.Format),
		zapcore.AddSync(output),
		toZapLevel(config.Level),
	)
	return &ZapLogger{logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}, nil
}

func encoderFor(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	if format == "text" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop()}
}

func (l *ZapLogger) emit(level zapcore.Level, msg string, fields []Field) {
	entry := l.logger.Check(level, msg)
	if entry == nil {
		return
	}
	all := make([]zap.Field, 0, len(l.bound)+len(fields))
	all = append(all, l.bound...)
	for _, f := range fields {
		all = append(all, zap.Any(f.Key, f.Value))
	}
	entry.Write(all...)
}

func (l *ZapLogger) Debug(msg string, fields ...Field) { l.emit(zapcore.DebugLevel, msg, fields) }
func (l *ZapLogger) Info(msg string, fields ...Field)  { l.emit(zapcore.InfoLevel, msg, fields) }
func (l *ZapLogger) Warn(msg string, fields ...Field)  { l.emit(zapcore.WarnLevel, msg, fields) }
func (l *ZapLogger) Error(msg string, fields ...Field) { l.emit(zapcore.ErrorLevel, msg, fields) }

// With returns a logger carrying additional bound fields
func (l *ZapLogger) With(fields ...Field) Logger {
	bound := make([]zap.Field, len(l.bound), len(l.bound)+len(fields))
	copy(bound, l.bound)
	for _, f := range fields {
		bound = append(bound, zap.Any(f.Key, f.Value))
	}
	return &ZapLogger{logger: l.logger, bound: bound}
}

// WithContext binds the correlation, tenant, and agent IDs carried by
// the context, when present
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}

	var fields []Field
	for _, pair := range []struct {
		key   string
		value string
	}{
		{"correlation_id", CorrelationID(ctx)},
		{"tenant_id", TenantID(ctx)},
		{"agent_id", AgentID(ctx)},
	} {
		if pair.value != "" {
			fields = append(fields, String(pair.key, pair.value))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
