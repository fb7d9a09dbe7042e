package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type correlationIDKey struct{}

// NewLogger builds the JSON production logger. Every entry carries the
// service name so shared log pipelines can tell coordinator instances apart.
func NewLogger(level string, service string) (*zap.Logger, error) {
	atomicLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	// Lost-completion reports repeat by nature and must never be sampled away.
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	if service = strings.TrimSpace(service); service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zap.AtomicLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = zapcore.InfoLevel.String()
	}

	parsed, err := zap.ParseAtomicLevel(normalized)
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey{}, strings.TrimSpace(correlationID))
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	correlationID, _ := ctx.Value(correlationIDKey{}).(string)
	return correlationID, correlationID != ""
}

// WithContextLogger attaches the request or message correlation id, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// BatchLogger scopes a logger to one batch and the request or message that touched it.
func BatchLogger(logger *zap.Logger, ctx context.Context, batchID string) *zap.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(append(contextFields(ctx), zap.String("batchId", batchID))...)
}

func contextFields(ctx context.Context) []zap.Field {
	correlationID, ok := CorrelationIDFromContext(ctx)
	if !ok {
		return nil
	}
	return []zap.Field{zap.String("correlationId", correlationID)}
}
