package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type correlationIDKey struct{}

type attemptIDKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithCorrelationID tags the context with the telephony correlation id (the
// SIP Call-ID once signaling reports it).
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

// WithAttemptID tags the context with the call attempt being worked on.
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, attemptIDKey{}, attemptID)
}

func AttemptIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	attemptID, ok := ctx.Value(attemptIDKey{}).(string)
	if !ok || attemptID == "" {
		return "", false
	}

	return attemptID, true
}

// WithContextLogger returns the logger enriched with every tracing field the
// context carries.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		logger = logger.With(zap.String("correlationId", correlationID))
	}
	if attemptID, ok := AttemptIDFromContext(ctx); ok {
		logger = logger.With(zap.String("attemptId", attemptID))
	}

	return logger
}
