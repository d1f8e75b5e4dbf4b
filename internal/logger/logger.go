// Package logger provides structured logging with context propagation for
// the kline mirror. It builds slog loggers from configuration, supports
// rotating file output, and carries run/item identity through contexts so
// every log line within an item names its symbol and timeframe.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/johnayoung/go-kline-mirror/internal/config"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// RunIDKey is the context key for the sync run ID
	RunIDKey ContextKey = "run_id"
	// SymbolKey is the context key for the exchange symbol
	SymbolKey ContextKey = "symbol"
	// TimeframeKey is the context key for the interval label
	TimeframeKey ContextKey = "timeframe"
	// RequestIDKey is the context key for HTTP request IDs
	RequestIDKey ContextKey = "request_id"
)

// Manager builds and owns the application's loggers.
type Manager struct {
	baseLogger     *slog.Logger
	config         config.LoggingConfig
	writer         io.WriteCloser
	componentCache map[string]*slog.Logger
}

// NewManager creates a logger manager from the logging configuration.
func NewManager(cfg config.LoggingConfig) (*Manager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &Manager{
		baseLogger:     slog.New(handler),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}, nil
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		return nopWriteCloser{os.Stdout}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogger returns the base logger instance.
func (m *Manager) GetLogger() *slog.Logger {
	return m.baseLogger
}

// GetComponentLogger returns a logger carrying a component attribute.
func (m *Manager) GetComponentLogger(component string) *slog.Logger {
	if cached, exists := m.componentCache[component]; exists {
		return cached
	}
	componentLogger := m.baseLogger.With(slog.String("component", component))
	m.componentCache[component] = componentLogger
	return componentLogger
}

// Close releases the log writer.
func (m *Manager) Close() error {
	if m.writer != nil {
		return m.writer.Close()
	}
	return nil
}

// NewRunID generates the identifier for one sync run.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSymbol adds an exchange symbol to the context
func WithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, SymbolKey, symbol)
}

// WithTimeframe adds an interval label to the context
func WithTimeframe(ctx context.Context, timeframe string) context.Context {
	return context.WithValue(ctx, TimeframeKey, timeframe)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// FromContext returns base enriched with every identity attribute found
// in the context. With nothing in the context it returns base unchanged.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}

// extractContextAttributes extracts logging attributes from context
func extractContextAttributes(ctx context.Context) []any {
	var attrs []any
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}
	if symbol, ok := ctx.Value(SymbolKey).(string); ok && symbol != "" {
		attrs = append(attrs, slog.String("symbol", symbol))
	}
	if timeframe, ok := ctx.Value(TimeframeKey).(string); ok && timeframe != "" {
		attrs = append(attrs, slog.String("timeframe", timeframe))
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	return attrs
}

// GetRunID extracts the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}
