package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// larkSlogLogger routes SDK logs into slog.
type larkSlogLogger struct {
	log *slog.Logger
}

func newLarkSlogLogger(log *slog.Logger) *larkSlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &larkSlogLogger{log: log.With(slog.String("sdk", "lark"))}
}

func (l *larkSlogLogger) Debug(ctx context.Context, args ...interface{}) {
	l.log.DebugContext(ctx, larkMessage(args))
}

func (l *larkSlogLogger) Info(ctx context.Context, args ...interface{}) {
	l.log.InfoContext(ctx, larkMessage(args))
}

func (l *larkSlogLogger) Warn(ctx context.Context, args ...interface{}) {
	l.log.WarnContext(ctx, larkMessage(args))
}

func (l *larkSlogLogger) Error(ctx context.Context, args ...interface{}) {
	l.log.ErrorContext(ctx, larkMessage(args))
}

func larkMessage(args []interface{}) string {
	return strings.TrimSpace(fmt.Sprint(args...))
}
