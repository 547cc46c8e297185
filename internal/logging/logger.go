// Package logging defines the structured-logging interface shared by the
// firebox server and sync client, plus the slog-backed implementation.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key/value pairs, e.g.:
//
//	log.Info(ctx, "chunk confirmed", "file_id", fileID, "part", n)
//
// Pairs attached to ctx with ContextWith are appended to every record.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key/value pairs.
	With(args ...any) Logger
}

type ctxKey struct{}

// ContextWith returns a copy of ctx carrying extra key/value pairs for the
// logger, e.g. the request id of an API call or the file being reconciled.
// Pairs already on ctx are kept.
func ContextWith(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev := fromContext(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

func fromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	args, _ := ctx.Value(ctxKey{}).([]any)
	return args
}
