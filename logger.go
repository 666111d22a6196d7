package simdext

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with build-specific helpers.
// Field names are kept consistent across the pipeline.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that writes human-readable lines to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that writes JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithVariant tags records with a variant name.
func (l *Logger) WithVariant(name string) *Logger {
	return &Logger{Logger: l.Logger.With("variant", name)}
}

// LogProbe logs the outcome of a capability probe.
// Assumed support is a warning: the binary compiled but could not be run.
func (l *Logger) LogProbe(ctx context.Context, r ProbeResult) {
	msg := "checking whether compiler can build " + r.Extension.Name + " code"
	if r.Outcome == OutcomeAssumed {
		l.WarnContext(ctx, msg,
			"result", r.Report(),
			"error", r.Err,
		)
		return
	}
	l.InfoContext(ctx, msg, "result", r.Report())
}

// LogFunctionCheck logs the outcome of a library function probe.
func (l *Logger) LogFunctionCheck(ctx context.Context, name string, ok bool) {
	result := "no"
	if ok {
		result = "yes"
	}
	l.InfoContext(ctx, "checking whether function "+name+" is available", "result", result)
}

// LogPlan logs the finalized build plan.
func (l *Logger) LogPlan(ctx context.Context, plan *BuildPlan) {
	names := make([]string, 0, plan.Len())
	for _, v := range plan.Variants() {
		names = append(names, v.Descriptor.Name)
	}
	l.InfoContext(ctx, "build plan finalized",
		"platform", plan.Platform.String(),
		"variants", strings.Join(names, ","),
	)
}

// LogVariant logs the result of building one variant.
func (l *Logger) LogVariant(ctx context.Context, r *VariantResult) {
	if r.Error != nil {
		l.ErrorContext(ctx, "variant build failed",
			"variant", r.Variant,
			"error", r.Error,
		)
		return
	}
	l.InfoContext(ctx, "variant built",
		"variant", r.Variant,
		"artifact", r.Artifact,
		"compiled", r.Compiled,
		"up_to_date", r.UpToDate,
	)
}
