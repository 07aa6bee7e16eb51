package llmio

import (
	"context"
	"log/slog"
	"time"
)

// Middleware decorates a Tool. Registry.Use applies middlewares to every registered tool.
type Middleware func(Tool) Tool

// executeFunc is the signature of Tool.Execute.
type executeFunc func(ctx context.Context, argsJSON []byte, caller any) (string, error)

// WithLogging logs each execution of the tool with its duration, at Info on success and
// Error on failure. A nil logger means slog.Default().
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Tool) Tool {
		name := next.Name()
		return wrap(next, func(ctx context.Context, args []byte, caller any) (string, error) {
			logger.InfoContext(ctx, "tool start", "tool", name, "args_bytes", len(args))
			start := time.Now()
			out, err := next.Execute(ctx, args, caller)
			if err != nil {
				logger.ErrorContext(ctx, "tool error", "tool", name, "duration", time.Since(start), "error", err)
				return "", err
			}
			logger.InfoContext(ctx, "tool end", "tool", name, "duration", time.Since(start), "result_bytes", len(out))
			return out, nil
		})
	}
}

// WithRecovery turns a panic of the tool into a *ToolExecutionError. Registries recover
// panics on their own unless built with WithRecoverPanics(false).
func WithRecovery() Middleware {
	return func(next Tool) Tool {
		return wrap(next, func(ctx context.Context, args []byte, caller any) (out string, err error) {
			defer func() {
				if p := recover(); p != nil {
					out, err = "", &ToolExecutionError{Tool: next.Name(), Err: &panicError{p: p}}
				}
			}()
			return next.Execute(ctx, args, caller)
		})
	}
}

// WithTimeoutMiddleware bounds every execution of the tool by d and reports d as the tool's
// Timeout, so the registry applies it instead of its default. Zero or negative d is a no-op.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Tool) Tool {
		if d <= 0 {
			return next
		}
		w := wrap(next, func(ctx context.Context, args []byte, caller any) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Execute(ctx, args, caller)
		})
		w.timeout = d
		return w
	}
}

// wrappedTool replaces Execute of next and forwards everything else, ToolMetadata included.
type wrappedTool struct {
	next    Tool
	exec    executeFunc
	timeout time.Duration
}

func wrap(next Tool, exec executeFunc) *wrappedTool {
	return &wrappedTool{next: next, exec: exec}
}

func (w *wrappedTool) Name() string               { return w.next.Name() }
func (w *wrappedTool) Description() string        { return w.next.Description() }
func (w *wrappedTool) Parameters() map[string]any { return w.next.Parameters() }

func (w *wrappedTool) Execute(ctx context.Context, args []byte, caller any) (string, error) {
	return w.exec(ctx, args, caller)
}

func (w *wrappedTool) Mode() Mode { return modeOf(w.next) }

func (w *wrappedTool) Timeout() time.Duration {
	if w.timeout > 0 {
		return w.timeout
	}
	if tm, ok := w.next.(ToolMetadata); ok {
		return tm.Timeout()
	}
	return 0
}

func (w *wrappedTool) Params() []Param {
	if tm, ok := w.next.(ToolMetadata); ok {
		return tm.Params()
	}
	return paramsFromMap(w.next.Parameters())
}

// Use sets the middleware chain of the registry; the first middleware is the outermost.
// The chain is rebuilt from the undecorated tools, so calling Use again replaces it rather
// than stacking. Tools registered later are decorated too.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, raw := range r.rawTools {
		r.tools[name] = r.decorate(raw)
	}
}

// decorate applies the middleware chain to t. The caller holds r.mu.
func (r *Registry) decorate(t Tool) Tool {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		t = r.middlewares[i](t)
	}
	return t
}
