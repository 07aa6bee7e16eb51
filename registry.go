package llmio

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/skosovsky/llmio"

// Registry holds tools and executes them with timeout, semaphore, and optional panic recovery.
// Tools are registered once during setup and resolved by name for every call.
type Registry struct {
	tools       map[string]Tool // wrapped with middlewares, used by Invoke
	rawTools    map[string]Tool // unwrapped, used by Use() to re-apply middlewares from scratch
	order       []string        // registration order
	sem         chan struct{}
	opts        registryOptions
	tracer      trace.Tracer
	done        chan struct{}
	running     sync.WaitGroup
	mu          sync.Mutex
	middlewares []Middleware
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		timeout:        30 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
		sem:      sem,
		opts:     o,
		tracer:   tp.Tracer(instrumentationName),
		done:     make(chan struct{}),
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied to the tool before registration.
// It returns a *SchemaError for a nil or unnamed tool or one declaring more than one context
// parameter, and a *DuplicateToolError if the name is taken.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return &SchemaError{Err: errors.New("tool must not be nil")}
	}
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return &SchemaError{Tool: name, Err: errors.New("tool name must not be empty")}
	}
	if tm, ok := t.(ToolMetadata); ok {
		n := 0
		for _, p := range tm.Params() {
			if p.Context {
				n++
			}
		}
		if n > 1 {
			return &SchemaError{Tool: name, Err: fmt.Errorf("%d context parameters declared, at most one allowed", n)}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rawTools[name]; ok {
		return &DuplicateToolError{Name: name}
	}
	r.rawTools[name] = t
	r.order = append(r.order, name)
	r.tools[name] = r.decorate(t)
	return nil
}

// MustRegister registers tools and panics on the first error. Intended for setup code.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Tools returns all registered tools (after middlewares are applied) in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// GetTool returns the tool with the given name (after middlewares are applied), or (nil, false) if not found.
func (r *Registry) GetTool(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the model-visible schemas of all tools in registration order.
// Context parameters are removed even if a custom Tool leaks them into Parameters().
func (r *Registry) Schemas() []ToolSchema {
	tools := r.Tools()
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  modelParameters(t),
		})
	}
	return out
}

// Resolve returns the definition of a registered tool or an *UnknownToolError.
func (r *Registry) Resolve(name string) (Definition, error) {
	t, ok := r.GetTool(name)
	if !ok {
		return Definition{}, &UnknownToolError{Name: name}
	}
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Mode:        modeOf(t),
		Tool:        t,
	}
	if tm, ok := t.(ToolMetadata); ok {
		def.Params = tm.Params()
	} else {
		def.Params = paramsFromMap(t.Parameters())
	}
	return def, nil
}

// Invoke runs one tool call. It never fails: unknown tools, invalid arguments, tool errors,
// panics and timeouts are reported in Result.Err and rendered into Result.Content so the
// model can react. The after-execution hook (WithOnAfterExecute) always runs.
func (r *Registry) Invoke(ctx context.Context, call ToolCall, caller any) (res Result) {
	res = Result{CallID: call.ID, ToolName: call.ToolName}
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "llmio.tool", trace.WithAttributes(
		attribute.String("llmio.tool.name", call.ToolName),
		attribute.String("llmio.tool.call_id", call.ID),
	))
	defer func() {
		if res.Err != nil {
			res.Content = ErrorText(res.Err)
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		if r.opts.onAfter != nil {
			r.opts.onAfter(ctx, call, res, time.Since(start))
		}
	}()

	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		res.Err = &ToolExecutionError{Tool: call.ToolName, Err: ErrShutdown}
		return res
	default:
	}
	t, ok := r.tools[call.ToolName]
	if !ok {
		r.mu.Unlock()
		res.Err = &UnknownToolError{Name: call.ToolName}
		return res
	}
	r.running.Add(1)
	r.mu.Unlock()
	defer r.running.Done()

	if err := ctx.Err(); err != nil {
		res.Err = cancelledError(call.ToolName, err)
		return res
	}
	if err := r.acquireSemaphore(ctx); err != nil {
		res.Err = cancelledError(call.ToolName, err)
		return res
	}
	defer r.releaseSemaphore()

	timeout := r.opts.timeout
	if tm, ok := t.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if r.opts.onBefore != nil {
		r.opts.onBefore(ctx, call)
	}
	out, err := r.run(execCtx, t, call, caller)
	if err != nil {
		res.Err = classifyError(ctx, execCtx, call.ToolName, timeout, err)
		return res
	}
	res.Content = out
	return res
}

// InvokeBatch runs the calls of one assistant turn and returns their results in request
// order. With parallel set the calls fan out (bounded by WithMaxConcurrency); otherwise
// they run one after another.
func (r *Registry) InvokeBatch(ctx context.Context, calls []ToolCall, caller any, parallel bool) []Result {
	results := make([]Result, len(calls))
	if !parallel || len(calls) < 2 {
		for i, call := range calls {
			results[i] = r.Invoke(ctx, call, caller)
		}
		return results
	}
	var g errgroup.Group
	if r.opts.maxConcurrency > 0 {
		g.SetLimit(r.opts.maxConcurrency)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.Invoke(ctx, call, caller)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run dispatches by execution mode. Async tools run on their own goroutine; when ctx
// ends first the call returns and the body is left to finish cooperatively.
func (r *Registry) run(ctx context.Context, t Tool, call ToolCall, caller any) (string, error) {
	if modeOf(t) == ModeSync {
		return r.safeExecute(ctx, t, call, caller)
	}
	type outcome struct {
		out string
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		out, err := r.safeExecute(ctx, t, call, caller)
		ch <- outcome{out: out, err: err}
	}()
	select {
	case o := <-ch:
		return o.out, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Registry) safeExecute(ctx context.Context, t Tool, call ToolCall, caller any) (out string, err error) {
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				out = ""
				err = &ToolExecutionError{Tool: call.ToolName, Err: &panicError{p: p}}
			}
		}()
	}
	return t.Execute(ctx, call.Args, caller)
}

func (r *Registry) acquireSemaphore(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) releaseSemaphore() {
	if r.sem != nil {
		<-r.sem
	}
}

// Shutdown closes the registry for new calls and waits for in-flight executions or ctx to cancel.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
		close(r.done)
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyError maps a failed execution onto the error taxonomy: a deadline hit only by the
// per-tool timeout is ErrTimeout, a cancelled caller context is ErrCancelled.
func classifyError(parent, execCtx context.Context, name string, timeout time.Duration, err error) error {
	if parent.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return cancelledError(name, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &ToolExecutionError{Tool: name, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
	}
	return wrapHandlerError(name, err)
}

func cancelledError(name string, cause error) error {
	return &ToolExecutionError{Tool: name, Err: fmt.Errorf("%w: %w", ErrCancelled, cause)}
}

func modeOf(t Tool) Mode {
	if tm, ok := t.(ToolMetadata); ok {
		return tm.Mode()
	}
	return ModeSync
}

// modelParameters returns t.Parameters() without any context parameter.
func modelParameters(t Tool) map[string]any {
	params := t.Parameters()
	tm, ok := t.(ToolMetadata)
	if !ok {
		return params
	}
	var hidden []string
	for _, p := range tm.Params() {
		if p.Context {
			hidden = append(hidden, p.Name)
		}
	}
	props, ok := params["properties"].(map[string]any)
	if len(hidden) == 0 || !ok {
		return params
	}
	leaked := false
	for _, name := range hidden {
		if _, ok := props[name]; ok {
			leaked = true
		}
	}
	if !leaked {
		return params
	}
	params = maps.Clone(params)
	props = maps.Clone(props)
	for _, name := range hidden {
		delete(props, name)
	}
	params["properties"] = props
	if req, ok := params["required"].([]any); ok {
		params["required"] = slices.DeleteFunc(slices.Clone(req), func(v any) bool {
			s, _ := v.(string)
			return slices.Contains(hidden, s)
		})
	}
	return params
}

// panicError wraps a recovered panic value; used by Registry and the WithRecovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
