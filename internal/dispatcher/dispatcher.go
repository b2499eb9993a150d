// Package dispatcher implements the Dispatcher (spec §4.7, C9): the single
// entry point that looks a tool up by name, binds arguments through its
// envelope type, runs it under a per-category timeout, and normalizes every
// outcome — success, structured error, or panic — into the shared response
// shape. The lifecycle/shutdown-draining style is grounded on the teacher's
// pkg/server.Server (stopChan/doneChan pattern, graceful drain on Shutdown).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
	"github.com/jukasdrj/zen-mcp-server/internal/tool"
)

// tracer emits one span per dispatch; with no SDK configured this resolves
// to otel's no-op implementation, matching the teacher's pkg/observability
// NoopManager fallback.
var tracer = otel.Tracer("zen-mcp-server/dispatcher")

var (
	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zen_dispatch_total",
		Help: "Tool dispatches by tool name and outcome.",
	}, []string{"tool", "outcome"})

	dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zen_dispatch_duration_seconds",
		Help:    "Tool dispatch latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	metricsOnce sync.Once
)

// registerMetrics registers the dispatcher's collectors with reg. Safe to
// call multiple times; registration happens once per process.
func registerMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(dispatchTotal, dispatchDuration)
	})
}

// SimpleHandler runs a Tool Base (Simple) envelope.
type SimpleHandler interface {
	Execute(ctx context.Context, env envelope.Base) (tool.Result, error)
}

// WorkflowHandler runs a Tool Base (Workflow) envelope.
type WorkflowHandler interface {
	Execute(ctx context.Context, env envelope.Workflow) (tool.WorkflowResult, error)
}

// Binder converts a raw {tool_name, arguments} payload into a typed
// envelope for a specific tool. Supplied per tool at registration time so
// the dispatcher itself stays agnostic of any particular wire format.
type Binder func(arguments map[string]any) (any, error)

type registration struct {
	timeout  time.Duration
	binder   Binder
	simple   SimpleHandler
	workflow WorkflowHandler
}

// DefaultTimeout is used when a tool is registered without an explicit
// per-category override (spec §4.7 point 3, "timeout appropriate to the
// tool category" — the concrete table lives in SPEC_FULL's config section).
const DefaultTimeout = 60 * time.Second

// Response is the shared shape every dispatch returns (spec §4.7 point 5).
type Response struct {
	Success        bool           `json:"success"`
	Content        string         `json:"content,omitempty"`
	ContinuationID string         `json:"continuation_id,omitempty"`
	Error          *ErrorPayload  `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata"`
}

// ErrorPayload is the serialized form of a coreerr.CoreError (spec §7).
type ErrorPayload struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Dispatcher routes {tool_name, arguments} requests to registered tools.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]registration

	inFlight sync.WaitGroup
	draining chan struct{}
	once     sync.Once
}

func New() *Dispatcher {
	registerMetrics(prometheus.DefaultRegisterer)
	return &Dispatcher{
		tools:    make(map[string]registration),
		draining: make(chan struct{}),
	}
}

// RegisterSimple wires a simple tool under name with a binder and timeout
// (zero timeout means DefaultTimeout).
func (d *Dispatcher) RegisterSimple(name string, binder Binder, handler SimpleHandler, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[name] = registration{timeout: timeout, binder: binder, simple: handler}
}

// RegisterWorkflow wires a workflow tool under name.
func (d *Dispatcher) RegisterWorkflow(name string, binder Binder, handler WorkflowHandler, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[name] = registration{timeout: timeout, binder: binder, workflow: handler}
}

// Dispatch looks up toolName, binds arguments, and invokes the tool under a
// deadline, catching every structured error and unexpected panic into the
// shared Response shape (spec §4.7 points 1-5).
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, arguments map[string]any) Response {
	select {
	case <-d.draining:
		return errorResponse(coreerr.NewCancelledError("server is shutting down"))
	default:
	}

	d.mu.RLock()
	reg, ok := d.tools[toolName]
	d.mu.RUnlock()
	if !ok {
		return errorResponse(coreerr.NewUnknownToolError(toolName))
	}

	d.inFlight.Add(1)
	defer d.inFlight.Done()

	bound, err := reg.binder(arguments)
	if err != nil {
		return errorResponse(err)
	}

	ctx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "dispatch."+toolName,
		trace.WithAttributes(attribute.String("zen.tool", toolName)))
	defer span.End()

	start := time.Now()
	resp := d.invoke(ctx, toolName, reg, bound)
	dispatchDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())

	outcome := "success"
	if !resp.Success {
		outcome = "error"
		span.SetStatus(codes.Error, errMessage(resp))
	}
	dispatchTotal.WithLabelValues(toolName, outcome).Inc()

	return resp
}

func errMessage(resp Response) string {
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Message
}

func (d *Dispatcher) invoke(ctx context.Context, toolName string, reg registration, bound any) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			log.Printf("🔥 internal error in tool %q (correlation_id=%s): %v", toolName, correlationID, r)
			resp = errorResponse(coreerr.NewInternalError(correlationID, fmt.Errorf("%v", r)))
		}
	}()

	switch {
	case reg.simple != nil:
		env, ok := bound.(envelope.Base)
		if !ok {
			return errorResponse(coreerr.NewValidationError("bound arguments do not match the simple tool envelope"))
		}
		result, err := reg.simple.Execute(ctx, env)
		if err != nil {
			return d.errorResponseWithCorrelation(toolName, err)
		}
		metadata := result.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["tokens"] = map[string]int{"input": result.Tokens.Input, "output": result.Tokens.Output}
		return Response{Success: true, Content: result.Content, ContinuationID: result.ContinuationID, Metadata: metadata}

	case reg.workflow != nil:
		env, ok := bound.(envelope.Workflow)
		if !ok {
			return errorResponse(coreerr.NewValidationError("bound arguments do not match the workflow envelope"))
		}
		result, err := reg.workflow.Execute(ctx, env)
		if err != nil {
			return d.errorResponseWithCorrelation(toolName, err)
		}
		metadata := result.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		return Response{Success: true, Content: result.Content, ContinuationID: result.ContinuationID, Metadata: metadata}

	default:
		return errorResponse(coreerr.NewInternalError(uuid.NewString(), fmt.Errorf("tool %q registered without a handler", toolName)))
	}
}

func (d *Dispatcher) errorResponseWithCorrelation(toolName string, err error) Response {
	if kind, ok := coreerr.KindOf(err); !ok || kind == coreerr.KindInternalError {
		correlationID := uuid.NewString()
		log.Printf("🔥 internal error in tool %q (correlation_id=%s): %v", toolName, correlationID, err)
		err = coreerr.NewInternalError(correlationID, err)
	}
	return errorResponse(err)
}

func errorResponse(err error) Response {
	kind, ok := coreerr.KindOf(err)
	if !ok {
		kind = coreerr.KindInternalError
	}
	var details map[string]any
	var ce *coreerr.CoreError
	if errors.As(err, &ce) {
		details = ce.Details
	}
	return Response{
		Success:  false,
		Metadata: map[string]any{},
		Error: &ErrorPayload{
			Kind:    string(kind),
			Message: err.Error(),
			Details: details,
		},
	}
}

// Shutdown stops accepting new dispatches and waits for in-flight ones to
// drain, or returns early if ctx is cancelled first (spec's ambient
// graceful-shutdown expectation, grounded on the teacher's stopChan/
// doneChan pattern in pkg/server.Server).
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.draining) })

	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
