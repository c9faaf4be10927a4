package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/resilience"
	"github.com/tiangong-ai/workspace/pkg/response"
)

// Registry holds capability descriptors. It is shared, read-mostly, and
// outlives individual runs: lookups take a read lock, registration is
// serialized to a single writer.
type Registry struct {
	mu             sync.RWMutex
	descriptors    map[string]*Descriptor
	defaultTimeout time.Duration
}

// NewRegistry creates an empty registry. defaultTimeout bounds invocations
// whose descriptors carry no timeout of their own; zero disables the bound.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	return &Registry{
		descriptors:    make(map[string]*Descriptor),
		defaultTimeout: defaultTimeout,
	}
}

// Register adds a descriptor. It fails with a validation error on a name
// collision or a malformed schema.
func (r *Registry) Register(d Descriptor) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "capability name is required", nil)
	}
	if d.Handler == nil {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q has no handler", name), nil)
	}
	if err := d.Input.Check(); err != nil {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q input schema is malformed", name), err)
	}
	if err := d.Output.Check(); err != nil {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q output schema is malformed", name), err)
	}
	switch d.SideEffect {
	case Pure, ReadExternal, MutatesExternal, ExecutesCode:
	default:
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q has unknown side-effect class %q", name, d.SideEffect), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[name]; exists {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q is already registered", name), nil)
	}
	d.Name = name
	r.descriptors[name] = &d
	return nil
}

// Resolve returns the descriptor for name or a not-found error.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("unknown capability %q", name), nil)
	}
	return d, nil
}

// Filter narrows List results.
type Filter struct {
	// EnabledOnly restricts to enabled descriptors.
	EnabledOnly bool
	// SideEffect restricts to one side-effect class when non-empty.
	SideEffect SideEffect
}

// List returns descriptors matching the filter, sorted by name.
func (r *Registry) List(filter Filter) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, d := range r.descriptors {
		if filter.EnabledOnly && !d.Enabled {
			continue
		}
		if filter.SideEffect != "" && d.SideEffect != filter.SideEffect {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled toggles a capability without re-registering it.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[name]
	if !ok {
		return errors.New(errors.CodeNotFound,
			fmt.Sprintf("unknown capability %q", name), nil)
	}
	d.Enabled = enabled
	return nil
}

// ValidateInput runs the descriptor's input schema fail-closed and returns
// normalized arguments with defaults applied.
func (r *Registry) ValidateInput(d *Descriptor, args map[string]any) (map[string]any, error) {
	normalized, err := d.Input.Validate(args)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q rejected input", d.Name), err)
	}
	return normalized, nil
}

// ValidateOutput rejects non-conforming handler results rather than passing
// them through, preserving the contract downstream consumers depend on.
func (r *Registry) ValidateOutput(d *Descriptor, result any) error {
	if len(d.Output.Args) == 0 {
		return nil
	}
	m, ok := resultToMap(result)
	if !ok {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q produced an unserializable result", d.Name), nil)
	}
	if _, err := d.Output.Validate(m); err != nil {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability %q produced a non-conforming result", d.Name), err)
	}
	return nil
}

// Invoke dispatches one capability call end to end: resolve, validate input,
// run the handler under its timeout, validate output, and wrap the outcome
// in an envelope carrying a trace identifier.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) response.Envelope {
	traceID := uuid.NewString()
	meta := response.Metadata{TraceID: traceID, Source: name}
	start := time.Now()

	d, err := r.Resolve(name)
	if err != nil {
		return response.Err(err, meta)
	}
	if !d.Enabled {
		return response.Err(errors.New(errors.CodeNotFound,
			fmt.Sprintf("capability %q is disabled", name), nil), meta)
	}

	result, err := r.Dispatch(ctx, d, args)
	meta.Elapsed = time.Since(start)
	if reporter, ok := result.(RetryReporter); ok {
		meta.Retries = reporter.RetriesUsed()
	}
	if err != nil {
		return response.Err(err, meta)
	}
	return response.OK(result, meta)
}

// Dispatch validates input, executes the handler bounded by the capability
// timeout, and validates the result. Expected capability failures surface as
// errors for the planning loop to reason over.
func (r *Registry) Dispatch(ctx context.Context, d *Descriptor, args map[string]any) (any, error) {
	normalized, err := r.ValidateInput(d, args)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}

	start := time.Now()
	result, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: timeout},
		func(ctx context.Context) (interface{}, error) {
			return d.Handler(ctx, normalized)
		})
	slog.DebugContext(ctx, "capability dispatched",
		slog.String("capability", d.Name),
		slog.String("side_effect", string(d.SideEffect)),
		slog.Duration("latency", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return nil, err
	}

	if err := r.ValidateOutput(d, result); err != nil {
		return nil, err
	}
	return result, nil
}
