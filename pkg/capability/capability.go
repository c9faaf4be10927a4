// Package capability provides the registry of uniformly-contracted units of
// action invocable by the planning loop: descriptors with I/O schemas,
// side-effect classification, and fail-closed dispatch.
package capability

import (
	"context"
	"encoding/json"
	"time"
)

// SideEffect classifies a capability's mutation risk. It governs retry and
// failure-propagation policy in the planning loop.
type SideEffect string

const (
	// Pure capabilities touch nothing outside their arguments.
	Pure SideEffect = "pure"
	// ReadExternal capabilities read external systems without mutation.
	ReadExternal SideEffect = "read_external"
	// MutatesExternal capabilities change external state. Their errors are
	// never silently retried.
	MutatesExternal SideEffect = "mutates_external"
	// ExecutesCode capabilities run arbitrary code or shell commands.
	ExecutesCode SideEffect = "executes_code"
)

// Handler executes a capability with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor describes one registered capability.
type Descriptor struct {
	Name        string
	Description string
	SideEffect  SideEffect
	Input       Schema
	Output      Schema
	Handler     Handler
	Enabled     bool
	// Timeout bounds one invocation. Zero falls back to the registry default.
	Timeout time.Duration
}

// RetryReporter is implemented by capability results that want their
// transport retry count surfaced in envelope metadata.
type RetryReporter interface {
	RetriesUsed() int
}

// resultToMap converts a handler result into a map for output validation.
// Results that are already maps pass through; structs go through a JSON
// round trip so their declared fields are visible to the schema.
func resultToMap(result any) (map[string]any, bool) {
	if m, ok := result.(map[string]any); ok {
		return m, true
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}
