// Package response defines the canonical envelope returned by every
// externally visible operation: a single capability call or a full task run.
package response

import (
	"encoding/json"
	"time"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

// Status is the envelope outcome tag.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrorInfo carries the error half of the envelope invariant.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Metadata always carries a trace identifier sufficient to reconstruct the
// full step sequence, even on success.
type Metadata struct {
	TraceID string        `json:"trace_id"`
	Source  string        `json:"source,omitempty"`
	Retries int           `json:"retries"`
	Elapsed time.Duration `json:"elapsed_ns,omitempty"`
}

// Envelope is the canonical structured result wrapper. Exactly one of Data
// and Error is populated.
type Envelope struct {
	Status   Status     `json:"status"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// OK builds a success envelope wrapping data. A nil data is replaced with an
// empty object so the data/error invariant holds for handlers that succeed
// without a payload.
func OK(data any, meta Metadata) Envelope {
	if data == nil {
		data = struct{}{}
	}
	return Envelope{
		Status:   StatusOK,
		Data:     data,
		Metadata: meta,
	}
}

// Err builds an error envelope from err, preserving the workspace error
// taxonomy kind and provider status for diagnostics.
func Err(err error, meta Metadata) Envelope {
	we := errors.AsWorkspaceError(err)
	return Envelope{
		Status: StatusError,
		Error: &ErrorInfo{
			Kind:    string(we.Code),
			Message: we.Error(),
			Status:  we.StatusCode,
		},
		Metadata: meta,
	}
}

// IsOK reports whether the envelope carries data.
func (e Envelope) IsOK() bool {
	return e.Status == StatusOK
}

// Valid reports whether the data/error invariant holds: exactly one of the
// two is populated.
func (e Envelope) Valid() bool {
	switch e.Status {
	case StatusOK:
		return e.Data != nil && e.Error == nil
	case StatusError:
		return e.Data == nil && e.Error != nil
	default:
		return false
	}
}

// ToJSON serializes the envelope for machine-readable consumption.
func (e Envelope) ToJSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
