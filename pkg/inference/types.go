// Package inference defines the boundary to the three external inference
// collaborators (event extractor, risk analyzer, recommendation model). Each
// collaborator is an opaque function from structured input to structured
// output plus a declared latency; everything behind the HTTP endpoint is out
// of this server's hands.
package inference

import (
	"context"
	"errors"
	"time"

	"github.com/ae-safety-server/internal/domain"
)

// Request is the structured input for one stage invocation. UpstreamItems
// contains only items from already-committed earlier layers; ReportText is
// populated for the foundation stage only, which has no upstream layers.
type Request struct {
	CaseID        string             `json:"case_id"`
	Stage         domain.Stage       `json:"stage"`
	ReportText    string             `json:"report_text,omitempty"`
	UpstreamItems []domain.LayerItem `json:"upstream_items,omitempty"`
}

// Response is the structured output of one stage invocation.
type Response struct {
	Items           []domain.LayerItem `json:"items"`
	InferenceTimeMS int64              `json:"inference_time_ms"`
}

// Collaborator is one external inference model at its boundary.
type Collaborator interface {
	// Name identifies the collaborator in logs and health reports.
	Name() string

	// Infer runs one stage. Implementations must respect ctx cancellation;
	// the caller bounds the call with the per-stage timeout.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// Healthy reports whether the collaborator endpoint is reachable.
	Healthy(ctx context.Context) bool
}

// ErrTimeout marks a collaborator that exceeded its per-stage bound.
var ErrTimeout = errors.New("inference collaborator timed out")

// IsTimeout reports whether err represents a collaborator timeout, either
// surfaced directly or via context deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Set bundles the three stage collaborators.
type Set struct {
	Foundation Collaborator
	Strategic  Collaborator
	Synthesis  Collaborator
}

// For returns the collaborator responsible for the given stage.
func (s *Set) For(stage domain.Stage) (Collaborator, bool) {
	switch stage {
	case domain.StageFoundation:
		return s.Foundation, s.Foundation != nil
	case domain.StageStrategic:
		return s.Strategic, s.Strategic != nil
	case domain.StageSynthesis:
		return s.Synthesis, s.Synthesis != nil
	}
	return nil, false
}

// Healthy reports whether all configured collaborators respond.
func (s *Set) Healthy(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, c := range []Collaborator{s.Foundation, s.Strategic, s.Synthesis} {
		if c == nil || !c.Healthy(checkCtx) {
			return false
		}
	}
	return true
}
