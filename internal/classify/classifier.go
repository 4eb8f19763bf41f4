// Package classify talks to the external failure-classification service.
//
// The Gateway is what the orchestrator consumes: it fans calls out with a
// bounded concurrency limit and converts every failure mode (timeout,
// transport error, malformed response) into the conservative Unknown
// classification so the engine never blocks on the service.
package classify

import (
	"context"

	"github.com/vietddude/triage/internal/core/domain"
)

// Request carries one failed attempt to the classifier.
type Request struct {
	TestID        string
	FailureDetail string
	Desc          string
	FilePath      string
}

// Classifier is the capability interface for the external service.
// Implementations return an error for transport-level and protocol-level
// failures; they never synthesize fallback classifications themselves.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*domain.Classification, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, req Request) (*domain.Classification, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req Request) (*domain.Classification, error) {
	return f(ctx, req)
}
