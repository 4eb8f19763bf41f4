package classify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/metrics"
)

// GatewayConfig holds the gateway's concurrency and timeout settings.
type GatewayConfig struct {
	// Concurrency bounds in-flight classifier calls; excess calls queue.
	Concurrency int
	// Timeout applies to each individual classifier call.
	Timeout time.Duration
	// RetryBackoff is the delay before the single internal retry.
	RetryBackoff time.Duration
}

// Gateway wraps a Classifier with bounded concurrency, per-call timeouts
// and conservative degradation. Its methods never return an error: an
// unreachable service produces the synthetic Unknown classification.
type Gateway struct {
	classifier Classifier
	cfg        GatewayConfig
	log        *slog.Logger
}

// NewGateway creates a gateway around the given classifier.
func NewGateway(classifier Classifier, cfg GatewayConfig, log *slog.Logger) *Gateway {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{classifier: classifier, cfg: cfg, log: log}
}

// Classify labels one failed attempt. Timeouts, transport errors and
// malformed responses all degrade to Unknown after one internal retry.
func (g *Gateway) Classify(ctx context.Context, req Request) *domain.Classification {
	start := time.Now()

	var result *domain.Classification
	backoff := retry.WithMaxRetries(1, retry.NewExponential(g.cfg.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		c, err := g.classifier.Classify(callCtx, req)
		if err != nil {
			return retry.RetryableError(err)
		}
		result = c
		return nil
	})

	metrics.ClassifierLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := "transport_error"
		switch {
		case errors.Is(err, ErrMalformedResponse):
			reason = "malformed_response"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, context.Canceled):
			reason = "cancelled"
		}
		metrics.ClassifierErrorsTotal.WithLabelValues(reason).Inc()
		g.log.Warn("Classification degraded to Unknown",
			"test_id", req.TestID, "reason", reason, "error", err)
		return domain.UnknownClassification("classifier unavailable: " + reason)
	}

	metrics.ClassificationsTotal.WithLabelValues(string(result.Category)).Inc()
	return result
}

// ClassifyBatch fans out one call per request with bounded concurrency and
// joins the results. The returned map has one entry per request, keyed by
// test id.
func (g *Gateway) ClassifyBatch(ctx context.Context, reqs []Request) map[string]*domain.Classification {
	results := make([]*domain.Classification, len(reqs))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(g.cfg.Concurrency)
	for i, req := range reqs {
		group.Go(func() error {
			results[i] = g.Classify(ctx, req)
			return nil
		})
	}
	// Workers never return errors; degradation happens per call
	_ = group.Wait()

	out := make(map[string]*domain.Classification, len(reqs))
	for i, req := range reqs {
		out[req.TestID] = results[i]
	}
	return out
}
