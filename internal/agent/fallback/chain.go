package fallback

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"
	"agent-engine/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryPolicy is explicit so callers can see what one provider may cost.
// A provider's timeout covers the first call and its retry together.
type RetryPolicy struct {
	MaxRetriesPerProvider int
	Backoff               time.Duration
}

// DefaultRetryPolicy retries once after 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetriesPerProvider: 1, Backoff: 100 * time.Millisecond}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetriesPerProvider < 0 {
		p.MaxRetriesPerProvider = 0
	}
	if p.MaxRetriesPerProvider > 1 {
		p.MaxRetriesPerProvider = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Attempt results.
const (
	ResultSuccess      = "success"
	ResultTimeout      = "timeout"
	ResultError        = "error"
	ResultCircuitOpen  = "circuit_open"
	ResultUnconfigured = "unconfigured"
)

// Attempt records what happened with one provider.
type Attempt struct {
	ProviderID string        `json:"providerId"`
	Result     string        `json:"result"`
	Calls      int           `json:"calls"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Answer is a successful generation.
type Answer struct {
	Text       string    `json:"text"`
	ProviderID string    `json:"providerId"`
	Confidence float64   `json:"confidence"`
	Attempts   []Attempt `json:"attempts"`
}

// ExhaustedError is returned when no provider produced an answer. It
// matches errors.ErrFallbackExhausted.
type ExhaustedError struct {
	Attempts []Attempt
	cause    *errors.StandardError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.ProviderID+"="+a.Result)
	}
	return fmt.Sprintf("fallback exhausted after %d providers [%s]", len(e.Attempts), strings.Join(parts, ", "))
}

func (e *ExhaustedError) Unwrap() error {
	return e.cause
}

// Chain walks providers in declared order.
type Chain struct {
	resolver Resolver
	policy   RetryPolicy
	breakers *BreakerSet
	logger   logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewChain(resolver Resolver, policy RetryPolicy, breakers *BreakerSet, log logger.Logger) *Chain {
	if breakers == nil {
		breakers = NewBreakerSet()
	}
	return &Chain{
		resolver: resolver,
		policy:   policy.normalized(),
		breakers: breakers,
		logger:   log.WithFields(map[string]interface{}{"component": "fallback-chain"}),
		tracer:   otel.Tracer("agent-engine/fallback"),
		now:      time.Now,
	}
}

// Policy returns the effective retry policy.
func (c *Chain) Policy() RetryPolicy {
	return c.policy
}

// Generate returns the first provider answer. Total wall time is bounded by
// the sum of the declared timeouts plus scheduling overhead. Cancelling ctx
// stops the walk.
func (c *Chain) Generate(ctx context.Context, companyID string, providers []models.ProviderDescriptor, text string, grounding []string) (*Answer, error) {
	ctx, span := c.tracer.Start(ctx, "fallback.generate", trace.WithAttributes(
		attribute.String("company.id", companyID),
		attribute.Int("providers.declared", len(providers)),
	))
	defer span.End()

	attempts := make([]Attempt, 0, len(providers))
	req := Request{CompanyID: companyID, Text: text, Context: grounding}

	for _, desc := range providers {
		if ctx.Err() != nil {
			break
		}

		attempt, out := c.tryProvider(ctx, companyID, desc, req)
		attempts = append(attempts, attempt)
		metrics.ProviderAttempts.WithLabelValues(desc.ID, attempt.Result).Inc()

		if attempt.Result == ResultSuccess {
			span.SetAttributes(attribute.String("provider.id", desc.ID))
			return &Answer{
				Text:       out,
				ProviderID: desc.ID,
				Confidence: GeneratedConfidence,
				Attempts:   attempts,
			}, nil
		}

		fields := map[string]interface{}{
			"companyId":  companyID,
			"providerId": desc.ID,
			"result":     attempt.Result,
			"calls":      attempt.Calls,
			"durationMs": attempt.Duration.Milliseconds(),
		}
		if attempt.Err != nil {
			fields["error"] = attempt.Err.Error()
		}
		c.logger.Warn("provider did not answer, advancing", fields)
	}

	metrics.FallbackExhausted.Inc()
	exhausted := &ExhaustedError{
		Attempts: attempts,
		cause:    errors.NewFallbackExhaustedError(len(attempts)),
	}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, "fallback exhausted")
	return nil, exhausted
}

func (c *Chain) tryProvider(ctx context.Context, companyID string, desc models.ProviderDescriptor, req Request) (Attempt, string) {
	attempt := Attempt{ProviderID: desc.ID}

	timeout := desc.Timeout()
	if timeout <= 0 {
		attempt.Result = ResultUnconfigured
		attempt.Err = errors.NewUnconfiguredError("providers[" + desc.ID + "].timeoutMs")
		return attempt, ""
	}

	breaker := c.breakers.Get(companyID, desc.ID, desc.FailureThreshold, desc.Cooldown())
	if !breaker.Allow(c.now()) {
		attempt.Result = ResultCircuitOpen
		return attempt, ""
	}

	provider, err := c.resolver.Resolve(desc)
	if err != nil {
		attempt.Result = ResultError
		attempt.Err = errors.NewProviderError(desc.ID, err)
		breaker.Failure(c.now())
		return attempt, ""
	}

	req.Model = desc.Model
	start := c.now()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for n := 0; n <= c.policy.MaxRetriesPerProvider; n++ {
		if n > 0 && !c.wait(pctx, c.policy.Backoff) {
			break
		}
		attempt.Calls++

		out, err := call(pctx, provider, req)
		if err == nil && strings.TrimSpace(out) == "" {
			err = fmt.Errorf("empty completion")
		}
		if err == nil {
			attempt.Result = ResultSuccess
			attempt.Duration = c.now().Sub(start)
			breaker.Success()
			return attempt, strings.TrimSpace(out)
		}

		attempt.Err = err
		if pctx.Err() != nil {
			// Timeouts advance immediately; the budget is spent.
			break
		}
	}

	attempt.Duration = c.now().Sub(start)
	if pctx.Err() != nil && stderrors.Is(pctx.Err(), context.DeadlineExceeded) {
		attempt.Result = ResultTimeout
		attempt.Err = errors.NewProviderTimeoutError(desc.ID, attempt.Err)
	} else {
		attempt.Result = ResultError
		attempt.Err = errors.NewProviderError(desc.ID, attempt.Err)
	}
	breaker.Failure(c.now())
	return attempt, ""
}

type completion struct {
	text string
	err  error
}

// call returns when the provider answers or ctx ends, whichever comes first.
// A provider that ignores ctx is left to finish on its own.
func call(ctx context.Context, provider Provider, req Request) (string, error) {
	done := make(chan completion, 1)
	go func() {
		text, err := provider.Generate(ctx, req)
		done <- completion{text: text, err: err}
	}()
	select {
	case out := <-done:
		return out.text, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Chain) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
