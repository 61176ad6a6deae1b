package masking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/ratelimit"
)

// Caller identifies which path is requesting masking capacity.
type Caller string

const (
	// CallerStream is the live message consumer.
	CallerStream Caller = "stream"

	// CallerBackfill is the historical replay. It is confined to its
	// reserved share of the pool so live traffic keeps headroom.
	CallerBackfill Caller = "backfill"
)

// Sentinel values written in place of field content.
const (
	// SentinelRedacted replaces a fully redacted value when the service
	// returns nothing to keep.
	SentinelRedacted = "[REDACTED]"

	// SentinelUnredactable replaces a value whose shape the service could
	// not process. Over-masking is preferred to passing PII through.
	SentinelUnredactable = "[UNREDACTABLE]"
)

// Failure carries the classification the dead-letter router needs when an
// event cannot produce a usable masked record.
type Failure struct {
	Kind     model.FailureKind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("masking failed (%s after %d attempts): %v", f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Config bounds the pool's concurrency and retry behavior.
type Config struct {
	// MaxConcurrent is the total number of in-flight masking calls,
	// sized below the external service's quota.
	MaxConcurrent int

	// BackfillShare is the fraction of MaxConcurrent the backfill caller
	// may occupy. Fixed at startup, never renegotiated live.
	BackfillShare float64

	// MaxAttempts bounds retries for transient classifier errors.
	MaxAttempts int

	// BackoffBase and BackoffCap bound the exponential backoff curve.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Pool is the bounded masking worker pool shared by the streaming consumer
// and the backfill processor. Sharing one pool (and one policy) is what
// keeps the two paths from drifting apart.
type Pool struct {
	classifier Classifier
	policy     *Policy
	limiter    ratelimit.RateLimiter
	cfg        Config

	slots         chan struct{}
	backfillSlots chan struct{}
}

// NewPool creates a pool with capacity split between live and backfill traffic.
func NewPool(classifier Classifier, policy *Policy, limiter ratelimit.RateLimiter, cfg Config) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Second
	}
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}

	reserved := int(cfg.BackfillShare * float64(cfg.MaxConcurrent))
	if cfg.BackfillShare > 0 && reserved == 0 {
		reserved = 1
	}

	return &Pool{
		classifier:    classifier,
		policy:        policy,
		limiter:       limiter,
		cfg:           cfg,
		slots:         make(chan struct{}, cfg.MaxConcurrent),
		backfillSlots: make(chan struct{}, max(reserved, 1)),
	}
}

// Mask produces a MaskedRecord for the event, or a *Failure when no usable
// record could be produced. A PARTIAL record is still returned (err nil)
// when only individual fields were unredactable.
func (p *Pool) Mask(ctx context.Context, caller Caller, event *model.RawEvent) (*model.MaskedRecord, error) {
	start := time.Now()
	defer func() {
		metrics.MaskingDuration.Observe(time.Since(start).Seconds())
	}()

	status := model.StatusSuccess
	payload := make(map[string]any, len(event.Payload))
	for k, v := range event.Payload {
		payload[k] = v
	}

	for _, field := range p.policy.FieldNames() {
		raw, present := payload[field]
		if !present || raw == nil {
			continue
		}

		value, ok := raw.(string)
		if !ok {
			// Field exists but is not text. Over-mask rather than pass through.
			payload[field] = SentinelUnredactable
			status = model.StatusPartial
			continue
		}
		if value == "" {
			continue
		}

		method := p.policy.Fields[field]
		masked, attempts, err := p.redactWithRetry(ctx, caller, value, method)
		switch {
		case err == nil:
			if masked == "" && method == MethodRedact {
				masked = SentinelRedacted
			}
			payload[field] = masked

		case errors.Is(err, ErrMalformedPayload):
			payload[field] = SentinelUnredactable
			status = model.StatusPartial

		case errors.Is(err, ErrUnknownMethod):
			metrics.MaskingOutcomes.WithLabelValues(string(model.StatusFailed), string(caller)).Inc()
			return nil, &Failure{
				Kind:     model.FailurePolicyMisconfigured,
				Attempts: attempts,
				Err:      err,
			}

		default:
			kind := model.FailureUnavailable
			if errors.Is(err, ErrQuotaExceeded) {
				kind = model.FailureQuota
			}
			metrics.MaskingOutcomes.WithLabelValues(string(model.StatusFailed), string(caller)).Inc()
			return nil, &Failure{
				Kind:     kind,
				Attempts: attempts,
				Err:      err,
			}
		}
	}

	metrics.MaskingOutcomes.WithLabelValues(string(status), string(caller)).Inc()

	return &model.MaskedRecord{
		EventID:         event.EventID,
		Payload:         payload,
		SourceTimestamp: event.SourceTimestamp,
		MaskedAt:        time.Now().UTC(),
		MaskingStatus:   status,
	}, nil
}

// redactWithRetry performs one field's classifier call under the pool's
// concurrency bound, retrying transient errors with jittered exponential
// backoff up to the configured attempt budget.
func (p *Pool) redactWithRetry(ctx context.Context, caller Caller, value string, method Method) (string, int, error) {
	release, err := p.acquire(ctx, caller)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.waitQuota(ctx); err != nil {
			return "", attempt, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		masked, err := p.classifier.Redact(ctx, value, method)
		if err == nil {
			return masked, attempt, nil
		}
		lastErr = err

		// Only quota and availability errors are worth retrying.
		if !errors.Is(err, ErrQuotaExceeded) && !errors.Is(err, ErrUnavailable) {
			return "", attempt, err
		}

		if attempt < p.cfg.MaxAttempts {
			metrics.MaskingRetries.Inc()
			if err := sleepCtx(ctx, p.backoff(attempt)); err != nil {
				return "", attempt, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
	}

	return "", p.cfg.MaxAttempts, lastErr
}

// acquire takes a concurrency slot; backfill callers are additionally
// confined to their reserved share.
func (p *Pool) acquire(ctx context.Context, caller Caller) (func(), error) {
	if caller == CallerBackfill {
		select {
		case p.backfillSlots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		if caller == CallerBackfill {
			<-p.backfillSlots
		}
		return nil, ctx.Err()
	}

	return func() {
		<-p.slots
		if caller == CallerBackfill {
			<-p.backfillSlots
		}
	}, nil
}

// waitQuota blocks until the shared rate limiter admits one more call.
func (p *Pool) waitQuota(ctx context.Context) error {
	for {
		allowed, err := p.limiter.Allow(ctx, "masking")
		if err != nil {
			slog.Warn("quota check failed, allowing call", logging.Error(err))
			return nil
		}
		if allowed {
			return nil
		}
		if err := sleepCtx(ctx, p.cfg.BackoffBase); err != nil {
			return err
		}
	}
}

// backoff computes the jittered delay before the next attempt.
func (p *Pool) backoff(attempt int) time.Duration {
	d := p.cfg.BackoffBase << (attempt - 1)
	if d > p.cfg.BackoffCap {
		d = p.cfg.BackoffCap
	}
	// Full jitter.
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
