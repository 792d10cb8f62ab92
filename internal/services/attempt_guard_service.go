package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/penalty"
	pkglogger "github.com/BradenHooton/attemptguard/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// AttemptStore defines the counter operations an attempt guard needs.
// Implementations must make IncrementAndGet atomic per composite key.
type AttemptStore interface {
	Family() models.AttemptFamily
	IncrementAndGet(ctx context.Context, bucket, key string) (int, error)
	FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error)
	Reset(ctx context.Context, bucket, key string) error
	ListAll(ctx context.Context) ([]models.AttemptRecord, error)
	// DeleteStale removes records with count <= maxCount not updated since before
	DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error)
}

// AttemptGuardConfig holds the per-guard policy parameters
type AttemptGuardConfig struct {
	Family        models.AttemptFamily `validate:"required,oneof=login signup"`
	Threshold     int                  `validate:"gte=1"`
	BaseTimeFrame time.Duration        `validate:"gt=0"`
	IdentityField string               `validate:"required"`

	// Bypass allows every request without touching the store (local testing only)
	Bypass bool
	// FailOpen allows requests when the store is unreachable (non-production only)
	FailOpen bool
}

// DefaultLoginGuardConfig returns the login defaults: 5 attempts, 60s base
func DefaultLoginGuardConfig() AttemptGuardConfig {
	return AttemptGuardConfig{
		Family:        models.FamilyLogin,
		Threshold:     5,
		BaseTimeFrame: 60 * time.Second,
		IdentityField: "mail",
	}
}

// DefaultSignUpGuardConfig returns the sign-up defaults: 2 attempts, 240s base
func DefaultSignUpGuardConfig() AttemptGuardConfig {
	return AttemptGuardConfig{
		Family:        models.FamilySignUp,
		Threshold:     2,
		BaseTimeFrame: 240 * time.Second,
		IdentityField: "mail",
	}
}

var configValidator = validator.New()

// Validate checks the policy parameters
func (c AttemptGuardConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid attempt guard config: %w", err)
	}
	return nil
}

// AttemptDecision is the outcome of one guarded attempt
type AttemptDecision struct {
	Allowed    bool
	Bypassed   bool
	FailedOpen bool
	Count      int
	Record     *models.AttemptRecord
	Remaining  time.Duration
}

// AttemptGuardService counts attempts per identity and decides whether the
// identity is inside its penalty window
type AttemptGuardService struct {
	store  AttemptStore
	config AttemptGuardConfig
	policy *penalty.Policy
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
	clock  func() time.Time
}

// AttemptGuardOption configures an AttemptGuardService
type AttemptGuardOption func(*attemptGuardOptions)

type attemptGuardOptions struct {
	clock  func() time.Time
	jitter penalty.JitterSource
}

// WithGuardClock overrides time.Now. Stores should share the same clock.
func WithGuardClock(clock func() time.Time) AttemptGuardOption {
	return func(o *attemptGuardOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithGuardJitter overrides the jitter applied past the penalty ceiling
func WithGuardJitter(src penalty.JitterSource) AttemptGuardOption {
	return func(o *attemptGuardOptions) {
		o.jitter = src
	}
}

// NewAttemptGuardService creates a new AttemptGuardService
func NewAttemptGuardService(store AttemptStore, config AttemptGuardConfig, logger *slog.Logger, opts ...AttemptGuardOption) (*AttemptGuardService, error) {
	if store == nil {
		return nil, errors.New("attempt guard requires a store")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store.Family() != config.Family {
		return nil, fmt.Errorf("attempt guard for %s given a %s store", config.Family, store.Family())
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := attemptGuardOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &AttemptGuardService{
		store:  store,
		config: config,
		policy: penalty.NewPolicy(config.Threshold, config.BaseTimeFrame, penalty.WithJitterSource(o.jitter)),
		logger: logger.With(slog.String("family", string(config.Family))),
		audit:  pkglogger.NewAuditLogger(logger),
		clock:  o.clock,
	}, nil
}

// Config returns the guard configuration
func (s *AttemptGuardService) Config() AttemptGuardConfig { return s.config }

// Bypassed reports whether the guard skips all counting
func (s *AttemptGuardService) Bypassed() bool { return s.config.Bypass }

// Check records one attempt for (bucket, key) and reports whether it may
// proceed. A locked identity yields a *models.RateLimitedError together with
// the decision.
func (s *AttemptGuardService) Check(ctx context.Context, bucket, key string) (*AttemptDecision, error) {
	if s.config.Bypass {
		return &AttemptDecision{Allowed: true, Bypassed: true}, nil
	}
	if key == "" {
		return nil, &models.MissingFieldError{Field: s.config.IdentityField}
	}

	// a client disconnect must not abandon a committed increment
	storeCtx := context.WithoutCancel(ctx)

	count, err := s.store.IncrementAndGet(storeCtx, bucket, key)
	if err != nil {
		return s.storeFailure(ctx, bucket, key, "increment", err)
	}

	record, err := s.store.FindMatching(storeCtx, bucket, key)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Error("attempt record missing after increment",
			slog.String("network_bucket", bucket),
			slog.String("identity", pkglogger.SanitizedIdentity(key)),
			slog.Int("count", count))
		return nil, fmt.Errorf("%w: %s", models.ErrInvariantViolation, bucket)
	}
	if err != nil {
		return s.storeFailure(ctx, bucket, key, "lookup", err)
	}

	decision := &AttemptDecision{Count: count, Record: record}

	now := s.clock()
	verdict := s.policy.Evaluate(record.Count, s.anchor(record, bucket, key), now)
	if !verdict.Active {
		decision.Allowed = true
		return decision, nil
	}

	wait, capped := s.retryAfter(record, bucket, key, count, verdict)
	decision.Remaining = wait
	s.audit.LogLockout(ctx, pkglogger.AttemptEvent{
		Family:        string(s.config.Family),
		NetworkBucket: bucket,
		IdentityKey:   key,
		Count:         record.Count,
		RetryAfter:    wait,
		Capped:        capped,
	})

	return decision, &models.RateLimitedError{
		Family:     s.config.Family,
		RetryAfter: wait,
		Capped:     capped,
		Ceiling:    penalty.Ceiling,
	}
}

// retryAfter is the wait after which this client's next attempt is allowed.
// The rejected attempt anchors the next one, which is judged one count
// higher. A record matched through the other dimension was not bumped, so its
// own remaining window also has to pass.
func (s *AttemptGuardService) retryAfter(record *models.AttemptRecord, bucket, key string, count int, verdict penalty.Verdict) (time.Duration, bool) {
	own := count
	if record.Matches(bucket, key) {
		own = record.Count
	}

	wait, capped := s.policy.RetryAfter(own)
	if verdict.Penalty.Capped {
		return penalty.Ceiling, true
	}
	if verdict.Remaining > wait {
		wait = verdict.Remaining
	}
	return wait, capped
}

// anchor picks the timestamp the penalty window is measured from. The row this
// request just bumped carries its own timestamp, so its previous attempt is
// used instead; a row matched through the other dimension was not touched.
func (s *AttemptGuardService) anchor(record *models.AttemptRecord, bucket, key string) time.Time {
	if record.Matches(bucket, key) && record.PreviousAt != nil {
		return *record.PreviousAt
	}
	return record.UpdatedAt
}

func (s *AttemptGuardService) storeFailure(ctx context.Context, bucket, key, op string, err error) (*AttemptDecision, error) {
	if !errors.Is(err, models.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if s.config.FailOpen {
		s.audit.LogFailOpen(ctx, pkglogger.AttemptEvent{
			Family:        string(s.config.Family),
			NetworkBucket: bucket,
			IdentityKey:   key,
			Reason:        op + ": " + err.Error(),
		})
		return &AttemptDecision{Allowed: true, FailedOpen: true}, nil
	}

	s.logger.Error("attempt store failed", slog.String("op", op), slog.Any("error", err))
	return nil, err
}

// Reset clears the attempt history for an identity. Integrators call it only
// after the downstream handler confirmed a successful authentication.
func (s *AttemptGuardService) Reset(ctx context.Context, bucket, key, reason string) error {
	if s.config.Family == models.FamilyLogin && key == "" {
		return &models.MissingFieldError{Field: s.config.IdentityField}
	}
	if s.config.Family == models.FamilySignUp && bucket == "" {
		return fmt.Errorf("%w: network bucket is required", models.ErrBadRequest)
	}

	if err := s.store.Reset(context.WithoutCancel(ctx), bucket, key); err != nil {
		s.logger.Error("failed to reset attempts", slog.Any("error", err))
		return err
	}

	s.audit.LogReset(ctx, pkglogger.AttemptEvent{
		Family:        string(s.config.Family),
		NetworkBucket: bucket,
		IdentityKey:   key,
		Reason:        reason,
	})
	return nil
}

// Attempts lists every record of this guard's family
func (s *AttemptGuardService) Attempts(ctx context.Context) ([]models.AttemptRecord, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return records, nil
}

// PurgeStale deletes records untouched for longer than retention whose
// penalty has also run out. A lockout longer than the retention survives
// until its window ends.
func (s *AttemptGuardService) PurgeStale(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}

	now := s.clock()
	var total int64
	for _, w := range s.policy.StaleWindows(retention) {
		deleted, err := s.store.DeleteStale(ctx, now.Add(-w.Age), w.MaxCount)
		total += deleted
		if err != nil {
			return total, fmt.Errorf("failed to purge stale attempts: %w", err)
		}
	}
	return total, nil
}
