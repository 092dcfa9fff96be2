package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pharmapos/backend/internal/cache"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/events"
	"pharmapos/backend/internal/logger"
	"pharmapos/backend/internal/metrics"
	"pharmapos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultMaxRetries = 3
	defaultReceiptTTL = 24 * time.Hour

	defaultStockReason  = "stock received"
	defaultCancelReason = "sale cancelled"
	defaultReturnReason = "customer return"
	defaultAdjustReason = "stock count"
)

type Service struct {
	repo       store.Repository
	log        *zap.Logger
	validate   *validator.Validate
	publisher  events.Publisher
	metrics    *metrics.Recorder
	receipts   cache.ReceiptCache
	receiptTTL time.Duration
	maxRetries uint64
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

func WithReceiptCache(c cache.ReceiptCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.receipts = c
		}
		if ttl > 0 {
			s.receiptTTL = ttl
		}
	}
}

// WithMaxRetries sets how many times a unit of work is re-run after a
// write conflict before the conflict is returned to the caller.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = uint64(n)
		}
	}
}

// WithClock replaces time.Now. Sale timestamps and the "today" used for
// expiry checks both come from it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		log:        zap.NewNop(),
		validate:   newValidator(),
		publisher:  events.NoopPublisher{},
		receipts:   cache.NoopReceiptCache{},
		receiptTTL: defaultReceiptTTL,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// runInTx runs fn in a unit of work and re-runs it from scratch when the
// store reports a write conflict. fn must not keep state between attempts.
func (s *Service) runInTx(ctx context.Context, operation string, fn func(tx store.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 25 * time.Millisecond
	policy.MaxInterval = 400 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := s.repo.WithinTx(ctx, fn)
		if err == nil || errors.Is(err, store.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx), func(err error, wait time.Duration) {
		s.metrics.ConflictRetry(operation)
		s.logger(ctx).Warn("write conflict, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
}

// track records the outcome of an operation. Call it deferred with a
// pointer to the named error result.
func (s *Service) track(operation string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	s.metrics.ObserveOperation(operation, outcomeOf(err), time.Since(start))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrPrescriptionRequired):
		return "prescription_required"
	case errors.Is(err, store.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, store.ErrEmptySale):
		return "empty_sale"
	case errors.Is(err, store.ErrSaleCancelled):
		return "sale_cancelled"
	case errors.Is(err, store.ErrReturnExceedsAvailable):
		return "return_exceeds_available"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.log)
}

// logAudit writes a structured audit entry for a committed change.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	base := []zap.Field{
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.Int64("entity_id", entityID),
		zap.String("actor", actor.Username),
		zap.String("actor_role", actor.Role),
	}
	s.logger(ctx).Info("audit", append(base, fields...)...)
}

// emit publishes a committed change. The commit already happened, so a
// failed publish is logged and otherwise ignored.
func (s *Service) emit(ctx context.Context, eventType string, key string, at time.Time, payload any) {
	actor, _ := ActorFromContext(ctx)
	ev := events.New(eventType, key, actor.Username, at, payload)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger(ctx).Warn("failed to publish ledger event",
			zap.String("event_type", eventType),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates req and converts the first failure into a
// *store.ValidationError.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return store.Invalid("", err.Error())
	}
	fe := fieldErrs[0]
	return store.Invalid(fieldPath(fe), validationMessage(fe))
}

// fieldPath drops the top-level struct name: "lines[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must have at least " + fe.Param() + " entries"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "datetime":
		return "must be a date formatted as " + fe.Param()
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
