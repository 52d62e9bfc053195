package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"songmap/internal/apperr"
	"songmap/internal/metrics"
)

// ResilienceConfig bounds every store call with a deadline, retries
// idempotent calls that failed with a transient error, and trips a circuit
// breaker after repeated transient failures.
type ResilienceConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	Backoff         time.Duration
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

func (rc ResilienceConfig) withDefaults() ResilienceConfig {
	if rc.Timeout <= 0 {
		rc.Timeout = 5 * time.Second
	}
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
	if rc.Backoff <= 0 {
		rc.Backoff = 50 * time.Millisecond
	}
	if rc.BreakerFailures == 0 {
		rc.BreakerFailures = 5
	}
	if rc.BreakerOpen <= 0 {
		rc.BreakerOpen = 10 * time.Second
	}
	return rc
}

func newBreaker(name string, rc ResilienceConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker[any] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     rc.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= rc.BreakerFailures
		},
		// Only transient store failures count against the breaker; a
		// missing row, a constraint violation or a canceled caller means
		// the store is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// retried runs an idempotent store call (a read or an accumulate upsert),
// retrying it while it fails with Unavailable and retries remain.
func retried[T any](ctx context.Context, db *Database, op string, fn func(context.Context) (T, error)) (T, error) {
	return execute(ctx, db, op, db.res.MaxRetries, fn)
}

// once runs a non-idempotent store call (deletes, inserts that must not be
// duplicated, multi-statement transactions) exactly one time.
func once[T any](ctx context.Context, db *Database, op string, fn func(context.Context) (T, error)) (T, error) {
	return execute(ctx, db, op, 0, fn)
}

func execute[T any](ctx context.Context, db *Database, op string, retries int, fn func(context.Context) (T, error)) (T, error) {
	defer metrics.ObserveStoreOp(op, time.Now())

	var zero T
	for attempt := 0; ; attempt++ {
		result, err := attemptOnce(ctx, db, fn)
		if err == nil {
			return result, nil
		}

		err = classify(err)
		kind := apperr.KindOf(err)
		if kind != apperr.KindUnavailable || attempt >= retries || ctx.Err() != nil || errors.Is(err, gobreaker.ErrOpenState) {
			metrics.StoreOpErrors.WithLabelValues(op, string(kind)).Inc()
			if kind == apperr.KindUnavailable || kind == apperr.KindInternal {
				db.logger.WithError(err).WithFields(logrus.Fields{
					"operation": op,
					"attempts":  attempt + 1,
				}).Error("Graph store operation failed")
			}
			return zero, err
		}

		metrics.StoreRetries.WithLabelValues(op).Inc()
		db.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt + 1,
		}).Debug("Retrying graph store operation")

		select {
		case <-ctx.Done():
			metrics.StoreOpErrors.WithLabelValues(op, string(apperr.KindCanceled)).Inc()
			return zero, callerDone(ctx)
		case <-time.After(db.res.Backoff * time.Duration(attempt+1)):
		}
	}
}

func attemptOnce[T any](ctx context.Context, db *Database, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, callerDone(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, db.res.Timeout)
	defer cancel()

	v, err := db.cb.Execute(func() (any, error) {
		r, err := fn(callCtx)
		// The caller gave up; that says nothing about the store.
		if err != nil && ctx.Err() != nil {
			return r, callerDone(ctx)
		}
		return r, err
	})
	if err != nil {
		return zero, err
	}
	result, _ := v.(T)
	return result, nil
}

// callerDone reports that the caller's own context ended the call. Only the
// per-attempt deadline counts as the store timing out.
func callerDone(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindCanceled, ctx.Err(), "request deadline exceeded")
	}
	return apperr.Wrap(apperr.KindCanceled, ctx.Err(), "request canceled")
}

// classify maps driver and breaker errors onto apperr kinds. Errors that
// already carry a kind pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.Wrap(apperr.KindNotFound, err, "record not found")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Wrap(apperr.KindUnavailable, err, "graph store circuit open")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindUnavailable, err, "graph store timed out")
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return apperr.Wrap(apperr.KindUnavailable, err, "graph store busy")
		case sqlite3.ErrConstraint:
			switch sqliteErr.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				return apperr.Wrap(apperr.KindConflict, err, "duplicate record")
			case sqlite3.ErrConstraintForeignKey:
				return apperr.Wrap(apperr.KindNotFound, err, "referenced record not found")
			default:
				return apperr.Wrap(apperr.KindInvalidArgument, err, "constraint violated")
			}
		}
	}

	return apperr.Wrap(apperr.KindInternal, err, "graph store error")
}

// isTransient reports whether err means the store itself is struggling.
func isTransient(err error) bool {
	return apperr.KindOf(classify(err)) == apperr.KindUnavailable
}
