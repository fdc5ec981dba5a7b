package conversation

import (
	"context"
	"errors"
	"time"

	"faqbot/internal/domain"
	"faqbot/internal/metrics"
)

// Instrumented bounds every operation of a store with a timeout and records
// it in the store metrics. Deadline and cancellation errors surface as
// domain.ErrStoreUnavailable.
type Instrumented struct {
	next    domain.ConversationStore
	driver  string
	timeout time.Duration
}

func Instrument(next domain.ConversationStore, driver string, timeout time.Duration) *Instrumented {
	return &Instrumented{next: next, driver: driver, timeout: timeout}
}

// Unwrap returns the underlying driver.
func (s *Instrumented) Unwrap() domain.ConversationStore { return s.next }

func (s *Instrumented) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = unavailable(op, err)
	}
	metrics.ObserveStore(s.driver, op, status(err), started)
	return err
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (s *Instrumented) Create(ctx context.Context, id string) error {
	return s.do(ctx, "create", func(ctx context.Context) error {
		return s.next.Create(ctx, id)
	})
}

func (s *Instrumented) Append(ctx context.Context, id string, role domain.Role, content string) error {
	return s.do(ctx, "append", func(ctx context.Context) error {
		return s.next.Append(ctx, id, role, content)
	})
}

func (s *Instrumented) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var err error
		conv, err = s.next.Get(ctx, id)
		return err
	})
	return conv, err
}

func (s *Instrumented) Delete(ctx context.Context, id string) error {
	return s.do(ctx, "delete", func(ctx context.Context) error {
		return s.next.Delete(ctx, id)
	})
}

func (s *Instrumented) Close() error { return s.next.Close() }
