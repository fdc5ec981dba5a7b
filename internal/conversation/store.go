// Package conversation provides the ConversationStore drivers: an in-process
// map, a SQLite file and a shared Redis server.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faqbot/internal/domain"
)

// Clock returns the current time. Stores take one so expiry can be tested
// without sleeping.
type Clock func() time.Time

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Options struct {
	Driver        string
	TTL           time.Duration // default: domain.ConversationTTL
	OpTimeout     time.Duration // per-operation bound, 0 = none
	PurgeInterval time.Duration // memory/sqlite janitor period

	SQLitePath string

	RedisURL      string // redis://... or host:port
	RedisPassword string
	RedisDB       int

	Clock  Clock
	Logger *slog.Logger
}

// Open builds the configured driver wrapped with per-operation timeouts and
// metrics.
func Open(ctx context.Context, opts Options) (domain.ConversationStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = domain.ConversationTTL
	}

	var (
		store domain.ConversationStore
		err   error
	)
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", DriverMemory:
		driver = DriverMemory
		store = NewMemoryStore(MemoryConfig{
			TTL:           opts.TTL,
			Clock:         opts.Clock,
			PurgeInterval: opts.PurgeInterval,
			Logger:        opts.Logger,
		})
	case DriverSQLite:
		store, err = NewSQLiteStore(SQLiteConfig{
			Path:          opts.SQLitePath,
			TTL:           opts.TTL,
			Clock:         opts.Clock,
			PurgeInterval: opts.PurgeInterval,
			Logger:        opts.Logger,
		})
	case DriverRedis:
		store, err = NewRedisStore(ctx, RedisConfig{
			URL:      opts.RedisURL,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			TTL:      opts.TTL,
			Logger:   opts.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown conversation store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	opts.Logger.Info("conversation store opened", "driver", driver, "ttl", opts.TTL)
	return Instrument(store, driver, opts.OpTimeout), nil
}

// unavailable wraps a transport-level failure so callers can tell it apart
// from ErrNotFound.
func unavailable(op string, err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("conversation id cannot be empty")
	}
	return nil
}

// expired reports whether a record with the given deadline is gone at now.
func expired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// stamp is the timestamp for a message appended to log at now. A clock that
// went backwards is held at the last stored timestamp.
func stamp(log []domain.Message, now time.Time) time.Time {
	if n := len(log); n > 0 && now.Before(log[n-1].Timestamp) {
		return log[n-1].Timestamp
	}
	return now
}

// runJanitor calls purge every interval until stop is closed.
func runJanitor(interval time.Duration, stop <-chan struct{}, done chan<- struct{}, purge func()) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			purge()
		}
	}
}
