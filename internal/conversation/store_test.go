package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"faqbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable Clock. With a non-zero step every reading moves
// it forward, like a real clock under load.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) domain.ConversationStore

func drivers() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) domain.ConversationStore {
			return NewMemoryStore(MemoryConfig{Clock: clock.Now, PurgeInterval: -1, Logger: testLogger()})
		},
		"sqlite": func(t *testing.T, clock *fakeClock) domain.ConversationStore {
			s, err := NewSQLiteStore(SQLiteConfig{
				Path:          filepath.Join(t.TempDir(), "conversations.db"),
				Clock:         clock.Now,
				PurgeInterval: -1,
				Logger:        testLogger(),
			})
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, s domain.ConversationStore, clock *fakeClock)) {
	for name, factory := range drivers() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			s := factory(t, clock)
			t.Cleanup(func() { s.Close() })
			fn(t, s, clock)
		})
	}
}

func TestStore_CreateAppendGet(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		if err := s.Create(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
		conv, err := s.Get(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if conv.ID != "c1" || len(conv.Messages) != 0 || conv.Messages == nil {
			t.Fatalf("unexpected fresh conversation %+v", conv)
		}
		if !conv.CreatedAt.Equal(clock.Now()) {
			t.Fatalf("createdAt = %v, want %v", conv.CreatedAt, clock.Now())
		}

		clock.Advance(time.Second)
		if err := s.Append(ctx, "c1", domain.RoleUser, "hello"); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
		if err := s.Append(ctx, "c1", domain.RoleBot, "Hi there"); err != nil {
			t.Fatal(err)
		}

		conv, err = s.Get(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
		}
		if conv.Messages[0].Role != domain.RoleUser || conv.Messages[0].Content != "hello" {
			t.Errorf("first message = %+v", conv.Messages[0])
		}
		if conv.Messages[1].Role != domain.RoleBot || conv.Messages[1].Content != "Hi there" {
			t.Errorf("second message = %+v", conv.Messages[1])
		}
		if !conv.Messages[1].Timestamp.Equal(clock.Now()) {
			t.Errorf("timestamp = %v, want %v", conv.Messages[1].Timestamp, clock.Now())
		}
	})
}

func TestStore_AppendCreatesMissing(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		if err := s.Append(ctx, "new", domain.RoleUser, "hi"); err != nil {
			t.Fatal(err)
		}
		conv, err := s.Get(ctx, "new")
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(conv.Messages))
		}
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		_, err := s.Get(context.Background(), "nope")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatal("not found must not look like unavailable")
		}
	})
}

func TestStore_CreateResets(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		s.Append(ctx, "c", domain.RoleUser, "one")
		s.Append(ctx, "c", domain.RoleBot, "two")
		if err := s.Create(ctx, "c"); err != nil {
			t.Fatal(err)
		}
		conv, err := s.Get(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) != 0 {
			t.Fatalf("create should discard prior messages, got %d", len(conv.Messages))
		}
	})
}

func TestStore_DeleteIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		s.Append(ctx, "c", domain.RoleUser, "one")
		for i := 0; i < 2; i++ {
			if err := s.Delete(ctx, "c"); err != nil {
				t.Fatalf("delete %d: %v", i, err)
			}
		}
		if _, err := s.Get(ctx, "c"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestStore_InvalidRole(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		err := s.Append(context.Background(), "c", domain.Role("system"), "x")
		if !errors.Is(err, domain.ErrInvalidRole) {
			t.Fatalf("expected ErrInvalidRole, got %v", err)
		}
		if _, err := s.Get(context.Background(), "c"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("rejected append must not create a record, got %v", err)
		}
	})
}

func TestStore_EmptyID(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		if err := s.Create(context.Background(), " "); err == nil {
			t.Fatal("expected error for empty id")
		}
		if err := s.Append(context.Background(), "", domain.RoleUser, "x"); err == nil {
			t.Fatal("expected error for empty id")
		}
	})
}

func TestStore_ExpiresAfterTTL(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		s.Append(ctx, "c", domain.RoleUser, "hi")

		clock.Advance(domain.ConversationTTL - time.Second)
		if _, err := s.Get(ctx, "c"); err != nil {
			t.Fatalf("record should still be live: %v", err)
		}
		clock.Advance(time.Second)
		if _, err := s.Get(ctx, "c"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after TTL, got %v", err)
		}
	})
}

func TestStore_SlidingTTL(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		s.Append(ctx, "c", domain.RoleUser, "first")

		clock.Advance(23*time.Hour + 59*time.Minute)
		if err := s.Append(ctx, "c", domain.RoleBot, "second"); err != nil {
			t.Fatal(err)
		}

		clock.Advance(2 * time.Minute) // 24h01m after the first write
		conv, err := s.Get(ctx, "c")
		if err != nil {
			t.Fatalf("write should have refreshed the TTL: %v", err)
		}
		if len(conv.Messages) != 2 {
			t.Fatalf("expected both messages, got %d", len(conv.Messages))
		}
	})
}

func TestStore_AppendAfterExpiryStartsFresh(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		s.Append(ctx, "c", domain.RoleUser, "old")
		clock.Advance(domain.ConversationTTL + time.Minute)

		if err := s.Append(ctx, "c", domain.RoleUser, "new"); err != nil {
			t.Fatal(err)
		}
		conv, err := s.Get(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) != 1 || conv.Messages[0].Content != "new" {
			t.Fatalf("expected only the new message, got %+v", conv.Messages)
		}
		if !conv.CreatedAt.Equal(clock.Now()) {
			t.Fatalf("createdAt should be reset, got %v", conv.CreatedAt)
		}
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Append(ctx, "busy", domain.RoleUser, fmt.Sprintf("msg-%d", i)); err != nil {
					t.Error(err)
				}
			}(i)
		}
		wg.Wait()

		conv, err := s.Get(ctx, "busy")
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) != n {
			t.Fatalf("expected %d messages, got %d", n, len(conv.Messages))
		}
		seen := make(map[string]bool, n)
		for _, m := range conv.Messages {
			seen[m.Content] = true
		}
		if len(seen) != n {
			t.Fatalf("expected %d distinct messages, got %d", n, len(seen))
		}
	})
}

func TestStore_BackwardsClockKeepsOrder(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		if err := s.Append(ctx, "c", domain.RoleUser, "first"); err != nil {
			t.Fatal(err)
		}
		first := clock.Now()
		clock.Advance(-time.Second)
		if err := s.Append(ctx, "c", domain.RoleBot, "second"); err != nil {
			t.Fatal(err)
		}

		conv, err := s.Get(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
		}
		if got := conv.Messages[1].Timestamp; !got.Equal(first) {
			t.Fatalf("second timestamp = %v, want it held at %v", got, first)
		}
	})
}

func TestStore_ConcurrentAppendsOrdered(t *testing.T) {
	for name, factory := range drivers() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			clock.step = time.Millisecond
			s := factory(t, clock)
			t.Cleanup(func() { s.Close() })
			ctx := context.Background()

			const n = 40
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if err := s.Append(ctx, "busy", domain.RoleUser, fmt.Sprintf("msg-%d", i)); err != nil {
						t.Error(err)
					}
				}(i)
			}
			wg.Wait()

			conv, err := s.Get(ctx, "busy")
			if err != nil {
				t.Fatal(err)
			}
			if len(conv.Messages) != n {
				t.Fatalf("expected %d messages, got %d", n, len(conv.Messages))
			}
			for i := 1; i < len(conv.Messages); i++ {
				if conv.Messages[i].Timestamp.Before(conv.Messages[i-1].Timestamp) {
					t.Fatalf("timestamps decrease at %d: %v after %v",
						i, conv.Messages[i].Timestamp, conv.Messages[i-1].Timestamp)
				}
			}
		})
	}
}

func TestStamp(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log := []domain.Message{{Timestamp: t0}}
	tests := []struct {
		name string
		log  []domain.Message
		now  time.Time
		want time.Time
	}{
		{"empty log", nil, t0.Add(-time.Hour), t0.Add(-time.Hour)},
		{"clock forward", log, t0.Add(time.Second), t0.Add(time.Second)},
		{"same instant", log, t0, t0},
		{"clock backwards", log, t0.Add(-time.Second), t0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stamp(tt.log, tt.now); !got.Equal(tt.want) {
				t.Fatalf("stamp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_IndependentIDs(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx := context.Background()
		s.Append(ctx, "a", domain.RoleUser, "for a")
		s.Append(ctx, "b", domain.RoleUser, "for b")
		s.Delete(ctx, "a")

		conv, err := s.Get(ctx, "b")
		if err != nil || len(conv.Messages) != 1 || conv.Messages[0].Content != "for b" {
			t.Fatalf("b affected by a: %+v, %v", conv, err)
		}
	})
}

func TestStore_CancelledContextIsUnavailable(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s domain.ConversationStore, clock *fakeClock) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Instrument(s, "test", time.Second).Append(ctx, "c", domain.RoleUser, "x")
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
		if errors.Is(err, domain.ErrNotFound) {
			t.Fatal("unavailable must not look like not found")
		}
	})
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(MemoryConfig{Clock: clock.Now, PurgeInterval: -1, Logger: testLogger()})
	defer s.Close()
	ctx := context.Background()

	s.Append(ctx, "old", domain.RoleUser, "x")
	clock.Advance(12 * time.Hour)
	s.Append(ctx, "young", domain.RoleUser, "y")
	clock.Advance(13 * time.Hour)

	if n := s.PurgeExpired(); n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, err := s.Get(ctx, "young"); err != nil {
		t.Fatalf("young record purged: %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(MemoryConfig{PurgeInterval: -1, Logger: testLogger()})
	defer s.Close()
	ctx := context.Background()
	s.Append(ctx, "c", domain.RoleUser, "original")

	conv, _ := s.Get(ctx, "c")
	conv.Messages[0].Content = "mutated"

	again, _ := s.Get(ctx, "c")
	if again.Messages[0].Content != "original" {
		t.Fatal("Get must not expose internal state")
	}
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "c.db"),
		Clock:         clock.Now,
		PurgeInterval: -1,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	s.Append(ctx, "old", domain.RoleUser, "x")
	clock.Advance(12 * time.Hour)
	s.Append(ctx, "young", domain.RoleUser, "y")
	clock.Advance(13 * time.Hour)

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, err := s.Get(ctx, "young"); err != nil {
		t.Fatalf("young record purged: %v", err)
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(SQLiteConfig{Path: path, PurgeInterval: -1, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	s.Append(ctx, "c", domain.RoleUser, "kept")
	s.Close()

	s, err = NewSQLiteStore(SQLiteConfig{Path: path, PurgeInterval: -1, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	conv, err := s.Get(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "kept" {
		t.Fatalf("unexpected record after reopen: %+v", conv)
	}
}

func TestSQLiteStore_ClosedIsUnavailable(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "c.db"), PurgeInterval: -1, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if _, err := s.Get(context.Background(), "c"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: "memory", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, Options{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "c.db"), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := Open(ctx, Options{Driver: "mongo"}); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(ctx, Options{Driver: "sqlite"}); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{domain.ErrNotFound, "not_found"},
		{unavailable("op", context.DeadlineExceeded), "unavailable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := status(tt.err); got != tt.want {
			t.Errorf("status(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("x")
			k.Unlock("x")
		}()
	}
	wg.Wait()
	if len(k.locks) != 0 {
		t.Fatalf("expected no retained locks, got %d", len(k.locks))
	}
}
