package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"faqbot/internal/domain"
)

type MemoryConfig struct {
	TTL           time.Duration // default: domain.ConversationTTL
	Clock         Clock         // default: time.Now
	PurgeInterval time.Duration // janitor period, default 1m; < 0 disables it
	Logger        *slog.Logger
}

type memoryRecord struct {
	conv      domain.Conversation
	expiresAt time.Time
}

// MemoryStore keeps conversations in process memory. Records are purged
// lazily on access and by a background janitor.
type MemoryStore struct {
	mu      sync.RWMutex // guards records
	records map[string]*memoryRecord
	locks   keyedMutex

	ttl    time.Duration
	now    Clock
	logger *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.ConversationTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = time.Minute
	}
	s := &MemoryStore{
		records: make(map[string]*memoryRecord),
		ttl:     cfg.TTL,
		now:     cfg.Clock,
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.PurgeInterval > 0 {
		go runJanitor(cfg.PurgeInterval, s.stop, s.done, func() { s.PurgeExpired() })
	} else {
		close(s.done)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable("create", err)
	}
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	now := s.now()
	s.put(id, &memoryRecord{
		conv:      domain.Conversation{ID: id, CreatedAt: now, Messages: []domain.Message{}},
		expiresAt: now.Add(s.ttl),
	})
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, role domain.Role, content string) error {
	if err := validID(id); err != nil {
		return err
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}
	if err := ctx.Err(); err != nil {
		return unavailable("append", err)
	}
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	now := s.now()
	conv := domain.Conversation{ID: id, CreatedAt: now}
	if rec := s.live(id, now); rec != nil {
		conv.CreatedAt = rec.conv.CreatedAt
		conv.Messages = make([]domain.Message, len(rec.conv.Messages), len(rec.conv.Messages)+1)
		copy(conv.Messages, rec.conv.Messages)
	}
	conv.Messages = append(conv.Messages, domain.Message{Role: role, Content: content, Timestamp: stamp(conv.Messages, now)})
	s.put(id, &memoryRecord{conv: conv, expiresAt: now.Add(s.ttl)})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	rec := s.live(id, s.now())
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	conv := rec.conv
	conv.Messages = make([]domain.Message, len(rec.conv.Messages))
	copy(conv.Messages, rec.conv.Messages)
	return &conv, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// PurgeExpired drops every expired record and returns how many were removed.
func (s *MemoryStore) PurgeExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if expired(rec.expiresAt, now) {
			delete(s.records, id)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("purged expired conversations", "count", n)
	}
	return n
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// live returns the unexpired record for id, removing it if it has expired.
func (s *MemoryStore) live(id string, now time.Time) *memoryRecord {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if expired(rec.expiresAt, now) {
		s.mu.Lock()
		if cur, ok := s.records[id]; ok && cur == rec {
			delete(s.records, id)
		}
		s.mu.Unlock()
		return nil
	}
	return rec
}

func (s *MemoryStore) put(id string, rec *memoryRecord) {
	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()
}

// keyedMutex hands out one mutex per key, released when no goroutine holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	m.Unlock()
}
