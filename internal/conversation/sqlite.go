package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"faqbot/internal/domain"

	_ "modernc.org/sqlite"
)

type SQLiteConfig struct {
	Path          string
	TTL           time.Duration // default: domain.ConversationTTL
	Clock         Clock         // default: time.Now
	PurgeInterval time.Duration // janitor period, default 10m; < 0 disables it
	Logger        *slog.Logger
}

// SQLiteStore persists conversations in a SQLite file. Times are stored as
// Unix nanoseconds; rows past expires_at are treated as absent.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    Clock
	logger *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite conversation store: path is required")
	}
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
		cfg.PurgeInterval = 10 * time.Minute
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite allows one writer, and this also serializes
	// appends to the same conversation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:     db,
		ttl:    cfg.TTL,
		now:    cfg.Clock,
		logger: cfg.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	if cfg.PurgeInterval > 0 {
		go runJanitor(cfg.PurgeInterval, s.stop, s.done, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.PurgeExpired(ctx); err != nil {
				s.logger.Warn("purge expired conversations failed", "err", err)
			}
		})
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		created_at  INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_expiry ON conversations(expires_at);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.reset(ctx, tx, id, now)
	})
	return unavailable("sqlite create", err)
}

func (s *SQLiteStore) Append(ctx context.Context, id string, role domain.Role, content string) error {
	if err := validID(id); err != nil {
		return err
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// The clock is read once the connection is held, so commit order
		// and timestamp order agree.
		now := s.now()
		var expiresAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT expires_at FROM conversations WHERE id = ?`, id,
		).Scan(&expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows) || (err == nil && expired(time.Unix(0, expiresAt), now)):
			if err := s.reset(ctx, tx, id, now); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET expires_at = ? WHERE id = ?`,
				now.Add(s.ttl).UnixNano(), id,
			); err != nil {
				return err
			}
		}
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`, id,
		).Scan(&last); err != nil {
			return err
		}
		ts := now.UnixNano()
		if last.Valid && ts < last.Int64 {
			ts = last.Int64
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			id, string(role), content, ts,
		)
		return err
	})
	return unavailable("sqlite append", err)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	now := s.now()
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, expires_at FROM conversations WHERE id = ?`, id,
	).Scan(&createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("sqlite get", err)
	}
	if expired(time.Unix(0, expiresAt), now) {
		return nil, domain.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, unavailable("sqlite get", err)
	}
	defer rows.Close()

	conv := &domain.Conversation{
		ID:        id,
		CreatedAt: time.Unix(0, createdAt),
		Messages:  []domain.Message{},
	}
	for rows.Next() {
		var (
			m  domain.Message
			ts int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, unavailable("sqlite get", err)
		}
		m.Timestamp = time.Unix(0, ts)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite get", err)
	}
	return conv, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		return err
	})
	return unavailable("sqlite delete", err)
}

// PurgeExpired deletes expired conversations with their messages and
// returns how many conversations were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UnixNano()
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id IN
			 (SELECT id FROM conversations WHERE expires_at <= ?)`, cutoff,
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE expires_at <= ?`, cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, unavailable("sqlite purge", err)
	}
	if n > 0 {
		s.logger.Debug("purged expired conversations", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}

// reset replaces any existing record for id with an empty one.
func (s *SQLiteStore) reset(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at, expires_at = excluded.expires_at`,
		id, now.UnixNano(), now.Add(s.ttl).UnixNano(),
	)
	return err
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
