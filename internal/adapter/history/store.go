// Package history persists session transcripts in SQLite. Message
// content may be encrypted at rest; role and ordering stay in the
// clear so queries never need a key.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/security"
)

// SessionInfo summarizes one stored session.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

// Store is the SQLite-backed transcript store.
type Store struct {
	db     *sql.DB
	enc    *security.ContentEncryptor
	logger *slog.Logger
}

// New opens (or creates) the database at path and runs migrations.
// A non-empty passphrase enables at-rest encryption of message
// content; the key salt is stored alongside the data.
func New(path, passphrase string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrHistoryStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrHistoryStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}

	if passphrase != "" {
		salt, err := s.loadOrCreateSalt()
		if err != nil {
			db.Close()
			return nil, err
		}
		enc, err := security.NewContentEncryptor(passphrase, salt)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.enc = enc
	}

	return s, nil
}

func migrate(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		extra      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrHistoryStore, err)
	}
	return nil
}

// loadOrCreateSalt reads the key derivation salt, generating it on
// first use.
func (s *Store) loadOrCreateSalt() ([]byte, error) {
	var salt []byte
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'kdf_salt'`).Scan(&salt)
	switch {
	case err == sql.ErrNoRows:
		salt, err = security.NewSalt()
		if err != nil {
			return nil, err
		}
		if _, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('kdf_salt', ?)`, salt); err != nil {
			return nil, fmt.Errorf("%w: save salt: %v", domain.ErrHistoryStore, err)
		}
		return salt, nil
	case err != nil:
		return nil, fmt.Errorf("%w: load salt: %v", domain.ErrHistoryStore, err)
	}
	return salt, nil
}

// CreateSession allocates a new session and returns its id.
func (s *Store) CreateSession(ctx context.Context) (string, error) {
	id := ulid.Make().String()
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now)
	if err != nil {
		return "", fmt.Errorf("%w: create session: %v", domain.ErrHistoryStore, err)
	}
	return id, nil
}

// Append stores msgs at the end of the session transcript.
func (s *Store) Append(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrHistoryStore, err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("%w: check session: %v", domain.ErrHistoryStore, err)
	}
	if exists == 0 {
		return domain.NewDomainError("history.Append", domain.ErrSessionNotFound, sessionID)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM messages WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("%w: next seq: %v", domain.ErrHistoryStore, err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		seq++
		content := m.Content
		if s.enc != nil {
			enc, err := s.enc.Encrypt(content)
			if err != nil {
				return err
			}
			content = enc
		}
		extra, err := marshalExtra(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, extra, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, seq, string(m.Role), content, extra, now); err != nil {
			return fmt.Errorf("%w: insert message: %v", domain.ErrHistoryStore, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return fmt.Errorf("%w: touch session: %v", domain.ErrHistoryStore, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrHistoryStore, err)
	}
	return nil
}

// Messages returns the session transcript in order. Content written
// before encryption was enabled passes through unchanged.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: check session: %v", domain.ErrHistoryStore, err)
	}
	if exists == 0 {
		return nil, domain.NewDomainError("history.Messages", domain.ErrSessionNotFound, sessionID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, extra, created_at FROM messages
		 WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var role, content, extra string
		var createdAt int64
		if err := rows.Scan(&role, &content, &extra, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrHistoryStore, err)
		}
		if s.enc != nil && s.enc.IsEncrypted(content) {
			plain, err := s.enc.Decrypt(content)
			if err != nil {
				return nil, err
			}
			content = plain
		}
		m := domain.Message{
			Role:      domain.Role(role),
			Content:   content,
			Timestamp: time.UnixMilli(createdAt),
		}
		if err := unmarshalExtra(extra, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Sessions lists stored sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.created_at, s.updated_at, COUNT(m.seq)
		 FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: query sessions: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var created, updated int64
		if err := rows.Scan(&info.ID, &created, &updated, &info.Messages); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrHistoryStore, err)
		}
		info.CreatedAt = time.UnixMilli(created)
		info.UpdatedAt = time.UnixMilli(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a session and its messages.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", domain.ErrHistoryStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("history.Delete", domain.ErrSessionNotFound, sessionID)
	}
	// Cascade is not always enabled; delete explicitly.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete messages: %v", domain.ErrHistoryStore, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.enc != nil {
		s.enc.Zeroize()
	}
	return s.db.Close()
}

// messageExtra carries the structured message fields that don't get
// their own columns.
type messageExtra struct {
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []domain.ToolCall `json:"tool_calls,omitempty"`
}

func marshalExtra(m domain.Message) (string, error) {
	if m.Name == "" && m.ToolCallID == "" && len(m.ToolCalls) == 0 {
		return "", nil
	}
	data, err := json.Marshal(messageExtra{
		Name: m.Name, ToolCallID: m.ToolCallID, ToolCalls: m.ToolCalls,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal extra: %v", domain.ErrHistoryStore, err)
	}
	return string(data), nil
}

func unmarshalExtra(extra string, m *domain.Message) error {
	if extra == "" {
		return nil
	}
	var e messageExtra
	if err := json.Unmarshal([]byte(extra), &e); err != nil {
		return fmt.Errorf("%w: unmarshal extra: %v", domain.ErrHistoryStore, err)
	}
	m.Name, m.ToolCallID, m.ToolCalls = e.Name, e.ToolCallID, e.ToolCalls
	return nil
}
