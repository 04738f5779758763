package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store manages session and message persistence on SQLite.
//
// Store is safe for concurrent use by multiple goroutines; SQLite
// serializes writes and WAL mode keeps readers unblocked.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store on an opened, migrated database.
// A nil logger falls back to slog.Default().
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateSession creates a new conversation session.
// An empty title gets the default "Cinematic Discussion <id prefix>".
func (s *Store) CreateSession(ctx context.Context, title string, metadata map[string]any) (*Session, error) {
	id := uuid.New()
	if title == "" {
		title = "Cinematic Discussion " + id.String()[:8]
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id.String(), title, string(metaJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Debug("created session", "id", id, "title", title)
	return &Session{
		ID:        id,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetSession retrieves a session by ID, including its message count.
// Returns ErrNotFound if the session does not exist.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.title, s.metadata, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s WHERE s.id = ?`,
		id.String(),
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions lists all sessions with message counts, most recently
// updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.metadata, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s ORDER BY s.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	s.logger.Debug("listed sessions", "count", len(sessions))
	return sessions, nil
}

// UpdateSession renames a session and/or replaces its metadata.
// Nil arguments leave the corresponding field unchanged.
func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, title *string, metadata map[string]any) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		sess.Title = *title
	}
	if metadata != nil {
		sess.Metadata = metadata
	}
	sess.UpdatedAt = s.now()

	metaJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		sess.Title, string(metaJSON), sess.UpdatedAt, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}

	s.logger.Debug("updated session", "id", id)
	return sess, nil
}

// DeleteSession deletes a session and all its messages (cascade).
// Returns ErrNotFound if the session does not exist.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to delete session %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AppendMessage durably appends one message to a session's log and bumps
// the session's updated_at. The write is committed before return; this is
// the guarantee the persistence-first turn protocol rests on.
// Returns ErrNotFound if the session does not exist.
func (s *Store) AppendMessage(ctx context.Context, sessionID uuid.UUID, role, content string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID.String(),
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check session %s: %w", sessionID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("failed to append to session %s: %w", sessionID, ErrNotFound)
	}

	var maxSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`,
		sessionID.String(),
	).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read max seq: %w", err)
	}

	msg := &Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Seq:       maxSeq + 1,
		CreatedAt: s.now(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), sessionID.String(), msg.Role, msg.Content, msg.Seq, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt, sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	s.logger.Debug("appended message",
		"session_id", sessionID, "role", role, "seq", msg.Seq)
	return msg, nil
}

// Messages returns a session's messages in append order.
// Returns ErrNotFound if the session does not exist.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, seq, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg           Message
			idStr, sidStr string
		)
		if err := rows.Scan(&idStr, &sidStr, &msg.Role, &msg.Content, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("failed to parse message id: %w", err)
		}
		if msg.SessionID, err = uuid.Parse(sidStr); err != nil {
			return nil, fmt.Errorf("failed to parse session id: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// ClearMessages deletes all messages from a session without deleting the
// session itself.
// Returns ErrNotFound if the session does not exist.
func (s *Store) ClearMessages(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ?`, sessionID.String())
	if err != nil {
		return fmt.Errorf("failed to clear messages for session %s: %w", sessionID, err)
	}

	s.logger.Debug("cleared messages", "session_id", sessionID)
	return nil
}

// Ping verifies database connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess     Session
		idStr    string
		metaJSON string
	)
	err := row.Scan(&idStr, &sess.Title, &metaJSON, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if sess.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", idStr, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("invalid session metadata: %w", err)
	}

	return &sess, nil
}
