package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is the record written by the HTTP layer after a verified automatic
// login. It is the single place login state is persisted; the login pipeline
// itself only returns the identity.
type Session struct {
	ID        string
	UID       string
	UserData  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists login sessions in PostgreSQL.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionStore creates a session store on an existing connection.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Create writes a new session for uid and returns it.
func (s *SessionStore) Create(ctx context.Context, uid, userData string, ttl time.Duration) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		UID:       uid,
		UserData:  userData,
		CreatedAt: s.now(),
		ExpiresAt: s.now().Add(ttl),
	}

	query := `
		INSERT INTO gss_sessions (id, uid, user_data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.UID, session.UserData, session.CreatedAt, session.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", uid, err)
	}
	return session, nil
}

// Get loads a session; expired sessions are treated as absent.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, uid, user_data, created_at, expires_at
		FROM gss_sessions
		WHERE id = $1
	`

	var session Session
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.UID, &session.UserData, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if s.now().After(session.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// Delete removes one session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gss_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired purges expired sessions and returns how many were removed.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM gss_sessions WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return result.RowsAffected()
}
