package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned when a uid has no row in the account table.
var ErrUserNotFound = errors.New("user not found")

// User is one hosted account.
type User struct {
	UID         string
	DisplayName string
	Email       string
	Quota       string
	CreatedAt   time.Time
	LastLogin   time.Time
}

// Attributes is the user data carried inside a federation token, applied to
// the local account on every login.
type Attributes struct {
	Email       string
	DisplayName string
	Quota       string
	Groups      []string
}

// CloudID is the federated identity of a hosted account.
func CloudID(uid, host string) string {
	return uid + "@" + host
}

// Store is the PostgreSQL-backed account table.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL and verifies the connection.
func NewStore(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateUserIfNotExists inserts the account and reports whether this was its
// first login.
func (s *Store) CreateUserIfNotExists(ctx context.Context, uid, displayName string) (bool, error) {
	query := `
		INSERT INTO global_scale_users (uid, displayname, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (uid) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, uid, displayName)
	if err != nil {
		return false, fmt.Errorf("failed to create user %s: %w", uid, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetUser loads one account.
func (s *Store) GetUser(ctx context.Context, uid string) (*User, error) {
	query := `
		SELECT uid, displayname, email, quota, created_at, COALESCE(last_login, created_at)
		FROM global_scale_users
		WHERE uid = $1
	`

	var u User
	err := s.db.QueryRowContext(ctx, query, uid).Scan(
		&u.UID, &u.DisplayName, &u.Email, &u.Quota, &u.CreatedAt, &u.LastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", uid, err)
	}
	return &u, nil
}

// UpdateAttributes applies the attribute set from a login, touching only the
// columns that actually changed. Group membership is reconciled against the
// incoming list.
func (s *Store) UpdateAttributes(ctx context.Context, uid string, attrs Attributes) error {
	current, err := s.GetUser(ctx, uid)
	if err != nil {
		return err
	}

	if attrs.Email != "" && attrs.Email != current.Email {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE global_scale_users SET email = $2 WHERE uid = $1`, uid, attrs.Email); err != nil {
			return fmt.Errorf("failed to update email for %s: %w", uid, err)
		}
	}
	if attrs.DisplayName != "" && attrs.DisplayName != current.DisplayName {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE global_scale_users SET displayname = $2 WHERE uid = $1`, uid, attrs.DisplayName); err != nil {
			return fmt.Errorf("failed to update display name for %s: %w", uid, err)
		}
	}
	if attrs.Quota != "" && attrs.Quota != current.Quota {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE global_scale_users SET quota = $2 WHERE uid = $1`, uid, attrs.Quota); err != nil {
			return fmt.Errorf("failed to update quota for %s: %w", uid, err)
		}
	}

	if attrs.Groups != nil {
		if err := s.reconcileGroups(ctx, uid, attrs.Groups); err != nil {
			return err
		}
	}

	return nil
}

// reconcileGroups adds missing memberships and removes stale ones.
func (s *Store) reconcileGroups(ctx context.Context, uid string, want []string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gid FROM global_scale_group_members WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to load groups for %s: %w", uid, err)
	}
	defer rows.Close()

	have := map[string]bool{}
	for rows.Next() {
		var gid string
		if err := rows.Scan(&gid); err != nil {
			return err
		}
		have[gid] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	wanted := map[string]bool{}
	for _, gid := range want {
		wanted[gid] = true
		if have[gid] {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO global_scale_group_members (uid, gid) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			uid, gid); err != nil {
			return fmt.Errorf("failed to add %s to group %s: %w", uid, gid, err)
		}
	}

	for gid := range have {
		if wanted[gid] {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM global_scale_group_members WHERE uid = $1 AND gid = $2`, uid, gid); err != nil {
			return fmt.Errorf("failed to remove %s from group %s: %w", uid, gid, err)
		}
	}

	return nil
}

// StampLastLogin records a successful login.
func (s *Store) StampLastLogin(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE global_scale_users SET last_login = NOW() WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to stamp last login for %s: %w", uid, err)
	}
	return nil
}

// SetProviderState remembers which SSO provider authenticated the user, for
// later logout federation.
func (s *Store) SetProviderState(ctx context.Context, uid, samlIDP, oidcProviderID string) error {
	query := `
		INSERT INTO global_scale_provider_state (uid, saml_idp, oidc_provider_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO UPDATE SET saml_idp = $2, oidc_provider_id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, uid, samlIDP, oidcProviderID); err != nil {
		return fmt.Errorf("failed to store provider state for %s: %w", uid, err)
	}
	return nil
}

// ProviderState returns the stored SSO provider of the user. Both values are
// empty for plain database accounts.
func (s *Store) ProviderState(ctx context.Context, uid string) (samlIDP, oidcProviderID string, err error) {
	query := `SELECT saml_idp, oidc_provider_id FROM global_scale_provider_state WHERE uid = $1`

	err = s.db.QueryRowContext(ctx, query, uid).Scan(&samlIDP, &oidcProviderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load provider state for %s: %w", uid, err)
	}
	return samlIDP, oidcProviderID, nil
}

// SetPassword stores a bcrypt hash for a plain database account.
func (s *Store) SetPassword(ctx context.Context, uid, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE global_scale_users SET password_hash = $2 WHERE uid = $1`, uid, string(hash))
	if err != nil {
		return fmt.Errorf("failed to set password for %s: %w", uid, err)
	}
	return nil
}

// VerifyPassword checks a plaintext password against the stored hash.
func (s *Store) VerifyPassword(ctx context.Context, uid, password string) (bool, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM global_scale_users WHERE uid = $1`, uid).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to load password hash for %s: %w", uid, err)
	}
	if !hash.Valid || hash.String == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)) == nil, nil
}

// DeleteUser drops the account, its memberships and its provider state.
func (s *Store) DeleteUser(ctx context.Context, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM global_scale_group_members WHERE uid = $1`,
		`DELETE FROM global_scale_provider_state WHERE uid = $1`,
		`DELETE FROM global_scale_users WHERE uid = $1`,
	} {
		if _, err := tx.ExecContext(ctx, query, uid); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", uid, err)
		}
	}

	return tx.Commit()
}

// Backend interface methods, mirroring the host's user provider surface.

// Users lists accounts matching search, paged.
func (s *Store) Users(ctx context.Context, search string, limit, offset int) ([]User, error) {
	query := `
		SELECT uid, displayname, email, quota, created_at, COALESCE(last_login, created_at)
		FROM global_scale_users
		WHERE uid ILIKE '%' || $1 || '%' OR displayname ILIKE '%' || $1 || '%'
		ORDER BY uid
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UID, &u.DisplayName, &u.Email, &u.Quota, &u.CreatedAt, &u.LastLogin); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserExists reports whether the uid has an account here.
func (s *Store) UserExists(ctx context.Context, uid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM global_scale_users WHERE uid = $1)`, uid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", uid, err)
	}
	return exists, nil
}

// DisplayName returns the display name, or the uid itself when unset.
func (s *Store) DisplayName(ctx context.Context, uid string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT displayname FROM global_scale_users WHERE uid = $1`, uid).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load display name for %s: %w", uid, err)
	}
	if name == "" {
		return uid, nil
	}
	return name, nil
}

// CountUsers returns the number of hosted accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM global_scale_users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
