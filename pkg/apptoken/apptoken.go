package apptoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// TokenLength is the length of the generated app password.
const TokenLength = 72

// tokenAlphabet matches the character classes used for app passwords:
// upper case, lower case and digits.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrTokenNotFound is returned when no stored token matches.
var ErrTokenNotFound = errors.New("app token not found")

// DeviceToken is the stored record describing one device credential. The
// secret itself is never stored.
type DeviceToken struct {
	ID        int64     `json:"id"`
	UID       string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Result pairs the one-time plaintext secret with its stored record.
type Result struct {
	Token       string      `json:"token"`
	DeviceToken DeviceToken `json:"deviceToken"`
}

// Handler mints and verifies app tokens.
type Handler struct {
	db  *sql.DB
	now func() time.Time
}

// NewHandler creates a handler on an existing connection.
func NewHandler(db *sql.DB) *Handler {
	return &Handler{db: db, now: time.Now}
}

// Generate mints a fresh app password for uid and stores its hash.
func (h *Handler) Generate(ctx context.Context, uid, deviceName string) (*Result, error) {
	secret, err := randomToken(TokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate app token: %w", err)
	}

	record := DeviceToken{
		UID:       uid,
		Name:      deviceName,
		CreatedAt: h.now(),
	}

	query := `
		INSERT INTO gss_app_tokens (uid, name, token_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err = h.db.QueryRowContext(ctx, query, uid, deviceName, hashToken(secret), record.CreatedAt).
		Scan(&record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to store app token for %s: %w", uid, err)
	}

	return &Result{Token: secret, DeviceToken: record}, nil
}

// Verify checks a presented app password for uid and stamps its last use.
func (h *Handler) Verify(ctx context.Context, uid, token string) (*DeviceToken, error) {
	query := `
		SELECT id, name, token_hash, created_at
		FROM gss_app_tokens
		WHERE uid = $1
	`

	rows, err := h.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load app tokens for %s: %w", uid, err)
	}
	defer rows.Close()

	presented := hashToken(token)
	for rows.Next() {
		var (
			record DeviceToken
			hash   string
		)
		if err := rows.Scan(&record.ID, &record.Name, &hash, &record.CreatedAt); err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(hash), []byte(presented)) != 1 {
			continue
		}

		record.UID = uid
		if _, err := h.db.ExecContext(ctx,
			`UPDATE gss_app_tokens SET last_used = $2 WHERE id = $1`, record.ID, h.now()); err != nil {
			return nil, fmt.Errorf("failed to stamp app token use: %w", err)
		}
		return &record, nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return nil, ErrTokenNotFound
}

// Revoke deletes one device credential.
func (h *Handler) Revoke(ctx context.Context, uid string, id int64) error {
	_, err := h.db.ExecContext(ctx,
		`DELETE FROM gss_app_tokens WHERE uid = $1 AND id = $2`, uid, id)
	if err != nil {
		return fmt.Errorf("failed to revoke app token %d for %s: %w", id, uid, err)
	}
	return nil
}

func randomToken(length int) (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
