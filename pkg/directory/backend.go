package directory

import (
	"context"
	"errors"
)

// Backend is the user-provider capability set the login pipeline needs.
// *Store implements it; deployments with additional user sources register
// them on the PseudoBackend.
type Backend interface {
	Users(ctx context.Context, search string, limit, offset int) ([]User, error)
	UserExists(ctx context.Context, uid string) (bool, error)
	DisplayName(ctx context.Context, uid string) (string, error)
	CountUsers(ctx context.Context) (int, error)
}

// PseudoBackend fronts all registered user backends. Its password check is
// pure trust reflection: a federated login already proved itself to the
// master, so the only thing to verify here is that the uid matches the one
// the verified token put into the session.
type PseudoBackend struct {
	local    *Store
	backends []Backend
}

// NewPseudoBackend creates the facade over the local account table.
func NewPseudoBackend(local *Store) *PseudoBackend {
	return &PseudoBackend{
		local:    local,
		backends: []Backend{local},
	}
}

// Register adds another user source consulted before the local table.
func (p *PseudoBackend) Register(b Backend) {
	p.backends = append([]Backend{b}, p.backends...)
}

// RegisterFallback adds a user source consulted only after all others, such
// as the lookup registry for accounts hosted elsewhere.
func (p *PseudoBackend) RegisterFallback(b Backend) {
	p.backends = append(p.backends, b)
}

// CheckPassword accepts a login only when the uid equals the session uid
// established by a verified federation token. The password is ignored.
func (p *PseudoBackend) CheckPassword(sessionUID, uid, _ string) bool {
	return sessionUID != "" && sessionUID == uid
}

// UserExists asks every backend.
func (p *PseudoBackend) UserExists(ctx context.Context, uid string) (bool, error) {
	var lastErr error
	for _, b := range p.backends {
		exists, err := b.UserExists(ctx, uid)
		if err != nil {
			lastErr = err
			continue
		}
		if exists {
			return true, nil
		}
	}
	return false, lastErr
}

// DisplayName returns the name from the first backend that knows the uid.
func (p *PseudoBackend) DisplayName(ctx context.Context, uid string) (string, error) {
	for _, b := range p.backends {
		name, err := b.DisplayName(ctx, uid)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		return name, nil
	}
	return "", ErrUserNotFound
}

// Users merges the backends' listings up to limit.
func (p *PseudoBackend) Users(ctx context.Context, search string, limit, offset int) ([]User, error) {
	var merged []User
	for _, b := range p.backends {
		if limit > 0 && len(merged) >= limit {
			break
		}
		users, err := b.Users(ctx, search, limit-len(merged), offset)
		if err != nil {
			return nil, err
		}
		merged = append(merged, users...)
	}
	return merged, nil
}

// CountUsers sums over all backends.
func (p *PseudoBackend) CountUsers(ctx context.Context) (int, error) {
	total := 0
	for _, b := range p.backends {
		count, err := b.CountUsers(ctx)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}
