package directory

import (
	"context"
)

// DetailsSource resolves display names for federated cloud ids. The lookup
// registry client implements it.
type DetailsSource interface {
	UsersDetails(ctx context.Context, userIDs []string, cacheOnly bool) map[string]string
}

// RegistryBackend answers for accounts hosted on other instances through
// the lookup registry. It can only resolve existence and display names of
// cloud ids; listing and counting stay with the local backends.
type RegistryBackend struct {
	details DetailsSource
}

// NewRegistryBackend wraps a details source as a fallback user backend.
func NewRegistryBackend(details DetailsSource) *RegistryBackend {
	return &RegistryBackend{details: details}
}

func (b *RegistryBackend) Users(ctx context.Context, search string, limit, offset int) ([]User, error) {
	return nil, nil
}

func (b *RegistryBackend) UserExists(ctx context.Context, uid string) (bool, error) {
	_, ok := b.details.UsersDetails(ctx, []string{uid}, false)[uid]
	return ok, nil
}

func (b *RegistryBackend) DisplayName(ctx context.Context, uid string) (string, error) {
	name, ok := b.details.UsersDetails(ctx, []string{uid}, false)[uid]
	if !ok || name == "" {
		return "", ErrUserNotFound
	}
	return name, nil
}

func (b *RegistryBackend) CountUsers(ctx context.Context) (int, error) {
	return 0, nil
}
