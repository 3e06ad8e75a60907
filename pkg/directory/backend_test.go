package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	users map[string]string // uid -> display name
}

func (f *fakeBackend) Users(_ context.Context, search string, limit, offset int) ([]User, error) {
	var out []User
	for uid, name := range f.users {
		out = append(out, User{UID: uid, DisplayName: name})
	}
	return out, nil
}

func (f *fakeBackend) UserExists(_ context.Context, uid string) (bool, error) {
	_, ok := f.users[uid]
	return ok, nil
}

func (f *fakeBackend) DisplayName(_ context.Context, uid string) (string, error) {
	name, ok := f.users[uid]
	if !ok {
		return "", ErrUserNotFound
	}
	return name, nil
}

func (f *fakeBackend) CountUsers(_ context.Context) (int, error) {
	return len(f.users), nil
}

func newPseudoWithFakes(extra *fakeBackend) *PseudoBackend {
	p := &PseudoBackend{backends: []Backend{&fakeBackend{users: map[string]string{"local": "Local User"}}}}
	if extra != nil {
		p.Register(extra)
	}
	return p
}

func TestCheckPasswordIsTrustReflection(t *testing.T) {
	p := newPseudoWithFakes(nil)

	assert.True(t, p.CheckPassword("alice", "alice", "ignored"))
	assert.False(t, p.CheckPassword("alice", "bob", "ignored"), "uid must match the session identity")
	assert.False(t, p.CheckPassword("", "alice", "ignored"), "no session means no trust to reflect")
}

func TestPseudoBackendProxies(t *testing.T) {
	ctx := context.Background()
	p := newPseudoWithFakes(&fakeBackend{users: map[string]string{"alice": "Alice"}})

	exists, err := p.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = p.UserExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)

	name, err := p.DisplayName(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "Local User", name, "local table answers when the registered backend does not know the uid")

	_, err = p.DisplayName(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	count, err := p.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

type fakeDetails struct {
	names map[string]string
}

func (f *fakeDetails) UsersDetails(_ context.Context, userIDs []string, _ bool) map[string]string {
	out := map[string]string{}
	for _, id := range userIDs {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out
}

func TestRegistryBackendResolvesRemoteUsers(t *testing.T) {
	ctx := context.Background()
	remote := NewRegistryBackend(&fakeDetails{names: map[string]string{"bob@node2.example.org": "Bob"}})

	p := newPseudoWithFakes(nil)
	p.RegisterFallback(remote)

	name, err := p.DisplayName(ctx, "bob@node2.example.org")
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)

	name, err = p.DisplayName(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "Local User", name, "local backends answer before the registry")

	exists, err := p.UserExists(ctx, "bob@node2.example.org")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := p.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the registry contributes nothing to local counts")
}
