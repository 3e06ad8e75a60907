package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintDecodeRoundTrip(t *testing.T) {
	svc := NewService("shared-secret")

	options := Options{
		Target:  "/apps/files",
		Backend: BackendSAML,
		UserData: &UserData{
			Email:       "bob@example.org",
			DisplayName: "Bob",
			Quota:       "10GB",
			Groups:      []string{"staff", "sales"},
		},
		SAML: &SAMLInfo{IDP: "idp-1"},
	}

	raw, err := svc.Mint("bob", "secret", options)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(raw, ".")), "compact JWT has three segments")

	uid, password, decoded, err := svc.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", uid)
	assert.Equal(t, "secret", password)
	assert.Equal(t, options, decoded)
}

func TestDecodeEmptyPassword(t *testing.T) {
	svc := NewService("shared-secret")

	raw, err := svc.Mint("alice", "", Options{Target: "/", Backend: BackendOIDC})
	require.NoError(t, err)

	uid, password, _, err := svc.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
	assert.Empty(t, password)
}

func TestDecodeExpired(t *testing.T) {
	svc := NewService("shared-secret")
	svc.now = func() time.Time { return time.Now().Add(-10 * time.Minute) }

	raw, err := svc.Mint("bob", "secret", Options{Target: "/"})
	require.NoError(t, err)

	svc.now = time.Now
	_, _, _, err = svc.Decode(raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenInvalid, "expired must be distinguishable from invalid")
}

func TestDecodeWrongSecret(t *testing.T) {
	raw, err := NewService("secret-a").Mint("bob", "secret", Options{Target: "/"})
	require.NoError(t, err)

	_, _, _, err = NewService("secret-b").Decode(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestDecodeGarbage(t *testing.T) {
	svc := NewService("shared-secret")

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, _, _, err := svc.Decode(raw)
		assert.ErrorIs(t, err, ErrTokenInvalid, "input %q", raw)
	}
}

func TestIsValid(t *testing.T) {
	svc := NewService("shared-secret")

	raw, err := svc.Mint("bob", "secret", Options{Target: "/"})
	require.NoError(t, err)

	assert.True(t, svc.IsValid(raw))
	assert.False(t, svc.IsValid(""))
	assert.False(t, svc.IsValid("garbage"))
	assert.False(t, NewService("other").IsValid(raw))
}

func TestLogoutRoundTrip(t *testing.T) {
	svc := NewService("shared-secret")

	raw, err := svc.MintLogout("https://idp.example.org", "")
	require.NoError(t, err)

	logout, err := svc.DecodeLogout(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.org", logout.SAMLIdP)
	assert.Empty(t, logout.OIDCProviderID)
}

func TestDecodeLogoutRejectsFederationToken(t *testing.T) {
	svc := NewService("shared-secret")

	raw, err := svc.Mint("bob", "secret", Options{Target: "/"})
	require.NoError(t, err)

	_, err = svc.DecodeLogout(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPasswordCipherTamper(t *testing.T) {
	c := newPasswordCipher("shared-secret")

	sealed, err := c.encrypt("secret")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "xx"
	_, err = c.decrypt(tampered)
	assert.Error(t, err)
}
