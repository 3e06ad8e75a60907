package lookup

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalscale/siteselector/pkg/config"
)

func TestSplitCloudID(t *testing.T) {
	tests := []struct {
		in      string
		user    string
		host    string
		wantErr bool
	}{
		{in: "bob@node1.example.org", user: "bob", host: "node1.example.org"},
		{in: "bob@smith@node1.example.org", user: "bob@smith", host: "node1.example.org"},
		{in: "bob@https://node1.example.org/", user: "bob", host: "node1.example.org"},
		{in: "bob@http://node1.example.org", user: "bob", host: "node1.example.org"},
		{in: "no-at-sign", wantErr: true},
		{in: "@node1.example.org", wantErr: true},
		{in: "bob@", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			user, host, err := SplitCloudID(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.host, host)
		})
	}
}

func TestResolveCloudIDValidate(t *testing.T) {
	uid, host, err := ResolveCloudID(config.UsernameFormatValidate, "bob.smith@node1.example.org")
	require.NoError(t, err)
	assert.Equal(t, "bob.smith", uid)
	assert.Equal(t, "node1.example.org", host)

	_, _, err = ResolveCloudID(config.UsernameFormatValidate, "bob smith@node1.example.org")
	assert.Error(t, err, "spaces are rejected under validate")

	_, _, err = ResolveCloudID(config.UsernameFormatValidate, strings.Repeat("a", 65)+"@node1.example.org")
	assert.Error(t, err, "overlong uids are rejected under validate")
}

func TestResolveCloudIDIgnore(t *testing.T) {
	uid, host, err := ResolveCloudID(config.UsernameFormatIgnore, "bob smith!@node1.example.org")
	require.NoError(t, err)
	assert.Equal(t, "bob smith!", uid, "ignore keeps the user part verbatim")
	assert.Equal(t, "node1.example.org", host)
}

func TestResolveCloudIDSanitize(t *testing.T) {
	uid, host, err := ResolveCloudID(config.UsernameFormatSanitize, "bob smith!@node1.example.org")
	require.NoError(t, err)
	assert.Equal(t, "bob_smith", uid)
	assert.Equal(t, "node1.example.org", host)
}

func TestSanitizeUID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean uid untouched", in: "bob.smith@corp", want: "bob.smith@corp"},
		{name: "spaces collapse to underscore", in: "bob   smith", want: "bob_smith"},
		{name: "invalid characters dropped", in: "bob<script>!#smith", want: "bobscriptsmith"},
		{name: "html entities folded", in: "bob&amp;smith", want: "bobsmith"},
		{name: "empty stays empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeUID(tt.in))
		})
	}
}

func TestSanitizeUIDLongInput(t *testing.T) {
	out := SanitizeUID(strings.Repeat("a", 65))
	assert.Len(t, out, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), out, "overlong uids become a SHA-256 hex digest")
}

func TestSanitizeUIDIdempotent(t *testing.T) {
	inputs := []string{
		"bob smith",
		"bob&amp;smith",
		"übergrößen-nutzer",
		strings.Repeat("x y", 50),
		"already_clean.uid@corp",
	}

	charset := regexp.MustCompile(`^[A-Za-z0-9_.@-]*$`)
	for _, in := range inputs {
		once := SanitizeUID(in)
		assert.Equal(t, once, SanitizeUID(once), "sanitize(sanitize(x)) == sanitize(x) for %q", in)
		assert.Regexp(t, charset, once)
		assert.LessOrEqual(t, len(once), 64)
	}
}
