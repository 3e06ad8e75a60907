package lookup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/globalscale/siteselector/pkg/config"
)

// maxUIDLength is the longest uid the sanitize policy lets through verbatim;
// anything longer is replaced by its SHA-256 hex digest (exactly 64 chars).
const maxUIDLength = 64

var (
	validUID    = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)
	invalidRuns = regexp.MustCompile(`[^A-Za-z0-9_.@-]+`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SplitCloudID breaks a federated cloud id ("user@host") at the last "@" and
// strips any scheme prefix from the host part.
func SplitCloudID(federationID string) (user, host string, err error) {
	at := strings.LastIndex(federationID, "@")
	if at <= 0 || at == len(federationID)-1 {
		return "", "", fmt.Errorf("malformed cloud id %q", federationID)
	}

	user = federationID[:at]
	host = federationID[at+1:]
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")
	if host == "" {
		return "", "", fmt.Errorf("cloud id %q has no host", federationID)
	}
	return user, host, nil
}

// ResolveCloudID applies the configured username policy to a federation id
// returned by the registry and yields the local uid plus owning host.
//
//   - validate: strict structural validation, malformed id is a hard error.
//   - ignore: split only, tolerant of uids SSO systems legitimately produce.
//   - sanitize: split, then rewrite the uid into a guaranteed usable form.
func ResolveCloudID(policy config.UsernameFormat, federationID string) (uid, host string, err error) {
	user, host, err := SplitCloudID(federationID)
	if err != nil {
		return "", "", err
	}

	switch policy {
	case config.UsernameFormatIgnore:
		return user, host, nil
	case config.UsernameFormatSanitize:
		return SanitizeUID(user), host, nil
	default: // validate
		if !validUID.MatchString(user) {
			return "", "", fmt.Errorf("invalid characters in cloud id user part %q", user)
		}
		if len(user) > maxUIDLength {
			return "", "", fmt.Errorf("cloud id user part exceeds %d characters", maxUIDLength)
		}
		return user, host, nil
	}
}

// SanitizeUID rewrites an SSO-supplied identity into a usable local uid:
// HTML entities are folded, whitespace runs become "_", everything outside
// [A-Za-z0-9_.@-] is dropped, and uids still longer than 64 characters are
// replaced by their SHA-256 hex digest. The function is idempotent.
func SanitizeUID(uid string) string {
	s := html.UnescapeString(uid)
	s = spaceRuns.ReplaceAllString(s, "_")
	s = invalidRuns.ReplaceAllString(s, "")

	if len(s) > maxUIDLength {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	return s
}
