package httputil

import "regexp"

// First-party sync client user agents. General purpose webdav clients are
// not in this list on purpose; they go through the webdav passthrough.
var clientUserAgents = []*regexp.Regexp{
	regexp.MustCompile(`^Mozilla/5\.0 \(iOS\) (ownCloud|Nextcloud)-iOS.*$`),
	regexp.MustCompile(`^Mozilla/5\.0 \(Android\) (ownCloud|Nextcloud)-android.*$`),
	regexp.MustCompile(`^Mozilla/5\.0 \([A-Za-z ]+\) (mirall|csyncoC)/.*$`),
	regexp.MustCompile(`^.*\(Android\)$`),
}

// IsClientUserAgent reports whether the request comes from a first-party
// sync client rather than a browser.
func IsClientUserAgent(ua string) bool {
	for _, re := range clientUserAgents {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}
