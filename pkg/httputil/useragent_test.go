package httputil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClientUserAgent(t *testing.T) {
	cases := map[string]bool{
		"Mozilla/5.0 (Android) Nextcloud-android/3.21.0":           true,
		"Mozilla/5.0 (iOS) Nextcloud-iOS/4.8.0":                    true,
		"Mozilla/5.0 (Macintosh) mirall/3.10.1":                    true,
		"DAVx5/4.3 (Android)":                                      true,
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101": false,
		"curl/8.0.1": false,
	}
	for ua, want := range cases {
		assert.Equal(t, want, IsClientUserAgent(ua), ua)
	}
}
