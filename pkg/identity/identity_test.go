package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/lookup"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newService(cfg *config.Config, lookupURL string) *Service {
	client := httputil.NewClient(time.Second, 2*time.Second, false)
	return NewService(cfg, lookup.New(lookupURL, "", config.UsernameFormatIgnore, client, nil, testLogger()), client, testLogger())
}

func slaveCfg() *config.Config {
	return &config.Config{Federation: config.FederationConfig{Mode: config.ModeSlave}}
}

func TestLocalTokenIsStable(t *testing.T) {
	s := newService(slaveCfg(), "")

	token := s.LocalToken()
	assert.Len(t, token, tokenLength)
	assert.Regexp(t, "^[a-z0-9]+$", token)
	assert.Equal(t, token, s.LocalToken(), "same token for the process lifetime")
	assert.True(t, s.IsLocalToken(token))
	assert.False(t, s.IsLocalToken("other"))
}

func TestRefreshFromAddress(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.Header.Get("OCS-APIRequest"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ocs": map[string]interface{}{"data": map[string]string{"token": "ab12z"}},
		})
	}))
	defer remote.Close()

	s := newService(slaveCfg(), "")
	s.RefreshFromAddress(context.Background(), remote.URL)

	assert.Equal(t, "ab12z", s.TokenFromAddress(remote.URL))
	assert.Equal(t, remote.URL, s.AddressFromToken("ab12z"))
	assert.Empty(t, s.AddressFromToken("zzzzz"))
}

func TestRefreshIgnoresShortTokens(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ocs": map[string]interface{}{"data": map[string]string{"token": "ab"}},
		})
	}))
	defer remote.Close()

	s := newService(slaveCfg(), "")
	s.RefreshFromAddress(context.Background(), remote.URL)
	assert.Empty(t, s.TokenFromAddress(remote.URL))
}

func TestRefreshSkippedOnMaster(t *testing.T) {
	cfg := &config.Config{Federation: config.FederationConfig{Mode: config.ModeMaster}}
	s := newService(cfg, "")
	s.RefreshFromAddress(context.Background(), "https://node1.example.org")
	assert.Empty(t, s.TokenFromAddress("https://node1.example.org"))
}

func TestRefreshFromGlobalScale(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ocs": map[string]interface{}{"data": map[string]string{"token": "xy99q"}},
		})
	}))
	defer remote.Close()

	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/gs/instances") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]string{remote.URL})
	}))
	defer registry.Close()

	s := newService(slaveCfg(), registry.URL)
	s.RefreshFromGlobalScale(context.Background())
	assert.Equal(t, "xy99q", s.TokenFromAddress(remote.URL))
}
