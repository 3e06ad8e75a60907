package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/globalscale/siteselector/pkg/apptoken"
	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/directory"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/identity"
	"github.com/globalscale/siteselector/pkg/lookup"
	"github.com/globalscale/siteselector/pkg/master"
	"github.com/globalscale/siteselector/pkg/observability"
	"github.com/globalscale/siteselector/pkg/slave"
	"github.com/globalscale/siteselector/pkg/token"
)

const testSecret = "httpapi-test-secret"

func slaveConfig() *config.Config {
	return &config.Config{
		Federation: config.FederationConfig{
			Mode:         config.ModeSlave,
			JWTSecret:    testSecret,
			MasterURL:    "https://portal.example.org",
			InstanceHost: "node1.example.org",
		},
	}
}

func masterConfig() *config.Config {
	return &config.Config{
		Federation: config.FederationConfig{
			Mode:           config.ModeMaster,
			JWTSecret:      testSecret,
			UsernameFormat: config.UsernameFormatIgnore,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, lookupURL string) (*Server, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	log := logrus.New()
	log.SetOutput(io.Discard)

	client := httputil.NewClient(time.Second, 2*time.Second, false)
	tokens := token.NewService(testSecret)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	lookupClient := lookup.New(lookupURL, "", cfg.Federation.UsernameFormat, client, metrics, log)
	store := directory.NewStoreWithDB(db)
	users := directory.NewPseudoBackend(store)

	masterPipeline := master.New(cfg, tokens, lookupClient, nil, client, metrics, log)
	slavePipeline := slave.New(cfg, tokens, lookupClient, store, users,
		apptoken.NewHandler(db), slave.NewMemoryPendingDeletions(10*time.Minute), metrics, log)

	srv := NewServer(cfg, masterPipeline, slavePipeline,
		directory.NewSessionStore(db), identity.NewService(cfg, lookupClient, client, log),
		tokens, observability.NewHealthChecker(db, nil), metrics, registry, log)
	return srv, mock
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	})

	t.Run("echoes the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
	})
}

func TestDiscoveryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, slaveConfig(), "")
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/ocs/v2.php/apps/globalsiteselector/discovery", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		OCS struct {
			Data struct {
				Token string `json:"token"`
			} `json:"data"`
		} `json:"ocs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]{5}$`), envelope.OCS.Data.Token)
}

func TestAutoLoginWithoutTokenGoesBackToMaster(t *testing.T) {
	srv, _ := newTestServer(t, slaveConfig(), "")
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/apps/globalsiteselector/autologin", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://portal.example.org", rec.Header().Get("Location"))
}

func TestAutoLoginEstablishesSession(t *testing.T) {
	srv, mock := newTestServer(t, slaveConfig(), "")
	router := srv.Router()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT password_hash FROM global_scale_users")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(string(hash)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE global_scale_users SET last_login")).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gss_sessions")).
		WithArgs(sqlmock.AnyArg(), "alice", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tokens := token.NewService(testSecret)
	jwt, err := tokens.Mint("alice", "secret", token.Options{Target: "/index.php/apps/files"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/apps/globalsiteselector/autologin?jwt="+url.QueryEscape(jwt), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/index.php/apps/files", rec.Header().Get("Location"))

	resp := rec.Result()
	defer resp.Body.Close()
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	require.NotNil(t, session, "autologin must set a session cookie")
	assert.NotEmpty(t, session.Value)
	assert.True(t, session.HttpOnly)
}

func TestCreateAppTokenWithoutTokenIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, slaveConfig(), "")
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/ocs/v2.php/apps/globalsiteselector/v1/createapptoken?format=json", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	srv, _ := newTestServer(t, slaveConfig(), "")
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestAutoLogout(t *testing.T) {
	cfg := masterConfig()
	cfg.Federation.SAMLLogoutURL = "https://idp.example.org/slo"
	srv, _ := newTestServer(t, cfg, "")
	router := srv.Router()
	tokens := token.NewService(testSecret)

	t.Run("no token goes home", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/apps/globalsiteselector/autologout", nil))
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("saml logout forwards to the idp", func(t *testing.T) {
		jwt, err := tokens.MintLogout("https://idp.example.org/metadata", "")
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/apps/globalsiteselector/autologout?jwt="+url.QueryEscape(jwt), nil))

		require.Equal(t, http.StatusFound, rec.Code)
		location := rec.Header().Get("Location")
		require.True(t, strings.HasPrefix(location, "https://idp.example.org/slo?jwt="), location)

		fresh := strings.TrimPrefix(location, "https://idp.example.org/slo?jwt=")
		logout, err := tokens.DecodeLogout(fresh)
		require.NoError(t, err)
		assert.Equal(t, "https://idp.example.org/metadata", logout.SAMLIdP)
	})

	t.Run("non saml logout goes home", func(t *testing.T) {
		jwt, err := tokens.MintLogout("", "some-oidc-provider")
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/apps/globalsiteselector/autologout?jwt="+url.QueryEscape(jwt), nil))

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})
}

func TestLogin(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "search=alice") {
			json.NewEncoder(w).Encode(map[string]interface{}{"federationId": "alice@node1.example.org"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer registry.Close()

	srv, _ := newTestServer(t, masterConfig(), registry.URL)
	router := srv.Router()

	postLogin := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("known account redirects to its instance", func(t *testing.T) {
		rec := postLogin(url.Values{"user": {"alice"}, "password": {"secret"}})
		require.Equal(t, http.StatusFound, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Location"),
			"http://node1.example.org/index.php/apps/globalsiteselector/autologin?jwt="),
			rec.Header().Get("Location"))
	})

	t.Run("unknown account gets a generic refusal", func(t *testing.T) {
		rec := postLogin(url.Values{"user": {"ghost"}, "password": {"secret"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRouteGatingByMode(t *testing.T) {
	t.Run("master does not serve slave routes", func(t *testing.T) {
		srv, _ := newTestServer(t, masterConfig(), "")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("slave does not serve the login form", func(t *testing.T) {
		srv, _ := newTestServer(t, slaveConfig(), "")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
