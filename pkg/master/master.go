package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/globalscale/siteselector/pkg/backend"
	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/discovery"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/lookup"
	"github.com/globalscale/siteselector/pkg/observability"
	"github.com/globalscale/siteselector/pkg/token"
)

// ErrUnknownAccount means neither the registry nor the discovery module
// could place the user on any instance. The login fails.
var ErrUnknownAccount = errors.New("unknown account")

// Strategy names the kind of redirect issued.
type Strategy string

const (
	StrategyBrowser Strategy = "browser"
	StrategyWebDAV  Strategy = "webdav"
	StrategyClient  Strategy = "client"
)

// Redirect is the resolved answer to a login attempt. The HTTP layer
// executes it and stops the local login pipeline.
type Redirect struct {
	URL      string
	Strategy Strategy
}

// LoginRequest carries everything the front door needs to place a login.
type LoginRequest struct {
	UID      string
	Password string
	Backend  backend.Context

	// JWT is the inbound token parameter, set when another instance
	// redirected this request to us.
	JWT string

	PathInfo   string
	RequestURI string
	Scheme     string
	UserAgent  string
}

// Master resolves logins to their owning instance.
type Master struct {
	cfg       *config.Config
	tokens    *token.Service
	lookup    *lookup.Client
	discovery discovery.Module
	http      *http.Client
	metrics   *observability.Metrics
	log       *logrus.Logger
}

// New creates the front door. discovery may be nil when no module is
// configured.
func New(cfg *config.Config, tokens *token.Service, lookupClient *lookup.Client,
	discoveryModule discovery.Module, httpClient *http.Client,
	metrics *observability.Metrics, log *logrus.Logger) *Master {
	return &Master{
		cfg:       cfg,
		tokens:    tokens,
		lookup:    lookupClient,
		discovery: discoveryModule,
		http:      httpClient,
		metrics:   metrics,
		log:       log,
	}
}

// HandleLoginRequest places the login. A (nil, nil) return means the user
// logs in locally; a redirect means the pipeline stops and the user is sent
// to the owning instance; ErrUnknownAccount means nobody owns the account.
func (m *Master) HandleLoginRequest(ctx context.Context, req LoginRequest) (*Redirect, error) {
	log := m.log.WithFields(logrus.Fields{"uid": req.UID, "backend": req.Backend.Kind.String()})
	log.Debug("start handling login request")

	// a request arriving with a valid token was already placed by another
	// instance, re-placing it would loop
	if req.JWT != "" && m.tokens.IsValid(req.JWT) {
		log.Debug("ignoring request with valid token")
		return nil, nil
	}

	target := "/"
	if req.PathInfo != "" {
		target = "/index.php" + req.PathInfo
	}

	uid := req.UID
	password := req.Password
	options := token.Options{Target: target}

	isSSO := req.Backend.Kind != backend.KindNone
	switch req.Backend.Kind {
	case backend.KindSAML:
		uid = req.Backend.UID
		password = ""
		options.Backend = token.BackendSAML
		options.SAML = &token.SAMLInfo{IDP: req.Backend.IDP}
		options.UserData = userDataFromProfile(req.Backend.Profile.SAML)
	case backend.KindOIDC:
		uid = req.Backend.UID
		password = ""
		options.Backend = token.BackendOIDC
		options.OIDC = &token.OIDCInfo{ProviderID: req.Backend.ProviderID}
		options.UserData = userDataFromProfile(req.Backend.Profile.OIDC)
	}

	for _, local := range m.cfg.Federation.LocalAccounts {
		if uid == local {
			log.Debug("local account, logging in here")
			m.metrics.LoginsTotal.WithLabelValues(req.Backend.Kind.String(), "local").Inc()
			return nil, nil
		}
	}

	// SSO identities are searched on the user id only, plain logins may
	// also match on email
	location, canonicalUID := m.lookup.Search(ctx, uid, isSSO)
	if canonicalUID != "" {
		uid = canonicalUID
	}
	log.WithField("location", location).Debug("lookup server answer")

	if location == "" && m.discovery != nil {
		discovered, err := m.discovery.Location(ctx, req.Backend.Profile)
		if err != nil {
			log.WithError(err).Warn("discovery module failed")
			m.metrics.DiscoveryRequestsTotal.WithLabelValues(m.cfg.Discovery.Module, "error").Inc()
		} else if discovered != "" {
			location = discovered
			if m.cfg.Federation.UsernameFormat == config.UsernameFormatSanitize {
				uid = lookup.SanitizeUID(uid)
			}
			m.metrics.DiscoveryRequestsTotal.WithLabelValues(m.cfg.Discovery.Module, "hit").Inc()
			log.WithField("location", location).Debug("discovery module answer")
		} else {
			m.metrics.DiscoveryRequestsTotal.WithLabelValues(m.cfg.Discovery.Module, "miss").Inc()
		}
	}

	if location == "" {
		log.Info("could not find a location for account")
		m.metrics.LoginsTotal.WithLabelValues(req.Backend.Kind.String(), "unknown").Inc()
		return nil, ErrUnknownAccount
	}

	redirect, err := m.buildRedirect(ctx, req, uid, password, normalizeLocation(req.Scheme, location), options)
	if err != nil {
		m.metrics.LoginsTotal.WithLabelValues(req.Backend.Kind.String(), "error").Inc()
		return nil, err
	}

	m.metrics.LoginsTotal.WithLabelValues(req.Backend.Kind.String(), "redirected").Inc()
	m.metrics.RedirectsTotal.WithLabelValues(string(redirect.Strategy)).Inc()
	log.WithField("url", redirect.URL).Debug("redirecting user to owning instance")
	return redirect, nil
}

// buildRedirect picks the transport-appropriate redirect for the login.
func (m *Master) buildRedirect(ctx context.Context, req LoginRequest,
	uid, password, location string, options token.Options) (*Redirect, error) {
	jwt, err := m.tokens.Mint(uid, password, options)
	if err != nil {
		return nil, fmt.Errorf("cannot create federation token: %w", err)
	}
	m.metrics.TokensMintedTotal.WithLabelValues("federation").Inc()

	if !m.cfg.Federation.ClientFeatureEnabled && httputil.IsClientUserAgent(req.UserAgent) {
		// old clients and generic webdav tooling hit the dav endpoints
		// directly and cannot follow a login flow
		if strings.Contains(req.RequestURI, "remote.php/webdav") ||
			strings.Contains(req.RequestURI, "remote.php/dav") {
			return &Redirect{URL: location + "/remote.php/webdav/", Strategy: StrategyWebDAV}, nil
		}

		appToken, err := m.getAppToken(ctx, location, jwt)
		if err != nil {
			return nil, err
		}
		redirectURL := "nc://login/server:" + location +
			"&user:" + url.QueryEscape(uid) +
			"&password:" + url.QueryEscape(appToken)
		return &Redirect{URL: redirectURL, Strategy: StrategyClient}, nil
	}

	return &Redirect{
		URL:      location + "/index.php/apps/globalsiteselector/autologin?jwt=" + jwt,
		Strategy: StrategyBrowser,
	}, nil
}

// getAppToken asks the owning instance to mint a device credential on our
// user's behalf.
func (m *Master) getAppToken(ctx context.Context, location, jwt string) (string, error) {
	endpoint := location + "/ocs/v2.php/apps/globalsiteselector/v1/createapptoken?format=json&jwt=" + url.QueryEscape(jwt)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("OCS-APIRequest", "true")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot reach %s for an app token: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("app token request to %s answered %s", location, resp.Status)
	}

	var parsed struct {
		OCS struct {
			Data struct {
				Token string `json:"token"`
			} `json:"data"`
		} `json:"ocs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("cannot decode app token answer from %s: %w", location, err)
	}
	if parsed.OCS.Data.Token == "" {
		return "", fmt.Errorf("app token answer from %s contains no token", location)
	}

	return parsed.OCS.Data.Token, nil
}

// normalizeLocation prepends the request scheme to bare hostnames.
func normalizeLocation(scheme, location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + location
}

// userDataFromProfile maps the well-known profile attributes into the user
// data forwarded to the owning instance.
func userDataFromProfile(attrs map[string][]string) *token.UserData {
	if attrs == nil {
		return nil
	}

	first := func(keys ...string) string {
		for _, key := range keys {
			if values, ok := attrs[key]; ok && len(values) > 0 {
				return values[0]
			}
		}
		return ""
	}

	data := &token.UserData{
		Email:       first("email", "mail"),
		DisplayName: first("displayname", "name"),
		Quota:       first("quota"),
	}
	if groups, ok := attrs["groups"]; ok {
		data.Groups = groups
	}
	return data
}
