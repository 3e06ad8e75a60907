package slave

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/globalscale/siteselector/pkg/apptoken"
	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/directory"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/lookup"
	"github.com/globalscale/siteselector/pkg/observability"
	"github.com/globalscale/siteselector/pkg/token"
)

// ErrBadRequest is returned when an app token is requested without a
// usable federation token.
var ErrBadRequest = errors.New("bad request")

// Redirect is a redirect the HTTP layer must execute.
type Redirect struct {
	URL string
}

// Login is the identity established by a verified federation token. The
// HTTP layer writes the session from it; nothing in this package touches
// login state.
type Login struct {
	UID     string
	Options token.Options
}

// Slave is the account-owning side of the federation.
type Slave struct {
	cfg       *config.Config
	tokens    *token.Service
	lookup    *lookup.Client
	store     *directory.Store
	users     *directory.PseudoBackend
	backends  []directory.Backend
	appTokens *apptoken.Handler
	pending   PendingDeletions
	metrics   *observability.Metrics
	log       *logrus.Logger

	configErrLogged bool
}

// New wires the slave together.
func New(cfg *config.Config, tokens *token.Service, lookupClient *lookup.Client,
	store *directory.Store, users *directory.PseudoBackend, appTokens *apptoken.Handler,
	pending PendingDeletions, metrics *observability.Metrics, log *logrus.Logger) *Slave {
	return &Slave{
		cfg:       cfg,
		tokens:    tokens,
		lookup:    lookupClient,
		store:     store,
		users:     users,
		backends:  []directory.Backend{store},
		appTokens: appTokens,
		pending:   pending,
		metrics:   metrics,
		log:       log,
	}
}

// RegisterBackend adds another user source to the directory sync.
func (s *Slave) RegisterBackend(b directory.Backend) {
	s.backends = append(s.backends, b)
	s.users.Register(b)
}

// AutoLogin verifies a federation token and establishes the identity. A nil
// Login with a redirect sends the user back to the front door to start
// over; a non-nil Login comes with the redirect to the originally requested
// target, or with a client specific redirect when a first-party sync client
// arrived here with the token-login feature enabled.
func (s *Slave) AutoLogin(ctx context.Context, jwt, userAgent string) (*Login, *Redirect) {
	masterURL := s.cfg.Federation.MasterURL
	if masterURL == "" {
		s.log.Warn("autologin without a configured master url")
		return nil, &Redirect{URL: "/"}
	}
	back := &Redirect{URL: masterURL}

	if s.cfg.IsMaster() || jwt == "" {
		return nil, back
	}

	uid, password, options, err := s.tokens.Decode(jwt)
	if errors.Is(err, token.ErrTokenExpired) {
		s.log.Info("autologin token expired")
		s.metrics.TokenDecodeErrors.WithLabelValues("expired").Inc()
		return nil, back
	}
	if err != nil {
		s.log.WithError(err).Warn("autologin token rejected")
		s.metrics.TokenDecodeErrors.WithLabelValues("invalid").Inc()
		return nil, back
	}

	log := s.log.WithFields(logrus.Fields{"uid": uid, "backend": options.Backend})

	switch options.Backend {
	case token.BackendSAML, token.BackendOIDC:
		if err := s.provision(ctx, uid, options); err != nil {
			log.WithError(err).Warn("autologin provisioning failed")
			return nil, back
		}
	default:
		ok, err := s.store.VerifyPassword(ctx, uid, password)
		if err != nil || !ok {
			log.WithError(err).Warn("wrong username or password")
			return nil, back
		}
	}

	if err := s.store.StampLastLogin(ctx, uid); err != nil {
		log.WithError(err).Warn("could not stamp last login")
	}

	// republish so the registry sees fresh attributes right away
	s.UpdateUser(ctx, uid)

	target := options.Target
	if target == "" || strings.Contains(target, "/login") {
		// redirecting into the login page would bounce straight back to
		// the front door
		target = "/"
	}

	log.Debug("autologin verified")
	s.metrics.LoginsTotal.WithLabelValues(options.Backend, "success").Inc()

	if s.cfg.Federation.ClientFeatureEnabled && httputil.IsClientUserAgent(userAgent) {
		if redirect := s.clientRedirect(ctx, uid, target, userAgent); redirect != nil {
			return &Login{UID: uid, Options: options}, redirect
		}
	}

	return &Login{UID: uid, Options: options}, &Redirect{URL: target}
}

// clientRedirect builds the redirect for a first-party sync client that was
// sent through the browser login flow. Targets under the dav endpoints pass
// through without a credential; everything else gets a device token and the
// client login URI. A failed token mint falls back to the browser redirect.
func (s *Slave) clientRedirect(ctx context.Context, uid, target, userAgent string) *Redirect {
	if strings.Contains(target, "remote.php/webdav") || strings.Contains(target, "remote.php/dav") {
		return &Redirect{URL: "/remote.php/webdav/"}
	}

	result, err := s.appTokens.Generate(ctx, uid, userAgent)
	if err != nil {
		s.log.WithError(err).WithField("uid", uid).Warn("client login token generation failed")
		return nil
	}
	s.metrics.AppTokensTotal.Inc()

	server := s.cfg.Federation.InstanceHost
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}
	return &Redirect{URL: "nc://login/server:" + server +
		"&user:" + url.QueryEscape(uid) +
		"&password:" + url.QueryEscape(result.Token)}
}

// CreateAppToken verifies a federation token and mints a device credential
// instead of a session. SSO logins carry no password; the verified token
// itself is the proof.
func (s *Slave) CreateAppToken(ctx context.Context, jwt, deviceName string) (*apptoken.Result, error) {
	if s.cfg.IsMaster() || jwt == "" {
		return nil, ErrBadRequest
	}

	uid, password, options, err := s.tokens.Decode(jwt)
	if err != nil {
		s.log.WithError(err).Info("app token request with unusable token")
		return nil, ErrBadRequest
	}

	isSSO := options.Backend == token.BackendSAML || options.Backend == token.BackendOIDC
	if isSSO {
		if err := s.provision(ctx, uid, options); err != nil {
			s.log.WithError(err).Warn("app token provisioning failed")
			return nil, ErrBadRequest
		}
	}

	exists, err := s.users.UserExists(ctx, uid)
	if err != nil || !exists {
		return nil, ErrBadRequest
	}

	allowed := isSSO
	if password != "" {
		allowed, err = s.store.VerifyPassword(ctx, uid, password)
		if err != nil {
			return nil, ErrBadRequest
		}
	}
	if !allowed {
		return nil, ErrBadRequest
	}

	result, err := s.appTokens.Generate(ctx, uid, deviceName)
	if err != nil {
		s.log.WithError(err).Warn("app token generation failed")
		return nil, ErrBadRequest
	}

	s.metrics.AppTokensTotal.Inc()
	return result, nil
}

// provision creates the account on first sight and applies the forwarded
// attributes.
func (s *Slave) provision(ctx context.Context, uid string, options token.Options) error {
	if uid == "" {
		return errors.New("no valid uid given")
	}

	displayName := ""
	if options.UserData != nil {
		displayName = options.UserData.DisplayName
	}

	created, err := s.store.CreateUserIfNotExists(ctx, uid, displayName)
	if err != nil {
		return err
	}
	if created {
		s.metrics.UsersProvisionedTotal.Inc()
		s.log.WithField("uid", uid).Info("auto-provisioned account")
	}

	if options.UserData != nil {
		err = s.store.UpdateAttributes(ctx, uid, directory.Attributes{
			Email:       options.UserData.Email,
			DisplayName: options.UserData.DisplayName,
			Quota:       options.UserData.Quota,
			Groups:      options.UserData.Groups,
		})
		if err != nil {
			return err
		}
	}

	samlIDP, oidcProviderID := "", ""
	if options.SAML != nil {
		samlIDP = options.SAML.IDP
	}
	if options.OIDC != nil {
		oidcProviderID = options.OIDC.ProviderID
	}
	return s.store.SetProviderState(ctx, uid, samlIDP, oidcProviderID)
}

// IsLocalAccount reports whether uid is a plain database account, i.e. has
// no stored SSO provider state.
func (s *Slave) IsLocalAccount(ctx context.Context, uid string) bool {
	samlIDP, oidcProviderID, err := s.store.ProviderState(ctx, uid)
	if err != nil {
		return false
	}
	return samlIDP == "" && oidcProviderID == ""
}

// HandleLogoutRequest federates a logout back to the front door so the IdP
// session can be terminated too. Local database accounts can be configured
// to log out right here.
func (s *Slave) HandleLogoutRequest(ctx context.Context, uid string, backendIsLocalDB bool) (*Redirect, error) {
	if backendIsLocalDB && s.cfg.Federation.LocalAccountStaysOnSlave {
		return nil, nil
	}

	samlIDP, oidcProviderID, err := s.store.ProviderState(ctx, uid)
	if err != nil {
		return nil, err
	}

	jwt, err := s.tokens.MintLogout(samlIDP, oidcProviderID)
	if err != nil {
		return nil, err
	}
	s.metrics.TokensMintedTotal.WithLabelValues("logout").Inc()

	if s.cfg.Federation.MasterURL == "" {
		s.log.Error("cannot redirect to master for logout, no master url configured")
		return nil, nil
	}

	return &Redirect{
		URL: s.cfg.Federation.MasterURL + "/index.php/apps/globalsiteselector/autologout?jwt=" + jwt,
	}, nil
}
