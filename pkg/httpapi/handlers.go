package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/globalscale/siteselector/pkg/backend"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/master"
	"github.com/globalscale/siteselector/pkg/slave"
)

// handleLogin is the front-door login form. It never reveals whether an
// account exists anywhere in the federation.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid form data")
		return
	}

	req := master.LoginRequest{
		UID:        r.PostFormValue("user"),
		Password:   r.PostFormValue("password"),
		Backend:    backend.FromPassword(r.PostFormValue("user")),
		JWT:        r.PostFormValue("jwt"),
		PathInfo:   r.PostFormValue("redirect_url"),
		RequestURI: r.RequestURI,
		Scheme:     requestScheme(r),
		UserAgent:  r.UserAgent(),
	}

	redirect, err := s.master.HandleLoginRequest(r.Context(), req)
	switch {
	case errors.Is(err, master.ErrUnknownAccount):
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "wrong username or password")
	case err != nil:
		s.log.WithError(err).WithField("request_id", r.Header.Get(requestIDHeader)).
			Error("login placement failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	case redirect == nil:
		// local account or an already valid inbound token, nothing to do
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}
}

// handleAutoLogin receives a federation token from the master and turns it
// into a local session. All failure paths bounce back to the front door.
func (s *Server) handleAutoLogin(w http.ResponseWriter, r *http.Request) {
	login, redirect := s.slave.AutoLogin(r.Context(), r.URL.Query().Get("jwt"), r.UserAgent())
	if login != nil {
		s.establishSession(w, r, login)
	}
	target := "/"
	if redirect != nil {
		target = redirect.URL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// establishSession writes the session row and hands the browser its cookie.
// A failed session write degrades to an anonymous redirect rather than a
// hard error; the user can simply log in again.
func (s *Server) establishSession(w http.ResponseWriter, r *http.Request, login *slave.Login) {
	userData := ""
	if login.Options.UserData != nil {
		raw, err := json.Marshal(login.Options.UserData)
		if err == nil {
			userData = string(raw)
		}
	}

	session, err := s.sessions.Create(r.Context(), login.UID, userData, sessionTTL)
	if err != nil {
		s.log.WithError(err).WithField("uid", login.UID).Error("failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   requestScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// handleCreateAppToken mints a device token for a native client that was
// handed a federation token by the master.
func (s *Server) handleCreateAppToken(w http.ResponseWriter, r *http.Request) {
	deviceName := r.UserAgent()
	if deviceName == "" {
		deviceName = "unknown client"
	}

	result, err := s.slave.CreateAppToken(r.Context(), r.URL.Query().Get("jwt"), deviceName)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, slave.ErrBadRequest) {
			status = http.StatusInternalServerError
		}
		httputil.WriteOCS(w, status, nil)
		return
	}
	httputil.WriteOCS(w, http.StatusOK, result)
}

// handleLogout ends the local session and, for SSO accounts, federates the
// logout to the master so the IdP session dies too.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	uid := s.clearSession(w, r)
	if uid == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	isLocal := s.slave.IsLocalAccount(r.Context(), uid)
	redirect, err := s.slave.HandleLogoutRequest(r.Context(), uid, isLocal)
	if err != nil {
		s.log.WithError(err).WithField("uid", uid).Error("federated logout failed")
	}
	if redirect != nil {
		http.Redirect(w, r, redirect.URL, http.StatusFound)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// clearSession removes the session row and expires the cookie, returning
// the uid that was logged in, or empty when there was no session.
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}

	uid := ""
	if session, err := s.sessions.Get(r.Context(), cookie.Value); err == nil {
		uid = session.UID
	}
	if err := s.sessions.Delete(r.Context(), cookie.Value); err != nil {
		s.log.WithError(err).Warn("failed to delete session")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return uid
}

// handleAutoLogout runs on the master. A slave redirects SSO logouts here
// with a logout token; when the account came from SAML and a single-logout
// endpoint is configured, the browser is forwarded there with a fresh token
// so the IdP can correlate the session.
func (s *Server) handleAutoLogout(w http.ResponseWriter, r *http.Request) {
	logout, err := s.tokens.DecodeLogout(r.URL.Query().Get("jwt"))
	if err != nil || logout.SAMLIdP == "" || s.cfg.Federation.SAMLLogoutURL == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	fresh, err := s.tokens.MintLogout(logout.SAMLIdP, logout.OIDCProviderID)
	if err != nil {
		s.log.WithError(err).Error("failed to mint logout token")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.metrics.TokensMintedTotal.WithLabelValues("logout").Inc()
	http.Redirect(w, r, s.cfg.Federation.SAMLLogoutURL+"?jwt="+fresh, http.StatusFound)
}

// handleDiscovery is the public instance discovery endpoint. Peers call it
// to learn the short token this instance goes by in cloud ids.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOCS(w, http.StatusOK, map[string]string{
		"token": s.identity.LocalToken(),
	})
}
