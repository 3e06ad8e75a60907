// Package identity manages the short public tokens instances use to
// recognize each other inside one global scale deployment. Every instance
// exposes its own token on a public discovery endpoint; slaves periodically
// collect the tokens of all registered instances so addresses and tokens
// can be resolved in both directions.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/lookup"
)

const (
	tokenLength   = 5
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Service holds the local identity token and the collected remote ones.
type Service struct {
	cfg    *config.Config
	lookup *lookup.Client
	http   *http.Client
	log    *logrus.Logger

	mu         sync.RWMutex
	localToken string
	tokens     map[string]string // address -> token
}

// NewService creates the identity service.
func NewService(cfg *config.Config, lookupClient *lookup.Client, httpClient *http.Client, log *logrus.Logger) *Service {
	return &Service{
		cfg:    cfg,
		lookup: lookupClient,
		http:   httpClient,
		log:    log,
		tokens: make(map[string]string),
	}
}

// LocalToken returns this instance's identity token, minting it on first
// use.
func (s *Service) LocalToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.localToken == "" {
		s.localToken = randomToken()
	}
	return s.localToken
}

// IsLocalToken reports whether token identifies this instance.
func (s *Service) IsLocalToken(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localToken != "" && s.localToken == token
}

// LocalAddress returns the address the deployment knows this instance by,
// or empty if no other instance reported our token yet.
func (s *Service) LocalAddress() string {
	return s.AddressFromToken(s.LocalToken())
}

// IsLocalAddress reports whether a URL or bare host refers to this
// instance.
func (s *Service) IsLocalAddress(address string) bool {
	if strings.Contains(address, "://") {
		if parsed, err := url.Parse(address); err == nil {
			address = parsed.Host
		}
	}
	local := s.LocalAddress()
	return local != "" && local == address
}

// AddressFromToken resolves an instance address by its token.
func (s *Service) AddressFromToken(token string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for address, t := range s.tokens {
		if t == token {
			return address
		}
	}
	return ""
}

// TokenFromAddress returns the collected token of an instance.
func (s *Service) TokenFromAddress(address string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[address]
}

// RefreshFromGlobalScale collects the identity tokens of every instance the
// registry knows. Unreachable instances are skipped.
func (s *Service) RefreshFromGlobalScale(ctx context.Context) {
	if !s.cfg.IsSlave() {
		return
	}

	instances, err := s.lookup.Instances(ctx)
	if err != nil {
		s.log.WithError(err).Warn("cannot list global scale instances")
		return
	}

	for _, address := range instances {
		s.RefreshFromAddress(ctx, address)
	}
}

// RefreshFromAddress fetches one instance's token from its public discovery
// endpoint.
func (s *Service) RefreshFromAddress(ctx context.Context, address string) {
	if !s.cfg.IsSlave() {
		return
	}

	token, err := s.remoteToken(ctx, address)
	if err != nil {
		s.log.WithError(err).WithField("address", address).Debug("discovery request failed")
		return
	}
	if len(token) < tokenLength {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens[address] != token {
		s.tokens[address] = token
	}
}

func (s *Service) remoteToken(ctx context.Context, address string) (string, error) {
	endpoint := address
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	endpoint += "/ocs/v2.php/apps/globalsiteselector/discovery?format=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("OCS-APIRequest", "true")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint answered %s", resp.Status)
	}

	var parsed struct {
		OCS struct {
			Data struct {
				Token string `json:"token"`
			} `json:"data"`
		} `json:"ocs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.OCS.Data.Token, nil
}

func randomToken() string {
	max := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, tokenLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform is broken anyway
			panic(err)
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out)
}
