package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/observability"
)

const (
	displayNameCacheSize = 4096
	displayNameCacheTTL  = time.Hour
)

// ErrNotConfigured means no lookup registry URL is set. Directory sync
// callers treat this as a silent no-op, login callers as "no location".
var ErrNotConfigured = errors.New("no lookup server configured")

// Entry is a single registry record: a federated cloud id plus the profile
// attributes the owning instance last pushed. Writes are last-write-wins
// upserts keyed by cloud id.
type Entry map[string]string

// Client talks to the lookup registry.
type Client struct {
	baseURL string
	authKey string
	policy  config.UsernameFormat
	http    *http.Client
	names   *expirable.LRU[string, string]
	metrics *observability.Metrics
	log     *logrus.Logger
}

// New creates a registry client. baseURL may be empty; every call then
// reports ErrNotConfigured (or an empty result for soft reads).
func New(baseURL, authKey string, policy config.UsernameFormat, httpClient *http.Client,
	metrics *observability.Metrics, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		baseURL: baseURL,
		authKey: authKey,
		policy:  policy,
		http:    httpClient,
		names:   expirable.NewLRU[string, string](displayNameCacheSize, nil, displayNameCacheTTL),
		metrics: metrics,
		log:     log,
	}
}

// observe records one registry round trip. metrics may be nil for callers
// that never talk to a registry.
func (c *Client) observe(operation, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.LookupRequestsTotal.WithLabelValues(operation, status).Inc()
	c.metrics.LookupRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// searchResult is the registry's answer to a user search.
type searchResult struct {
	FederationID string `json:"federationId"`
	UserID       struct {
		Value string `json:"value"`
	} `json:"userid"`
}

// Search asks the registry where uid lives. It returns the owning host and
// the canonical uid the registry knows, which may differ from the search
// term. matchUIDOnly restricts matching to the userid key; SSO identities
// must use it because exact email search is unsafe for generated federation
// emails.
//
// No hit, a malformed id under the validate policy, or any network failure
// all yield an empty location: the caller falls through to discovery.
func (c *Client) Search(ctx context.Context, uid string, matchUIDOnly bool) (location, canonicalUID string) {
	canonicalUID = uid

	if c.baseURL == "" {
		c.log.Error("cannot look up user, no lookup server registered")
		return "", canonicalUID
	}

	start := time.Now()

	query := url.Values{}
	query.Set("search", uid)
	query.Set("exact", "1")
	if matchUIDOnly {
		query.Add("keys[]", "userid")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users?"+query.Encode(), nil)
	if err != nil {
		return "", canonicalUID
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("lookup server unreachable")
		c.observe("search", "error", start)
		return "", canonicalUID
	}
	defer resp.Body.Close()

	var result searchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.log.WithError(err).Debug("undecodable lookup server response")
		c.observe("search", "error", start)
		return "", canonicalUID
	}

	if result.FederationID == "" {
		c.log.WithField("uid", uid).Debug("federationId not set in lookup response")
		c.observe("search", "miss", start)
		return "", canonicalUID
	}

	_, host, err := ResolveCloudID(c.policy, result.FederationID)
	if err != nil {
		c.log.WithError(err).WithField("federationId", result.FederationID).Warn("invalid federated cloud id")
		c.observe("search", "error", start)
		return "", canonicalUID
	}

	if result.UserID.Value != "" {
		canonicalUID = result.UserID.Value
	}

	c.log.WithFields(logrus.Fields{"uid": canonicalUID, "location": host}).Debug("lookup server resolved user")
	c.observe("search", "hit", start)
	return host, canonicalUID
}

// PushUsers upserts a batch of registry entries keyed by cloud id.
func (c *Client) PushUsers(ctx context.Context, users map[string]Entry) error {
	if len(users) == 0 {
		return nil
	}
	return c.write(ctx, http.MethodPost, "push", map[string]interface{}{
		"authKey": c.authKey,
		"users":   users,
	})
}

// RemoveUsers deletes registry entries by cloud id.
func (c *Client) RemoveUsers(ctx context.Context, cloudIDs []string) error {
	if len(cloudIDs) == 0 {
		return nil
	}
	return c.write(ctx, http.MethodDelete, "remove", map[string]interface{}{
		"authKey": c.authKey,
		"users":   cloudIDs,
	})
}

func (c *Client) write(ctx context.Context, method, operation string, body map[string]interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	start := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode registry payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/gs/users", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(operation, "error", start)
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.observe(operation, "error", start)
		return fmt.Errorf("registry answered %s", resp.Status)
	}
	c.observe(operation, "ok", start)
	return nil
}

// UsersDetails resolves display names for a list of user ids, from the local
// cache first and the registry for the remainder. cacheOnly skips the
// registry round trip entirely.
func (c *Client) UsersDetails(ctx context.Context, userIDs []string, cacheOnly bool) map[string]string {
	known := make(map[string]string, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if name, ok := c.names.Get(id); ok {
			known[id] = name
		} else {
			missing = append(missing, id)
		}
	}

	if cacheOnly || len(missing) == 0 || c.baseURL == "" {
		return known
	}
	start := time.Now()

	payload, err := json.Marshal(map[string]interface{}{
		"authKey": c.authKey,
		"users":   missing,
	})
	if err != nil {
		return known
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gs/users", bytes.NewReader(payload))
	if err != nil {
		return known
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("could not get user details from lookup server")
		c.observe("details", "error", start)
		return known
	}
	defer resp.Body.Close()

	details := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		c.log.WithError(err).Warn("undecodable user details from lookup server")
		c.observe("details", "error", start)
		return known
	}

	for id, name := range details {
		c.names.Add(id, name)
		known[id] = name
	}
	c.observe("details", "ok", start)
	return known
}

// Instances lists every instance hostname the registry knows about.
func (c *Client) Instances(ctx context.Context) ([]string, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	start := time.Now()

	payload, err := json.Marshal(map[string]string{"authKey": c.authKey})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gs/instances", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("instances", "error", start)
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	var instances []string
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		c.observe("instances", "error", start)
		return nil, fmt.Errorf("undecodable instance list: %w", err)
	}
	c.observe("instances", "ok", start)
	return instances, nil
}
