package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// RemoteMapping asks an external discovery service for the user's location.
// The profile is POSTed as JSON; the answer is either a JSON object with a
// "location" entry or a plain-text hostname.
type RemoteMapping struct {
	Endpoint  string
	SecretKey string
	Client    *http.Client
	Log       *logrus.Logger
}

// Location implements Module.
func (m *RemoteMapping) Location(ctx context.Context, profile Profile) (string, error) {
	body := map[string]interface{}{}
	if profile.SAML != nil {
		body["saml"] = profile.SAML
	}
	if profile.OIDC != nil {
		body["oidc"] = profile.OIDC
	}
	if m.SecretKey != "" {
		body["gsSecretKey"] = m.SecretKey
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot access remote discovery endpoint %s: %w", m.Endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("remote discovery endpoint answered %s", resp.Status)
	}

	var parsed struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Location != "" {
		return parsed.Location, nil
	}

	// not JSON: accept a bare hostname as plain text
	text := strings.TrimSpace(string(raw))
	if text != "" && !strings.ContainsAny(text, "{}\n") {
		return text, nil
	}

	m.Log.WithField("body", string(raw)).Warn("cannot parse remote discovery endpoint result")
	return "", nil
}
