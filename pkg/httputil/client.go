package httputil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewClient builds the HTTP client for cross-instance coordination. Both
// timeouts are short on purpose: a slow registry or peer may stall the
// current request, never the whole instance.
func NewClient(connectTimeout, requestTimeout time.Duration, allowSelfSigned bool) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     60 * time.Second,
	}

	if allowSelfSigned {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}
