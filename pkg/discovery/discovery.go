package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/globalscale/siteselector/pkg/config"
)

// Profile is the accumulated SSO attribute set handed to a module. Only one
// of the two maps is populated, depending on the backend that authenticated
// the user.
type Profile struct {
	SAML map[string][]string
	OIDC map[string][]string
}

// attributes returns whichever side of the profile is populated.
func (p Profile) attributes() map[string][]string {
	if p.SAML != nil {
		return p.SAML
	}
	return p.OIDC
}

// Module resolves the initial location of a user the registry does not know
// yet. An empty string with a nil error means "no opinion".
type Module interface {
	Location(ctx context.Context, profile Profile) (string, error)
}

// New selects and builds the configured discovery module. An empty module
// name yields (nil, nil): discovery is optional.
func New(cfg config.DiscoveryConfig, httpClient *http.Client, log *logrus.Logger) (Module, error) {
	if log == nil {
		log = logrus.New()
	}

	switch cfg.Module {
	case "":
		return nil, nil
	case config.DiscoverySAMLAttribute:
		return &AttributeModule{Source: sourceSAML, Attribute: cfg.SAMLAttribute}, nil
	case config.DiscoveryOIDCAttribute:
		return &AttributeModule{Source: sourceOIDC, Attribute: cfg.OIDCAttribute}, nil
	case config.DiscoveryManual:
		return NewManualMapping(cfg.MappingFile, cfg.MappingParameter, cfg.MappingRegex, log)
	case config.DiscoveryRemote:
		return &RemoteMapping{
			Endpoint:  cfg.RemoteEndpoint,
			SecretKey: cfg.RemoteSecret,
			Client:    httpClient,
			Log:       log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown discovery module: %q", cfg.Module)
	}
}

type attributeSource int

const (
	sourceSAML attributeSource = iota
	sourceOIDC
)

// AttributeModule reads one named profile attribute and returns its value
// verbatim as the hostname.
type AttributeModule struct {
	Source    attributeSource
	Attribute string
}

// Location implements Module.
func (m *AttributeModule) Location(_ context.Context, profile Profile) (string, error) {
	if m.Attribute == "" {
		return "", nil
	}

	attrs := profile.SAML
	if m.Source == sourceOIDC {
		attrs = profile.OIDC
	}

	if values, ok := attrs[m.Attribute]; ok && len(values) > 0 {
		return values[0], nil
	}
	return "", nil
}

// normalizeKey keeps only the "domain part" of email-shaped mapping keys.
func normalizeKey(key string) string {
	if at := strings.LastIndex(key, "@"); at >= 0 {
		return key[at+1:]
	}
	return key
}
