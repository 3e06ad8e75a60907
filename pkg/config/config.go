package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Mode is the operating mode of this instance.
type Mode string

const (
	ModeMaster Mode = "master"
	ModeSlave  Mode = "slave"
)

// UsernameFormat selects how federated identities returned by the lookup
// registry are normalized into local user ids.
type UsernameFormat string

const (
	// UsernameFormatValidate rejects identities that are not well formed
	// cloud ids.
	UsernameFormatValidate UsernameFormat = "validate"
	// UsernameFormatIgnore splits on the last "@" without validating the
	// user part.
	UsernameFormatIgnore UsernameFormat = "ignore"
	// UsernameFormatSanitize rewrites the user part into a guaranteed
	// usable local uid.
	UsernameFormatSanitize UsernameFormat = "sanitize"
)

// Discovery module names accepted by GSS_DISCOVERY_MODULE.
const (
	DiscoverySAMLAttribute = "saml-attribute"
	DiscoveryOIDCAttribute = "oidc-attribute"
	DiscoveryManual        = "manual"
	DiscoveryRemote        = "remote"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Federation FederationConfig
	Discovery  DiscoveryConfig
	Storage    StorageConfig
	HTTPClient HTTPClientConfig

	LogLevel string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FederationConfig holds the trust and redirection settings shared between
// master and slave.
type FederationConfig struct {
	Mode      Mode
	JWTSecret string

	// MasterURL is the front door. Required on slaves, used by soft-failure
	// redirects and logout federation.
	MasterURL string

	// LookupURL is the registry mapping cloud ids to owning instances.
	LookupURL string

	// InstanceHost is the externally visible hostname of this instance,
	// used to build the cloud ids pushed to the registry.
	InstanceHost string

	// LocalAccounts lists uids (admins included) that never federate and
	// always log in on this instance.
	LocalAccounts []string

	UsernameFormat UsernameFormat

	// SAMLLogoutURL is the single-logout endpoint of the IdP, used by the
	// master to federate logout requests arriving from slaves.
	SAMLLogoutURL string

	// ClientFeatureEnabled switches native desktop/mobile clients to the
	// token based login flow instead of app-token synthesis on the master.
	ClientFeatureEnabled bool

	// AllowSelfSigned disables TLS verification for instance-to-instance
	// requests. Test deployments only.
	AllowSelfSigned bool

	// LocalAccountStaysOnSlave keeps logout of database-backed accounts on
	// this instance instead of federating it to the master.
	LocalAccountStaysOnSlave bool

	// IgnoreProperties limits registry pushes to uid and display name.
	IgnoreProperties bool
}

// DiscoveryConfig selects and configures the fallback resolver used when the
// registry has no entry for a federated identity yet.
type DiscoveryConfig struct {
	Module string

	// Attribute passthrough modules.
	SAMLAttribute string
	OIDCAttribute string

	// Manual mapping module.
	MappingFile      string
	MappingParameter string
	MappingRegex     bool

	// Remote mapping module.
	RemoteEndpoint string
	RemoteSecret   string
}

// StorageConfig holds backing store configuration for slave instances.
type StorageConfig struct {
	PostgresURL string

	// RedisURL enables the Redis pending-deletion store; empty means the
	// in-process store is used.
	RedisURL           string
	PendingDeletionTTL time.Duration
}

// HTTPClientConfig bounds all instance-to-instance and registry requests.
type HTTPClientConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GSS_HOST", "0.0.0.0"),
			Port:            getEnv("GSS_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GSS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GSS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GSS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GSS_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Federation: FederationConfig{
			Mode:                     Mode(strings.ToLower(getEnv("GSS_MODE", string(ModeSlave)))),
			JWTSecret:                getEnv("GSS_JWT_SECRET", ""),
			MasterURL:                strings.TrimRight(getEnv("GSS_MASTER_URL", ""), "/"),
			LookupURL:                strings.TrimRight(getEnv("GSS_LOOKUP_URL", ""), "/"),
			InstanceHost:             getEnv("GSS_INSTANCE_HOST", ""),
			SAMLLogoutURL:            getEnv("GSS_SAML_LOGOUT_URL", ""),
			LocalAccounts:            getEnvList("GSS_MASTER_ACCOUNTS"),
			UsernameFormat:           UsernameFormat(getEnv("GSS_USERNAME_FORMAT", string(UsernameFormatValidate))),
			ClientFeatureEnabled:     getEnvBool("GSS_CLIENT_FEATURE_ENABLED", false),
			AllowSelfSigned:          getEnvBool("GSS_ALLOW_SELF_SIGNED", false),
			LocalAccountStaysOnSlave: getEnvBool("GSS_LOCAL_ACCOUNT_STAYS_ON_SLAVE", false),
			IgnoreProperties:         getEnvBool("GSS_IGNORE_PROPERTIES", false),
		},
		Discovery: DiscoveryConfig{
			Module:           getEnv("GSS_DISCOVERY_MODULE", ""),
			SAMLAttribute:    getEnv("GSS_DISCOVERY_SAML_ATTRIBUTE", ""),
			OIDCAttribute:    getEnv("GSS_DISCOVERY_OIDC_ATTRIBUTE", ""),
			MappingFile:      getEnv("GSS_DISCOVERY_MAPPING_FILE", ""),
			MappingParameter: getEnv("GSS_DISCOVERY_MAPPING_PARAMETER", ""),
			MappingRegex:     getEnvBool("GSS_DISCOVERY_MAPPING_REGEX", false),
			RemoteEndpoint:   getEnv("GSS_DISCOVERY_REMOTE_ENDPOINT", ""),
			RemoteSecret:     getEnv("GSS_DISCOVERY_REMOTE_SECRET", ""),
		},
		Storage: StorageConfig{
			PostgresURL:        getEnv("GSS_POSTGRES_URL", ""),
			RedisURL:           getEnv("GSS_REDIS_URL", ""),
			PendingDeletionTTL: getEnvDuration("GSS_PENDING_DELETION_TTL", 10*time.Minute),
		},
		HTTPClient: HTTPClientConfig{
			ConnectTimeout: getEnvDuration("GSS_CONNECT_TIMEOUT", 3*time.Second),
			RequestTimeout: getEnvDuration("GSS_REQUEST_TIMEOUT", 10*time.Second),
		},
		LogLevel: getEnv("GSS_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// IsMaster reports whether this instance operates as the front door.
func (c *Config) IsMaster() bool {
	return c.Federation.Mode == ModeMaster
}

// IsSlave reports whether this instance operates as an account-owning
// backend.
func (c *Config) IsSlave() bool {
	return c.Federation.Mode == ModeSlave
}

// Validate checks the configuration for the selected mode.
func (c *Config) Validate() error {
	switch c.Federation.Mode {
	case ModeMaster, ModeSlave:
	default:
		return fmt.Errorf("invalid mode: %q (must be master or slave)", c.Federation.Mode)
	}

	if c.Federation.JWTSecret == "" {
		return fmt.Errorf("GSS_JWT_SECRET is required")
	}

	if c.IsSlave() && c.Federation.MasterURL == "" {
		return fmt.Errorf("GSS_MASTER_URL is required in slave mode")
	}

	switch c.Federation.UsernameFormat {
	case UsernameFormatValidate, UsernameFormatIgnore, UsernameFormatSanitize:
	default:
		return fmt.Errorf("invalid username format: %q", c.Federation.UsernameFormat)
	}

	switch c.Discovery.Module {
	case "", DiscoverySAMLAttribute, DiscoveryOIDCAttribute, DiscoveryManual, DiscoveryRemote:
	default:
		return fmt.Errorf("unknown discovery module: %q", c.Discovery.Module)
	}

	if c.Discovery.Module == DiscoveryManual && c.Discovery.MappingFile == "" {
		return fmt.Errorf("GSS_DISCOVERY_MAPPING_FILE is required for the manual discovery module")
	}
	if c.Discovery.Module == DiscoveryRemote && c.Discovery.RemoteEndpoint == "" {
		return fmt.Errorf("GSS_DISCOVERY_REMOTE_ENDPOINT is required for the remote discovery module")
	}

	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable as a slice.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
