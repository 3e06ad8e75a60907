package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Lifetime bounds the exposure window of every minted token. It is the only
// replay protection the protocol offers.
const Lifetime = 5 * time.Minute

// Backend kinds carried in the options; empty means plain password login.
const (
	BackendSAML = "saml"
	BackendOIDC = "oidc"
)

var (
	// ErrTokenExpired means the token was well formed and correctly signed
	// but past its expiry. Callers treat this softer than ErrTokenInvalid.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and missing
	// claims.
	ErrTokenInvalid = errors.New("invalid token")
)

// UserData is the formatted SSO profile forwarded to the owning slave.
type UserData struct {
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Quota       string   `json:"quota,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

// SAMLInfo carries the IdP correlation id needed for single logout.
type SAMLInfo struct {
	IDP string `json:"idp"`
}

// OIDCInfo carries the provider correlation id needed for single logout.
type OIDCInfo struct {
	ProviderID string `json:"providerId"`
}

// Options is the free-form part of a federation token: the originally
// requested path, the backend kind and, for SSO logins, the profile.
type Options struct {
	Target   string    `json:"target"`
	Backend  string    `json:"backend,omitempty"`
	UserData *UserData `json:"userData,omitempty"`
	SAML     *SAMLInfo `json:"saml,omitempty"`
	OIDC     *OIDCInfo `json:"oidc,omitempty"`
}

// Logout is the decoded content of a logout token.
type Logout struct {
	SAMLIdP        string
	OIDCProviderID string
}

// federationClaims is the wire layout of a federation token. The options
// travel as a JSON string, not a nested object.
type federationClaims struct {
	UID      string `json:"uid"`
	Password string `json:"password"`
	Options  string `json:"options"`
	jwt.RegisteredClaims
}

type logoutClaims struct {
	Logout         string `json:"logout"`
	SAMLIdP        string `json:"saml.idp,omitempty"`
	OIDCProviderID string `json:"oidc.providerId,omitempty"`
	jwt.RegisteredClaims
}

// Service mints and verifies federation and logout tokens with a shared
// secret.
type Service struct {
	secret []byte
	aead   *passwordCipher
	now    func() time.Time
}

// NewService creates a token service for the given shared secret.
func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		aead:   newPasswordCipher(secret),
		now:    time.Now,
	}
}

// Mint creates a federation token for uid. The password may be empty for
// SSO-backed logins; it is encrypted either way so the claim is always
// present.
func (s *Service) Mint(uid, password string, options Options) (string, error) {
	encrypted, err := s.aead.encrypt(password)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}

	rawOptions, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}

	claims := federationClaims{
		UID:      uid,
		Password: encrypted,
		Options:  string(rawOptions),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(Lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature and expiry and returns the identity carried by a
// federation token, with the password decrypted back to plaintext.
func (s *Service) Decode(raw string) (uid, password string, options Options, err error) {
	claims := &federationClaims{}
	if err = s.parse(raw, claims); err != nil {
		return "", "", Options{}, err
	}

	if claims.UID == "" {
		return "", "", Options{}, fmt.Errorf("%w: uid not set", ErrTokenInvalid)
	}

	password, err = s.aead.decrypt(claims.Password)
	if err != nil {
		return "", "", Options{}, fmt.Errorf("%w: undecryptable password", ErrTokenInvalid)
	}

	if claims.Options != "" {
		if err = json.Unmarshal([]byte(claims.Options), &options); err != nil {
			return "", "", Options{}, fmt.Errorf("%w: malformed options", ErrTokenInvalid)
		}
	}

	return claims.UID, password, options, nil
}

// MintLogout creates a master-bound logout token embedding any known SSO
// correlation ids.
func (s *Service) MintLogout(samlIDP, oidcProviderID string) (string, error) {
	claims := logoutClaims{
		Logout:         "true",
		SAMLIdP:        samlIDP,
		OIDCProviderID: oidcProviderID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(Lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign logout token: %w", err)
	}
	return signed, nil
}

// DecodeLogout verifies a logout token and returns its correlation ids.
func (s *Service) DecodeLogout(raw string) (Logout, error) {
	claims := &logoutClaims{}
	if err := s.parse(raw, claims); err != nil {
		return Logout{}, err
	}
	if claims.Logout != "true" {
		return Logout{}, fmt.Errorf("%w: not a logout token", ErrTokenInvalid)
	}
	return Logout{SAMLIdP: claims.SAMLIdP, OIDCProviderID: claims.OIDCProviderID}, nil
}

// IsValid reports whether raw is any correctly signed, unexpired token. The
// master uses this to recognize its own tokens bouncing back through the
// login pipeline.
func (s *Service) IsValid(raw string) bool {
	if raw == "" {
		return false
	}
	return s.parse(raw, &jwt.MapClaims{}) == nil
}

func (s *Service) parse(raw string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}
