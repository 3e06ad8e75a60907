package backend

import (
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	saml2 "github.com/russellhaering/gosaml2"

	"github.com/globalscale/siteselector/pkg/discovery"
)

// Kind is the closed set of authentication backends a login can come from.
type Kind int

const (
	// KindNone is a plain username/password login.
	KindNone Kind = iota
	// KindSAML is a login carrying a verified SAML assertion.
	KindSAML
	// KindOIDC is a login carrying a verified OIDC ID token.
	KindOIDC
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "password"
	case KindSAML:
		return "saml"
	case KindOIDC:
		return "oidc"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Context is the uniform identity extracted from whatever authenticated the
// user. IDP is set only for SAML logins, ProviderID only for OIDC logins.
type Context struct {
	Kind       Kind
	UID        string
	IDP        string
	ProviderID string
	Profile    discovery.Profile
}

// FromPassword builds the identity of a plain database login.
func FromPassword(uid string) Context {
	return Context{Kind: KindNone, UID: uid}
}

// FromSAML extracts the identity from a verified SAML assertion. The uid is
// taken from uidAttribute when set, otherwise from the NameID.
func FromSAML(info *saml2.AssertionInfo, uidAttribute, idp string) Context {
	attrs := make(map[string][]string, len(info.Values))
	for name, attr := range info.Values {
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		attrs[name] = values
	}

	uid := info.NameID
	if uidAttribute != "" {
		if values, ok := attrs[uidAttribute]; ok && len(values) > 0 {
			uid = values[0]
		}
	}

	return Context{
		Kind:    KindSAML,
		UID:     uid,
		IDP:     idp,
		Profile: discovery.Profile{SAML: attrs},
	}
}

// FromOIDC extracts the identity from a verified ID token. The uid is taken
// from uidClaim when set, otherwise from the subject.
func FromOIDC(token *oidc.IDToken, uidClaim, providerID string) (Context, error) {
	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return Context{}, fmt.Errorf("cannot parse ID token claims: %w", err)
	}
	return FromOIDCClaims(token.Subject, claims, uidClaim, providerID), nil
}

// FromOIDCClaims is FromOIDC for an already decoded claim set.
func FromOIDCClaims(subject string, claims map[string]interface{}, uidClaim, providerID string) Context {
	attrs := make(map[string][]string, len(claims))
	for name, value := range claims {
		switch v := value.(type) {
		case string:
			attrs[name] = []string{v}
		case []interface{}:
			values := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				attrs[name] = values
			}
		}
	}

	uid := subject
	if uidClaim != "" {
		if values, ok := attrs[uidClaim]; ok && len(values) > 0 {
			uid = values[0]
		}
	}

	return Context{
		Kind:       KindOIDC,
		UID:        uid,
		ProviderID: providerID,
		Profile:    discovery.Profile{OIDC: attrs},
	}
}
