package backend

import (
	"testing"

	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	"github.com/stretchr/testify/assert"
)

func samlAttribute(name string, values ...string) types.Attribute {
	attr := types.Attribute{Name: name}
	for _, v := range values {
		attr.Values = append(attr.Values, types.AttributeValue{Value: v})
	}
	return attr
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "password", KindNone.String())
	assert.Equal(t, "saml", KindSAML.String())
	assert.Equal(t, "oidc", KindOIDC.String())
}

func TestFromPassword(t *testing.T) {
	ctx := FromPassword("alice")
	assert.Equal(t, KindNone, ctx.Kind)
	assert.Equal(t, "alice", ctx.UID)
	assert.Empty(t, ctx.IDP)
	assert.Nil(t, ctx.Profile.SAML)
	assert.Nil(t, ctx.Profile.OIDC)
}

func TestFromSAML(t *testing.T) {
	info := &saml2.AssertionInfo{
		NameID: "alice@idp.example.org",
		Values: saml2.Values{
			"email": samlAttribute("email", "alice@corp.example.org"),
			"home":  samlAttribute("home", "node2.example.org"),
		},
	}

	ctx := FromSAML(info, "", "https://idp.example.org")
	assert.Equal(t, KindSAML, ctx.Kind)
	assert.Equal(t, "alice@idp.example.org", ctx.UID, "uid defaults to the NameID")
	assert.Equal(t, "https://idp.example.org", ctx.IDP)
	assert.Equal(t, []string{"node2.example.org"}, ctx.Profile.SAML["home"])

	ctx = FromSAML(info, "email", "https://idp.example.org")
	assert.Equal(t, "alice@corp.example.org", ctx.UID, "uid attribute overrides the NameID")

	ctx = FromSAML(info, "absent", "https://idp.example.org")
	assert.Equal(t, "alice@idp.example.org", ctx.UID, "missing uid attribute falls back to the NameID")
}

func TestFromOIDCClaims(t *testing.T) {
	claims := map[string]interface{}{
		"email":  "bob@corp.example.org",
		"groups": []interface{}{"staff", "admins"},
		"iat":    float64(1700000000), // non-string claims are skipped
	}

	ctx := FromOIDCClaims("sub-1234", claims, "", "keycloak")
	assert.Equal(t, KindOIDC, ctx.Kind)
	assert.Equal(t, "sub-1234", ctx.UID)
	assert.Equal(t, "keycloak", ctx.ProviderID)
	assert.Equal(t, []string{"bob@corp.example.org"}, ctx.Profile.OIDC["email"])
	assert.Equal(t, []string{"staff", "admins"}, ctx.Profile.OIDC["groups"])
	assert.NotContains(t, ctx.Profile.OIDC, "iat")

	ctx = FromOIDCClaims("sub-1234", claims, "email", "keycloak")
	assert.Equal(t, "bob@corp.example.org", ctx.UID, "uid claim overrides the subject")
}
