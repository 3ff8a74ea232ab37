package request

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "eudi-verifier/pkg/domain-errors"
)

func testJWK(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwk := jose.JSONWebKey{Key: key, KeyID: "test-key-1", Algorithm: "ES256", Use: "sig"}
	raw, err := jwk.MarshalJSON()
	require.NoError(t, err)
	return string(raw), key
}

func newTestBuilder(t *testing.T) (*Builder, *ecdsa.PrivateKey) {
	t.Helper()
	jwkJSON, key := testJWK(t)
	parsed, kid, err := ParseSigningKey(jwkJSON)
	require.NoError(t, err)
	require.Equal(t, "test-key-1", kid)

	meta := ClientMetadata{ClientName: "Test Verifier", Contacts: []string{"ops@example.com"}}
	b := NewBuilder("did:web:verifier.example.com", "https://verifier.example.com/verify/response", meta, 5*time.Minute, parsed, kid)
	return b, key
}

func TestParseSigningKeyErrors(t *testing.T) {
	_, _, err := ParseSigningKey("")
	require.ErrorIs(t, err, ErrNoSigningKey)

	_, _, err = ParseSigningKey("{not json")
	require.True(t, dErrors.Is(err, dErrors.CodeInternal))

	// An RSA or symmetric JWK must be rejected.
	_, _, err = ParseSigningKey(`{"kty":"oct","k":"c2VjcmV0"}`)
	require.Error(t, err)
}

func TestCreateAuthorizationRequest(t *testing.T) {
	b, key := newTestBuilder(t)

	req, err := b.CreateAuthorizationRequest([]string{"family_name", "given_name", "birth_date"})
	require.NoError(t, err)

	assert.NotEmpty(t, req.SessionID)
	assert.NotEmpty(t, req.Nonce)
	assert.NotEqual(t, req.SessionID, req.Nonce)
	assert.True(t, strings.HasPrefix(req.RequestURI, "openid4vp://?request="), req.RequestURI)
	assert.Equal(t, strings.TrimPrefix(req.RequestURI, "openid4vp://?request="), req.QRPayload)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), req.ExpiresAt, 5*time.Second)

	// The QR payload is a verifiable ES256 JWT carrying the OID4VP request.
	parsed, err := jwt.Parse(req.QRPayload, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	assert.Equal(t, "test-key-1", parsed.Header["kid"])

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "did:web:verifier.example.com", claims["iss"])
	assert.Equal(t, "did:web:verifier.example.com", claims["client_id"])
	assert.Equal(t, "did", claims["client_id_scheme"])
	assert.Equal(t, "vp_token", claims["response_type"])
	assert.Equal(t, "direct_post", claims["response_mode"])
	assert.Equal(t, "https://verifier.example.com/verify/response", claims["redirect_uri"])
	assert.Equal(t, req.Nonce, claims["nonce"])
	assert.Equal(t, req.SessionID, claims["state"])

	definition := claims["presentation_definition"].(map[string]any)
	descriptors := definition["input_descriptors"].([]any)
	require.Len(t, descriptors, 1)
	descriptor := descriptors[0].(map[string]any)
	assert.Equal(t, "EUDI_PID_REQUEST", descriptor["id"])

	fields := descriptor["constraints"].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 3)
	paths := fields[0].(map[string]any)["path"].([]any)
	assert.Contains(t, paths, "$.credentialSubject.family_name")
	assert.Contains(t, paths, "$.family_name")
	assert.Contains(t, paths, "$.vc.credentialSubject.family_name")
}

func TestCreateAuthorizationRequestFreshIdentifiers(t *testing.T) {
	b, _ := newTestBuilder(t)

	first, err := b.CreateAuthorizationRequest([]string{"given_name"})
	require.NoError(t, err)
	second, err := b.CreateAuthorizationRequest([]string{"given_name"})
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.Nonce, second.Nonce)
}

func TestCreateAuthorizationRequestWithoutKey(t *testing.T) {
	b := NewBuilder("did:web:v", "https://cb", ClientMetadata{}, time.Minute, nil, "")

	_, err := b.CreateAuthorizationRequest([]string{"given_name"})
	require.ErrorIs(t, err, ErrNoSigningKey)
}

func TestCreateAuthorizationRequestNoClaims(t *testing.T) {
	b, _ := newTestBuilder(t)

	_, err := b.CreateAuthorizationRequest(nil)
	require.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
}
