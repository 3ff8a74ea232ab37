package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	trustedDID  = "did:web:issuer.eudiw.dev"
	intruderDID = "did:web:issuer.evil.example"
	testNonce   = "nonce-123"
)

var submission = json.RawMessage(`{"id":"sub-1","definition_id":"def-1"}`)

func newTestValidator(pinned StaticKeyResolver) (*Validator, *IntrusionLog) {
	intrusions := NewIntrusionLog()
	trust := NewStaticTrustList([]string{trustedDID})
	if pinned == nil {
		pinned = StaticKeyResolver{}
	}
	return New(trust, pinned, intrusions, nil, slog.New(slog.DiscardHandler)), intrusions
}

// unsignedToken builds a structurally valid JWS whose signature is garbage.
// Issuers without a pinned key skip cryptographic verification, so these
// exercise the rest of the pipeline.
func unsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]any{"alg": "ES256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding.EncodeToString
	return enc(header) + "." + enc(payload) + "." + enc([]byte("sig"))
}

func signedToken(t *testing.T, key *ecdsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims(claims))
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func presentationClaims(issuer, nonce string) map[string]any {
	return map[string]any{
		"iss":   issuer,
		"nonce": nonce,
		"exp":   time.Now().Add(time.Minute).Unix(),
		"vp": map[string]any{
			"verifiableCredential": map[string]any{
				"credentialSubject": map[string]any{
					"given_name":  "Ana",
					"family_name": "García",
				},
			},
		},
	}
}

func TestVerifySuccess(t *testing.T) {
	v, _ := newTestValidator(nil)

	resp := Response{
		VPToken:                unsignedToken(t, presentationClaims(trustedDID, testNonce)),
		PresentationSubmission: submission,
	}
	result, err := v.Verify(context.Background(), resp, testNonce)
	require.NoError(t, err)
	assert.Equal(t, trustedDID, result.IssuerDID)
	assert.Equal(t, "Ana", result.Claims["given_name"])
	assert.Equal(t, "García", result.Claims["family_name"])
	assert.False(t, result.VerifiedAt.IsZero())
}

func TestVerifyStructuralFailures(t *testing.T) {
	v, _ := newTestValidator(nil)
	ctx := context.Background()

	cases := map[string]Response{
		"missing token":      {PresentationSubmission: submission},
		"missing submission": {VPToken: unsignedToken(t, presentationClaims(trustedDID, testNonce))},
		"two segments":       {VPToken: "aaaa.bbbb", PresentationSubmission: submission},
		"bad base64":         {VPToken: "!!!.???.sig", PresentationSubmission: submission},
		"payload not json": {
			VPToken:                base64.RawURLEncoding.EncodeToString([]byte("{}")) + "." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".sig",
			PresentationSubmission: submission,
		},
	}

	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(ctx, resp, testNonce)
			require.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestVerifySignatureWithPinnedKey(t *testing.T) {
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v, _ := newTestValidator(StaticKeyResolver{trustedDID: &issuerKey.PublicKey})
	ctx := context.Background()

	good := Response{
		VPToken:                signedToken(t, issuerKey, presentationClaims(trustedDID, testNonce)),
		PresentationSubmission: submission,
	}
	_, err = v.Verify(ctx, good, testNonce)
	require.NoError(t, err)

	forged := Response{
		VPToken:                signedToken(t, otherKey, presentationClaims(trustedDID, testNonce)),
		PresentationSubmission: submission,
	}
	_, err = v.Verify(ctx, forged, testNonce)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyUntrustedIssuerRecordsIntrusion(t *testing.T) {
	v, intrusions := newTestValidator(nil)

	resp := Response{
		VPToken:                unsignedToken(t, presentationClaims(intruderDID, testNonce)),
		PresentationSubmission: submission,
	}
	_, err := v.Verify(context.Background(), resp, testNonce)
	require.ErrorIs(t, err, ErrUntrustedIssuer)

	log := intrusions.Snapshot()
	require.Contains(t, log, intruderDID)
	assert.Equal(t, 1, log[intruderDID].Count)
	assert.Len(t, log[intruderDID].Timestamps, 1)

	// A second attempt increments by exactly one.
	_, err = v.Verify(context.Background(), resp, testNonce)
	require.ErrorIs(t, err, ErrUntrustedIssuer)
	assert.Equal(t, 2, intrusions.Snapshot()[intruderDID].Count)
}

// Failures past the structural stage still attribute the attempt to the
// parsed issuer, so audit events can name who was rejected.
func TestVerifyFailureCarriesIssuer(t *testing.T) {
	v, _ := newTestValidator(nil)
	ctx := context.Background()

	untrusted := Response{
		VPToken:                unsignedToken(t, presentationClaims(intruderDID, testNonce)),
		PresentationSubmission: submission,
	}
	result, err := v.Verify(ctx, untrusted, testNonce)
	require.ErrorIs(t, err, ErrUntrustedIssuer)
	assert.Equal(t, intruderDID, result.IssuerDID)

	stale := Response{
		VPToken:                unsignedToken(t, presentationClaims(trustedDID, "stale-nonce")),
		PresentationSubmission: submission,
	}
	result, err = v.Verify(ctx, stale, testNonce)
	require.ErrorIs(t, err, ErrReplay)
	assert.Equal(t, trustedDID, result.IssuerDID)

	malformed := Response{PresentationSubmission: submission}
	result, err = v.Verify(ctx, malformed, testNonce)
	require.ErrorIs(t, err, ErrMalformedToken)
	assert.Empty(t, result.IssuerDID)
}

// A mismatched nonce is rejected even when signature and trust pass.
func TestVerifyReplayRejected(t *testing.T) {
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	v, _ := newTestValidator(StaticKeyResolver{trustedDID: &issuerKey.PublicKey})

	resp := Response{
		VPToken:                signedToken(t, issuerKey, presentationClaims(trustedDID, "stale-nonce")),
		PresentationSubmission: submission,
	}
	_, err = v.Verify(context.Background(), resp, testNonce)
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifyExpiredCredential(t *testing.T) {
	v, _ := newTestValidator(nil)

	claims := presentationClaims(trustedDID, testNonce)
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	resp := Response{VPToken: unsignedToken(t, claims), PresentationSubmission: submission}
	_, err := v.Verify(context.Background(), resp, testNonce)
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerifyMissingExpTolerated(t *testing.T) {
	v, _ := newTestValidator(nil)

	claims := presentationClaims(trustedDID, testNonce)
	delete(claims, "exp")

	resp := Response{VPToken: unsignedToken(t, claims), PresentationSubmission: submission}
	_, err := v.Verify(context.Background(), resp, testNonce)
	require.NoError(t, err)
}

func TestVerifyNoCredential(t *testing.T) {
	v, _ := newTestValidator(nil)
	ctx := context.Background()

	cases := map[string]map[string]any{
		"no vp":       {"iss": trustedDID, "nonce": testNonce},
		"empty vp":    {"iss": trustedDID, "nonce": testNonce, "vp": map[string]any{}},
		"empty array": {"iss": trustedDID, "nonce": testNonce, "vp": map[string]any{"verifiableCredential": []any{}}},
		"no subject":  {"iss": trustedDID, "nonce": testNonce, "vp": map[string]any{"verifiableCredential": map[string]any{"type": "VerifiableCredential"}}},
	}

	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			resp := Response{VPToken: unsignedToken(t, claims), PresentationSubmission: submission}
			_, err := v.Verify(ctx, resp, testNonce)
			require.ErrorIs(t, err, ErrNoCredential)
		})
	}
}

func TestVerifyCredentialArrayAndClaimsField(t *testing.T) {
	v, _ := newTestValidator(nil)

	claims := map[string]any{
		"iss":   trustedDID,
		"nonce": testNonce,
		"vp": map[string]any{
			"verifiableCredential": []any{
				map[string]any{"claims": map[string]any{"birth_date": "1990-04-01"}},
			},
		},
	}
	resp := Response{VPToken: unsignedToken(t, claims), PresentationSubmission: submission}
	result, err := v.Verify(context.Background(), resp, testNonce)
	require.NoError(t, err)
	assert.Equal(t, "1990-04-01", result.Claims["birth_date"])
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "replay", FailureKind(ErrReplay))
	assert.Equal(t, "untrusted_issuer", FailureKind(ErrUntrustedIssuer))
	assert.Equal(t, "unknown", FailureKind(context.Canceled))
}
