// Package request builds signed OID4VP authorization requests. The signed
// request object doubles as the QR payload a wallet scans to start a
// presentation.
package request

import (
	"crypto/ecdsa"
	"encoding/json"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "eudi-verifier/pkg/domain-errors"
)

// ErrNoSigningKey is returned when authorization requests are attempted
// without a configured verifier key. No session record is created in that
// case.
var ErrNoSigningKey = dErrors.New(dErrors.CodeInternal, "verifier signing key not configured")

const (
	// selfIssuedAudience is the OID4VP audience for wallet-bound request
	// objects.
	selfIssuedAudience = "https://self-issued.me/v2"

	// descriptorID identifies the single PID input descriptor.
	descriptorID = "EUDI_PID_REQUEST"
)

// PresentationDefinition follows DIF Presentation Exchange as used by the
// EUDI reference wallets.
type PresentationDefinition struct {
	ID               string            `json:"id"`
	InputDescriptors []InputDescriptor `json:"input_descriptors"`
}

type InputDescriptor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Purpose     string      `json:"purpose,omitempty"`
	Format      Formats     `json:"format,omitempty"`
	Constraints Constraints `json:"constraints"`
}

type Formats struct {
	MsoMdoc *AlgFormat `json:"mso_mdoc,omitempty"`
	JwtVP   *AlgFormat `json:"jwt_vp,omitempty"`
}

type AlgFormat struct {
	Alg []string `json:"alg"`
}

type Constraints struct {
	Fields []Field `json:"fields"`
}

type Field struct {
	Path []string `json:"path"`
}

// ClientMetadata is presented to the wallet user alongside the request.
type ClientMetadata struct {
	ClientName string   `json:"client_name"`
	LogoURI    string   `json:"logo_uri,omitempty"`
	Contacts   []string `json:"contacts,omitempty"`
}

// AuthorizationRequest is the result of building one request: everything the
// browser needs to render a QR and begin a subscription.
type AuthorizationRequest struct {
	RequestURI string
	QRPayload  string
	SessionID  string
	Nonce      string
	ExpiresAt  time.Time
}

// Builder produces signed authorization requests for a fixed verifier
// identity.
type Builder struct {
	verifierDID string
	callbackURL string
	metadata    ClientMetadata
	ttl         time.Duration

	key   *ecdsa.PrivateKey
	keyID string

	now func() time.Time
}

// ParseSigningKey decodes a JSON-encoded EC P-256 private JWK.
func ParseSigningKey(jwkJSON string) (*ecdsa.PrivateKey, string, error) {
	if jwkJSON == "" {
		return nil, "", ErrNoSigningKey
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal([]byte(jwkJSON), &key); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "verifier signing key is not a valid JWK")
	}

	ec, ok := key.Key.(*ecdsa.PrivateKey)
	if !ok || !key.Valid() {
		return nil, "", dErrors.New(dErrors.CodeInternal, "verifier signing key must be an EC private JWK")
	}

	kid := key.KeyID
	if kid == "" {
		kid = "verifier-key-1"
	}
	return ec, kid, nil
}

// NewBuilder creates a Builder. A nil key is allowed; building then fails
// with ErrNoSigningKey so the rest of the service can still serve reads.
func NewBuilder(verifierDID, callbackURL string, metadata ClientMetadata, ttl time.Duration, key *ecdsa.PrivateKey, keyID string) *Builder {
	return &Builder{
		verifierDID: verifierDID,
		callbackURL: callbackURL,
		metadata:    metadata,
		ttl:         ttl,
		key:         key,
		keyID:       keyID,
		now:         time.Now,
	}
}

// CreateAuthorizationRequest builds the presentation definition for the
// requested claims, generates a fresh session id and nonce, and signs the
// request object.
func (b *Builder) CreateAuthorizationRequest(requestedClaims []string) (AuthorizationRequest, error) {
	if b.key == nil {
		return AuthorizationRequest{}, ErrNoSigningKey
	}
	if len(requestedClaims) == 0 {
		return AuthorizationRequest{}, dErrors.New(dErrors.CodeInvalidInput, "at least one claim must be requested")
	}

	nonce := uuid.NewString()
	sessionID := uuid.NewString()
	now := b.now()
	expiresAt := now.Add(b.ttl)

	definition := b.presentationDefinition(requestedClaims)

	claims := jwt.MapClaims{
		"iss":                     b.verifierDID,
		"aud":                     selfIssuedAudience,
		"iat":                     now.Unix(),
		"exp":                     expiresAt.Unix(),
		"client_id":               b.verifierDID,
		"client_id_scheme":        "did",
		"response_type":           "vp_token",
		"response_mode":           "direct_post",
		"redirect_uri":            b.callbackURL,
		"nonce":                   nonce,
		"state":                   sessionID,
		"presentation_definition": definition,
		"client_metadata":         b.metadata,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = b.keyID

	signed, err := token.SignedString(b.key)
	if err != nil {
		return AuthorizationRequest{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign authorization request")
	}

	return AuthorizationRequest{
		RequestURI: "openid4vp://?request=" + signed,
		QRPayload:  signed,
		SessionID:  sessionID,
		Nonce:      nonce,
		ExpiresAt:  expiresAt,
	}, nil
}

// presentationDefinition declares each requested claim under the three paths
// wallets are known to place PID attributes at.
func (b *Builder) presentationDefinition(requestedClaims []string) PresentationDefinition {
	fields := make([]Field, 0, len(requestedClaims))
	for _, claim := range requestedClaims {
		fields = append(fields, Field{
			Path: []string{
				"$.credentialSubject." + claim,
				"$." + claim,
				"$.vc.credentialSubject." + claim,
			},
		})
	}

	return PresentationDefinition{
		ID: uuid.NewString(),
		InputDescriptors: []InputDescriptor{{
			ID:      descriptorID,
			Name:    "European identity verification",
			Purpose: "Verify identity for service access",
			Format: Formats{
				MsoMdoc: &AlgFormat{Alg: []string{"ES256", "ES512"}},
				JwtVP:   &AlgFormat{Alg: []string{"ES256", "ES512"}},
			},
			Constraints: Constraints{Fields: fields},
		}},
	}
}
