// Package validator checks inbound wallet presentation responses. Each check
// is a separate failure point executed strictly in order; the first failure
// wins and nothing is partially accepted. The specific failure kind is for
// logs and metrics only; callers collapse every failure into a failed
// session with a generic outward message.
package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"eudi-verifier/internal/verification/metrics"
)

var (
	ErrMalformedToken    = errors.New("malformed presentation token")
	ErrInvalidSignature  = errors.New("invalid issuer signature")
	ErrUntrustedIssuer   = errors.New("issuer not on trust list")
	ErrReplay            = errors.New("nonce does not match session")
	ErrCredentialExpired = errors.New("credential expired")
	ErrNoCredential      = errors.New("no verifiable credential in presentation")
)

// FailureKind labels a validation error for metrics and logs.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUntrustedIssuer):
		return "untrusted_issuer"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrNoCredential):
		return "no_credential"
	default:
		return "unknown"
	}
}

// Response is the wallet's direct_post body.
type Response struct {
	VPToken                string          `json:"vp_token"`
	PresentationSubmission json.RawMessage `json:"presentation_submission"`
}

// Result of a fully successful validation.
type Result struct {
	IssuerDID  string
	Claims     map[string]any
	VerifiedAt time.Time
}

// Validator runs the check pipeline against a configured trust list and key
// resolver.
type Validator struct {
	trust      TrustList
	keys       KeyResolver
	intrusions *IntrusionLog
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func New(trust TrustList, keys KeyResolver, intrusions *IntrusionLog, m *metrics.Metrics, logger *slog.Logger) *Validator {
	return &Validator{
		trust:      trust,
		keys:       keys,
		intrusions: intrusions,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

type vpPayload struct {
	Issuer string `json:"iss"`
	Nonce  string `json:"nonce"`
	Exp    int64  `json:"exp"`
	VP     *struct {
		VerifiableCredential json.RawMessage `json:"verifiableCredential"`
	} `json:"vp"`
}

// Verify runs all checks in order and extracts the presented claims.
// expectedNonce is the nonce issued with the session's authorization
// request. On failure the Result still carries the parsed issuer DID when
// the token was structurally sound, so callers can attribute the attempt.
func (v *Validator) Verify(ctx context.Context, resp Response, expectedNonce string) (Result, error) {
	result, err := v.verify(ctx, resp, expectedNonce)
	if err != nil {
		kind := FailureKind(err)
		v.metrics.IncValidatorFailure(kind)
		v.logger.WarnContext(ctx, "wallet response rejected",
			"kind", kind,
			"error", err.Error(),
		)
	}
	return result, err
}

func (v *Validator) verify(ctx context.Context, resp Response, expectedNonce string) (Result, error) {
	// Step 1: structural check.
	if resp.VPToken == "" || len(resp.PresentationSubmission) == 0 {
		return Result{}, fmt.Errorf("%w: missing vp_token or presentation_submission", ErrMalformedToken)
	}
	payload, err := decodePayload(resp.VPToken)
	if err != nil {
		return Result{}, err
	}

	// Step 2: signature check. Without real DID resolution, only issuers
	// with a pinned key are cryptographically verified; the rest fall
	// through to the trust list. See the key resolver contract.
	if key, ok := v.keys.ResolveKey(payload.Issuer); ok {
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{"ES256", "ES512"}),
			jwt.WithoutClaimsValidation(),
		)
		if _, err := parser.Parse(resp.VPToken, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
			return Result{IssuerDID: payload.Issuer}, fmt.Errorf("%w: %s", ErrInvalidSignature, payload.Issuer)
		}
	}

	// Step 3: trust check. Blocked attempts are recorded for operational
	// visibility; the log never blocks a later retry by a legitimate issuer.
	if !v.trust.IsTrusted(payload.Issuer) {
		attempt := v.intrusions.Record(payload.Issuer)
		v.metrics.IncUntrustedAttempt()
		v.logger.WarnContext(ctx, "untrusted issuer blocked",
			"issuer", payload.Issuer,
			"attempt", attempt,
		)
		return Result{IssuerDID: payload.Issuer}, fmt.Errorf("%w: %s", ErrUntrustedIssuer, payload.Issuer)
	}

	// Step 4: replay check. The nonce is single-use per session.
	if payload.Nonce != expectedNonce {
		return Result{IssuerDID: payload.Issuer}, ErrReplay
	}

	// Step 5: expiry check.
	if payload.Exp != 0 && payload.Exp < v.now().Unix() {
		return Result{IssuerDID: payload.Issuer}, ErrCredentialExpired
	}

	// Step 6: claim extraction.
	claims, err := extractClaims(payload)
	if err != nil {
		return Result{IssuerDID: payload.Issuer}, err
	}

	return Result{
		IssuerDID:  payload.Issuer,
		Claims:     claims,
		VerifiedAt: v.now(),
	}, nil
}

// decodePayload enforces the three-segment JWS shape and decodes the claims
// segment. Header and signature are only shape-checked here; signature
// validity is step 2's concern.
func decodePayload(token string) (vpPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return vpPayload{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	for _, part := range parts[:2] {
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return vpPayload{}, fmt.Errorf("%w: segment is not base64url", ErrMalformedToken)
		}
	}

	raw, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var payload vpPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return vpPayload{}, fmt.Errorf("%w: payload is not JSON", ErrMalformedToken)
	}
	if payload.Issuer == "" {
		return vpPayload{}, fmt.Errorf("%w: payload has no issuer", ErrMalformedToken)
	}
	return payload, nil
}

// extractClaims reads the credential subject out of the presentation.
// Wallets differ in envelope shape: the credential may be a single object or
// an array, and claims live under credentialSubject or claims.
func extractClaims(payload vpPayload) (map[string]any, error) {
	if payload.VP == nil || len(payload.VP.VerifiableCredential) == 0 {
		return nil, ErrNoCredential
	}

	var vc any
	if err := json.Unmarshal(payload.VP.VerifiableCredential, &vc); err != nil {
		return nil, fmt.Errorf("%w: credential is not JSON", ErrNoCredential)
	}
	if list, ok := vc.([]any); ok {
		if len(list) == 0 {
			return nil, ErrNoCredential
		}
		vc = list[0]
	}

	obj, ok := vc.(map[string]any)
	if !ok {
		return nil, ErrNoCredential
	}
	for _, field := range []string{"credentialSubject", "claims"} {
		if subject, ok := obj[field].(map[string]any); ok {
			return subject, nil
		}
	}
	return nil, ErrNoCredential
}

// Intrusions returns a copy of the recorded untrusted-issuer attempts.
func (v *Validator) Intrusions() map[string]IntrusionEntry {
	return v.intrusions.Snapshot()
}
