package validator

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v3"
)

// TrustList answers whether an issuer identity is acceptable. The static
// implementation below stands in for a trust-registry lookup; the validator
// only depends on this interface so the registry can be swapped in without
// touching its control flow.
type TrustList interface {
	IsTrusted(issuerDID string) bool
}

// StaticTrustList is a fixed whitelist of issuer DIDs.
type StaticTrustList map[string]struct{}

func NewStaticTrustList(issuers []string) StaticTrustList {
	list := make(StaticTrustList, len(issuers))
	for _, iss := range issuers {
		list[iss] = struct{}{}
	}
	return list
}

func (l StaticTrustList) IsTrusted(issuerDID string) bool {
	_, ok := l[issuerDID]
	return ok
}

// KeyResolver maps an issuer identity to its verification key. Real DID
// resolution is not implemented yet; issuers without a resolvable key skip
// cryptographic verification and rely on the trust list alone.
type KeyResolver interface {
	ResolveKey(issuerDID string) (crypto.PublicKey, bool)
}

// StaticKeyResolver holds pinned issuer keys.
type StaticKeyResolver map[string]crypto.PublicKey

// ParseKeyResolver decodes a JSON object of issuer DID -> public JWK. An
// empty input yields an empty resolver.
func ParseKeyResolver(jwksJSON string) (StaticKeyResolver, error) {
	resolver := make(StaticKeyResolver)
	if jwksJSON == "" {
		return resolver, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jwksJSON), &raw); err != nil {
		return nil, fmt.Errorf("parse trusted issuer keys: %w", err)
	}
	for issuer, keyJSON := range raw {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal(keyJSON, &jwk); err != nil {
			return nil, fmt.Errorf("parse key for %s: %w", issuer, err)
		}
		pub, ok := jwk.Key.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key for %s must be an EC public JWK", issuer)
		}
		resolver[issuer] = pub
	}
	return resolver, nil
}

func (r StaticKeyResolver) ResolveKey(issuerDID string) (crypto.PublicKey, bool) {
	key, ok := r[issuerDID]
	return key, ok
}
