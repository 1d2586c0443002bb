// Package identity resolves the current user id from a client-side
// bearer token. Resolution never fails: a malformed or absent token
// yields an empty user id.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKey is the fixed key the portal stores its bearer token under.
const TokenKey = "accessToken"

// Store is the narrow key/value contract the token is read from.
// Implementers may back it with any storage mechanism.
type Store interface {
	Get(key string) string
}

// MemoryStore is a map-backed Store.
type MemoryStore map[string]string

func (s MemoryStore) Get(key string) string { return s[key] }

// Provider yields the current user id. Implementations never panic and
// never return an error; unknown identity is the empty string.
type Provider interface {
	CurrentUserID() string
}

// TokenProvider decodes the bearer token payload from a Store on every
// call, so a token refresh is picked up without re-wiring.
type TokenProvider struct {
	store Store
	key   string
}

func NewTokenProvider(store Store) *TokenProvider {
	return &TokenProvider{store: store, key: TokenKey}
}

func (p *TokenProvider) CurrentUserID() string {
	raw := p.store.Get(p.key)
	if raw == "" {
		return ""
	}
	return UserIDFromToken(raw)
}

// Static is a fixed-id Provider, useful for tests and the demo client.
type Static string

func (s Static) CurrentUserID() string { return string(s) }

// DevToken builds an unsigned bearer token carrying userID, for
// development clients and tests that have no real token issuer.
func DevToken(userID string) string {
	payload, _ := json.Marshal(map[string]string{"sub": userID})
	return base64.RawURLEncoding.EncodeToString(payload)
}

// UserIDFromToken extracts the subject from a bearer token without
// verifying the signature. The id lives in the token payload; the
// gateway is the one that actually validates the token.
func UserIDFromToken(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		if id := claimUserID(claims); id != "" {
			return id
		}
	}

	// Not a well-formed JWT. Older gateway tokens are a bare
	// base64 JSON payload, or use non-standard segment padding.
	for _, segment := range strings.Split(raw, ".") {
		if id := claimUserID(decodeSegment(segment)); id != "" {
			return id
		}
	}
	return ""
}

func claimUserID(claims map[string]any) string {
	for _, key := range []string{"sub", "userId", "user_id"} {
		if id, ok := claims[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func decodeSegment(segment string) map[string]any {
	var payload []byte
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.StdEncoding, base64.RawStdEncoding,
	} {
		if decoded, err := enc.DecodeString(segment); err == nil {
			payload = decoded
			break
		}
	}
	if payload == nil {
		return nil
	}

	claims := map[string]any{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil
	}
	return claims
}
