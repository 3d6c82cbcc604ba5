// Package auth authenticates staff through API keys and customers through
// signed bearer tokens.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for any failed authentication attempt.
var ErrUnauthorized = errors.New("unauthorized")

// ScopeStaff grants access to the back-office endpoints.
const ScopeStaff = "staff"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
	Upsert(ctx context.Context, info *APIKeyInfo) error
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// ever stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// KeyVerifier checks raw API keys against the repository.
type KeyVerifier struct {
	keys   Repository
	pepper []byte
}

// NewKeyVerifier creates a KeyVerifier with the given repository and HMAC pepper.
func NewKeyVerifier(keys Repository, pepper []byte) *KeyVerifier {
	return &KeyVerifier{keys: keys, pepper: pepper}
}

// Verify returns the key info for a raw API key or ErrUnauthorized.
func (v *KeyVerifier) Verify(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashAPIKey(v.pepper, key)

	info, err := v.keys.FindByHash(ctx, hash)
	if err != nil {
		return nil, ErrUnauthorized
	}

	computed, _ := hex.DecodeString(hash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
