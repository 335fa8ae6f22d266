// Package auth guards the HTTP API with a single shared credential.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

// Identity is the caller a request was authenticated as.
type Identity struct {
	Subject string
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// FixedKeyValidator accepts exactly one configured key.
type FixedKeyValidator struct {
	digest  [sha256.Size]byte
	subject string
}

func NewFixedKeyValidator(apiKey, subject string) (*FixedKeyValidator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(subject) == "" {
		subject = "operator"
	}
	return &FixedKeyValidator{digest: sha256.Sum256([]byte(apiKey)), subject: subject}, nil
}

// Validate compares digests in constant time so the key length does not leak.
func (v *FixedKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	candidate := sha256.Sum256([]byte(apiKey))
	if subtle.ConstantTimeCompare(candidate[:], v.digest[:]) != 1 {
		return Identity{}, false
	}
	return Identity{Subject: v.subject}, true
}
