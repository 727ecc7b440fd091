// Package publicid converts internal identifiers into opaque, externally
// safe tokens. Internal ids never cross the service boundary in the clear:
// they are wrapped in an AES-256-GCM envelope carrying the entity type and
// a validity window, so external identifiers leak no sequential structure
// and cannot be forged or replayed past expiry.
package publicid

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalid = errors.New("public id invalid")
	ErrExpired = errors.New("public id expired")
)

const (
	keyIterations = 100_000
	keySalt       = "iam-engine-publicid-v1"
)

type payload struct {
	ID         string     `json:"id"`
	EntityType string     `json:"entityType"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Cache accelerates public→internal lookups. It is never the source of
// truth: decoding stays correct when the cache is empty or absent, and a
// hit is re-validated against the envelope expiry before it is returned.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// cacheEntry is the cached form of a decoded envelope. The expiry is
// carried so a hit cannot outlive the envelope's validity window.
type cacheEntry struct {
	ID        string     `json:"id"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Obfuscator encrypts and decrypts public identifiers.
type Obfuscator struct {
	aead     cipher.AEAD
	ttl      time.Duration
	cache    Cache
	cacheTTL time.Duration
}

// Option configures an Obfuscator.
type Option func(*Obfuscator)

// WithCache enables best-effort caching of public→internal mappings.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(o *Obfuscator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// New derives a 256-bit key from secret and builds the AES-GCM obfuscator.
// ttl bounds the validity of every generated public id; zero means no expiry.
func New(secret string, ttl time.Duration, opts ...Option) (*Obfuscator, error) {
	if secret == "" {
		return nil, errors.New("publicid secret must not be empty")
	}

	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	o := &Obfuscator{aead: aead, ttl: ttl}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ToPublicID encrypts an internal id into a URL-safe opaque token.
// A fresh random nonce is used per call, so the same id yields a
// different token every time.
func (o *Obfuscator) ToPublicID(ctx context.Context, internalID, entityType string) (string, error) {
	p := payload{
		ID:         internalID,
		EntityType: entityType,
		CreatedAt:  time.Now().UTC(),
	}
	if o.ttl > 0 {
		expiresAt := p.CreatedAt.Add(o.ttl)
		p.ExpiresAt = &expiresAt
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	nonce := make([]byte, o.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := o.aead.Seal(nonce, nonce, plaintext, nil)
	publicID := base64.RawURLEncoding.EncodeToString(sealed)

	o.cacheStore(ctx, publicID, entityType, p.ID, p.ExpiresAt)

	return publicID, nil
}

// FromPublicID decrypts a public id back to the internal id, verifying
// the entity type and that the envelope has not expired. Tampered or
// expired tokens fail closed.
func (o *Obfuscator) FromPublicID(ctx context.Context, publicID, entityType string) (string, error) {
	if o.cache != nil {
		if raw, ok, err := o.cache.Get(ctx, cacheKey(publicID, entityType)); err == nil && ok {
			var entry cacheEntry
			if json.Unmarshal([]byte(raw), &entry) == nil && entry.ID != "" {
				if entry.ExpiresAt != nil && entry.ExpiresAt.Before(time.Now().UTC()) {
					return "", ErrExpired
				}
				return entry.ID, nil
			}
		}
	}

	sealed, err := base64.RawURLEncoding.DecodeString(publicID)
	if err != nil {
		return "", ErrInvalid
	}

	nonceSize := o.aead.NonceSize()
	if len(sealed) < nonceSize+o.aead.Overhead() {
		return "", ErrInvalid
	}

	plaintext, err := o.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalid
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return "", ErrInvalid
	}
	if p.EntityType != entityType {
		return "", ErrInvalid
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(time.Now().UTC()) {
		return "", ErrExpired
	}

	o.cacheStore(ctx, publicID, entityType, p.ID, p.ExpiresAt)

	return p.ID, nil
}

// cacheStore records a decoded mapping, keyed by entity type so a token
// never resolves under a different type. The write TTL is capped by the
// envelope's remaining validity.
func (o *Obfuscator) cacheStore(ctx context.Context, publicID, entityType, internalID string, expiresAt *time.Time) {
	if o.cache == nil {
		return
	}

	ttl := o.cacheTTL
	if expiresAt != nil {
		remaining := time.Until(*expiresAt)
		if remaining <= 0 {
			return
		}
		if ttl == 0 || remaining < ttl {
			ttl = remaining
		}
	}

	encoded, err := json.Marshal(cacheEntry{ID: internalID, ExpiresAt: expiresAt})
	if err != nil {
		return
	}
	_ = o.cache.Set(ctx, cacheKey(publicID, entityType), string(encoded), ttl)
}

func cacheKey(publicID, entityType string) string {
	return "publicid:" + entityType + ":" + publicID
}
