package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// UnknownIdentifier is the shared bucket for empty identifiers and unresolved IPs,
// so a missing value is still counted instead of bypassing the limiter.
const UnknownIdentifier = "unknown"

// KeyPrefix scopes a key to one limiter keyspace.
type KeyPrefix string

const (
	KeyPrefixIP         KeyPrefix = "ip"
	KeyPrefixIdentifier KeyPrefix = "identifier"
	KeyPrefixLockout    KeyPrefix = "lockout"
)

// NormalizeIdentifier trims whitespace and lowercases, so " Alice@EXAMPLE.com "
// and "alice@example.com" share a bucket.
func NormalizeIdentifier(identifier string) string {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return UnknownIdentifier
	}
	return strings.ToLower(trimmed)
}

// NormalizeIP trims the address and maps an empty one to UnknownIdentifier.
func NormalizeIP(ip string) string {
	trimmed := strings.TrimSpace(ip)
	if trimmed == "" {
		return UnknownIdentifier
	}
	return trimmed
}

// RateLimitKey is a value object encapsulating rate limit key construction.
type RateLimitKey struct {
	prefix KeyPrefix
	value  string
}

// NewIPKey builds the "ip:" key for a source address.
func NewIPKey(ip string) RateLimitKey {
	return RateLimitKey{prefix: KeyPrefixIP, value: sanitizeKeySegment(NormalizeIP(ip))}
}

// NewIdentifierKey builds the "identifier:" key for a login name. The input is
// normalized here so callers cannot forget to.
func NewIdentifierKey(identifier string) RateLimitKey {
	return RateLimitKey{prefix: KeyPrefixIdentifier, value: sanitizeKeySegment(NormalizeIdentifier(identifier))}
}

// NewLockoutKey builds the "lockout:" key for an identifier hash.
func NewLockoutKey(identifierHash string) RateLimitKey {
	return RateLimitKey{prefix: KeyPrefixLockout, value: sanitizeKeySegment(identifierHash)}
}

func (k RateLimitKey) String() string {
	return fmt.Sprintf("%s:%s", k.prefix, k.value)
}

// sanitizeKeySegment escapes delimiter characters so a user-controlled value
// containing ':' cannot address another keyspace.
//
//   - "user:admin"  → "user_cadmin"
//   - "user_admin"  → "user__admin"
//   - "user_:admin" → "user___cadmin"
func sanitizeKeySegment(s string) string {
	// Order matters: escape the escape character first
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}

// IdentifierHasher derives the opaque lockout id for a normalized identifier.
// With a secret it is a keyed BLAKE2b-256, so stored lockout keys cannot be
// reversed by hashing a list of known e-mail addresses.
type IdentifierHasher struct {
	key []byte
}

// NewIdentifierHasher builds a hasher. Secrets longer than 64 bytes are
// compressed to 32 bytes first (BLAKE2b key size limit).
func NewIdentifierHasher(secret string) *IdentifierHasher {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &IdentifierHasher{key: key}
}

// Hash normalizes identifier and returns its hex-encoded hash.
func (h *IdentifierHasher) Hash(identifier string) string {
	normalized := NormalizeIdentifier(identifier)
	if h == nil || len(h.key) == 0 {
		sum := blake2b.Sum256([]byte(normalized))
		return hex.EncodeToString(sum[:])
	}
	// key length is bounded above, so New256 cannot fail
	mac, err := blake2b.New256(h.key)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// ShortHash returns a log-safe prefix of the identifier hash.
func (h *IdentifierHasher) ShortHash(identifier string) string {
	return h.Hash(identifier)[:16]
}
