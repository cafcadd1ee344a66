package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
)

// MinSecretBytes is the floor for the entropy of a raw refresh secret.
const MinSecretBytes = 32

// Hasher turns raw refresh secrets into storable fingerprints.
// With a pepper the fingerprint is HMAC-SHA256, otherwise plain SHA-256.
type Hasher struct {
	pepper []byte
}

func NewHasher(pepper []byte) *Hasher {
	return &Hasher{pepper: append([]byte(nil), pepper...)}
}

// Hash returns the hex encoded fingerprint of raw. It is deterministic for a
// given pepper and never reveals raw.
func (h *Hasher) Hash(raw string) string {
	var mac hash.Hash
	if h != nil && len(h.pepper) > 0 {
		mac = hmac.New(sha256.New, h.pepper)
	} else {
		mac = sha256.New()
	}
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewSecret returns n random bytes (at least MinSecretBytes) encoded as
// unpadded base64url. This is what the client sees.
func NewSecret(n int) (string, error) {
	if n < MinSecretBytes {
		n = MinSecretBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
