package token

import "time"

// AccessTokenService mints and verifies short-lived access credentials.
type AccessTokenService interface {
	Issue(userID uint, role string) (signed string, expiresAt time.Time, err error)
	Verify(signed string) (*Claims, error)
}

// Fingerprinter is satisfied by *Hasher.
type Fingerprinter interface {
	Hash(raw string) string
}

var (
	_ AccessTokenService = (*JWTService)(nil)
	_ Fingerprinter      = (*Hasher)(nil)
)
