package session

import (
	"time"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

// State is the lifecycle position of a refresh token record at the moment it
// is presented.
type State int

const (
	StateActive State = iota
	StateRotated
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Classify reports the state of rec at now. Revoked records are Rotated or
// Revoked and lead to the reuse cascade, with one exception: a record revoked
// by lazy expiry cleanup (reason "expired") stays Expired, so presenting a
// lapsed token twice is not treated as reuse.
func Classify(rec *models.RefreshToken, now time.Time) State {
	if rec.Revoked {
		switch rec.RevokeReason {
		case models.RevokeReasonRotated:
			return StateRotated
		case models.RevokeReasonExpired:
			return StateExpired
		default:
			return StateRevoked
		}
	}
	if rec.ExpiredAt(now) {
		return StateExpired
	}
	return StateActive
}
