package user

import "golang.org/x/crypto/bcrypt"

// BcryptHasher hashes passwords with bcrypt. A zero Cost means
// bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

var _ PasswordHasher = BcryptHasher{}

func (h BcryptHasher) Hash(pw []byte) ([]byte, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword(pw, cost)
}

func (BcryptHasher) Compare(hash, pw []byte) error {
	return bcrypt.CompareHashAndPassword(hash, pw)
}
