// Package password hashes and verifies user passwords.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// MaxLength is the longest password bcrypt accepts, in bytes.
const MaxLength = 72

var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher defines the minimal hashing interface so the algorithm can be swapped later.
type Hasher interface {
	Hash(pw string) (string, error)
	Verify(pw, hash string) bool
}

// Bcrypt implements Hasher. Every hash carries its own salt and cost.
type Bcrypt struct{ Cost int }

// NewBcrypt returns a Bcrypt hasher, falling back to DefaultCost for a zero cost.
func NewBcrypt(cost int) Bcrypt {
	if cost == 0 {
		cost = DefaultCost
	}
	return Bcrypt{Cost: cost}
}

func (b Bcrypt) Hash(pw string) (string, error) {
	if len(pw) > MaxLength {
		return "", ErrTooLong
	}
	cost := b.Cost
	if cost == 0 {
		cost = DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

// Verify reports whether hash was produced from pw. A malformed hash is a mismatch.
// bcrypt only reads the first MaxLength bytes, so longer input never matches.
func (b Bcrypt) Verify(pw, hash string) bool {
	if hash == "" || len(pw) > MaxLength {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
