// New digests are bcrypt: salted, with a tunable work factor, and the salt
// and cost are embedded in the output so no extra column is needed.
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// Accounts created by the first deployment carry an unsalted SHA-256 hex
// digest instead. Verify still accepts those, and NeedsRehash reports them
// so the sign-in path can replace them with a bcrypt digest while the
// plaintext is at hand.

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
// Roughly 250ms on a modern server.
const DefaultCost = 12

// maxPasswordBytes is the bcrypt input limit. Longer input is silently
// truncated by bcrypt, so Hash rejects it instead.
const maxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for input over 72 bytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// PasswordService hashes and verifies passwords.
//
// It's a struct so the cost can be injected: tests use cost 4 (the bcrypt
// minimum) to keep each hash in the millisecond range.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the given bcrypt cost.
// A cost outside bcrypt's accepted range falls back to DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with a low cost for
// tests in other packages. Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns a bcrypt digest of plaintext.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether candidate matches the stored digest. An empty or
// malformed digest never matches.
//
// Both comparisons are constant-time: bcrypt compares internally and the
// legacy path goes through subtle.ConstantTimeCompare.
func (p *PasswordService) Verify(stored, candidate string) bool {
	if stored == "" {
		return false
	}
	if isLegacyDigest(stored) {
		sum := legacyDigest(candidate)
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(sum)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
}

// NeedsRehash reports whether stored should be replaced: it is a legacy
// digest, or a bcrypt digest with a cost other than the configured one.
func (p *PasswordService) NeedsRehash(stored string) bool {
	if isLegacyDigest(stored) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(stored))
	if err != nil {
		return false
	}
	return cost != p.cost
}

func legacyDigest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// isLegacyDigest matches a 64-character hex string. bcrypt digests start
// with '$' and can never match.
func isLegacyDigest(stored string) bool {
	if len(stored) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(stored)
	return err == nil
}
