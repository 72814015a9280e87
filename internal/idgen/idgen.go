// Package idgen provides random ID and referral code generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// New generates a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "rule_", "asm_", "aff_").
// Result is prefix + 24 hex chars derived from a fresh UUID.
func WithPrefix(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:12])
}

// codeAlphabet omits 0/O and 1/I/L so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ReferralCode returns an n-character uppercase code drawn from codeAlphabet.
func ReferralCode(n int) string {
	if n <= 0 {
		n = 8
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, v := range b {
		sb.WriteByte(codeAlphabet[int(v)%len(codeAlphabet)])
	}
	return sb.String()
}
