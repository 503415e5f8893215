// Package common holds small helpers shared by the provisioner packages.
package common

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	secretChars = lowerChars + upperChars + digitChars

	// DefaultPasswordLength is used for broker users and temporary identity credentials.
	DefaultPasswordLength = 24
)

// randomIndex returns a uniformly distributed value in [0, max).
func randomIndex(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("max must be positive, got %d", max)
	}
	limit := (math.MaxUint64 / uint64(max)) * uint64(max)
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read random bytes: %w", err)
		}
		n := binary.BigEndian.Uint64(buf[:])
		if n < limit {
			return int(n % uint64(max)), nil
		}
	}
}

// GeneratePassword returns a random alphanumeric secret of the given length.
// The first character is always a letter.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive, got %d", length)
	}
	out := make([]byte, length)
	letters := lowerChars + upperChars
	idx, err := randomIndex(len(letters))
	if err != nil {
		return "", err
	}
	out[0] = letters[idx]
	for i := 1; i < length; i++ {
		idx, err := randomIndex(len(secretChars))
		if err != nil {
			return "", err
		}
		out[i] = secretChars[idx]
	}
	return string(out), nil
}
