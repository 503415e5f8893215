package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize    = 16
	keySize     = 32
	memory      = 64 * 1024
	iterations  = 3
	parallelism = 2
)

// HashTokenID returns the argon2id hash of id in PHC string format.
func HashTokenID(id string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", ErrTokenGeneration.MsgErr("failed to generate salt", err)
	}
	key := argon2.IDKey([]byte(id), salt, iterations, memory, parallelism, keySize)
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, iterations, parallelism, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}
