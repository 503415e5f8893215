package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/carrierhub/provisioner/internal/common/uuid"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

var (
	errInvalidToken       = ErrAuth.New("invalid token").SetStatusCode(http.StatusUnauthorized)
	errUnableToParseToken = ErrAuth.New("unable to parse token").SetStatusCode(http.StatusForbidden)
	errInvalidHash        = ErrAuth.New("invalid token hash").SetStatusCode(http.StatusInternalServerError)
)

// parseSystemToken checks a token the way a consumer of system tokens would.
func parseSystemToken(signingKey []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, errUnableToParseToken.Err(err)
	}
	if !token.Valid {
		return nil, errUnableToParseToken
	}
	if claims.TokenUse != TokenUseSystem {
		return nil, errInvalidToken.Msg("not a system token")
	}
	if claims.Version != TokenVersion {
		return nil, errInvalidToken.Msg("invalid token version: " + claims.Version)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, errInvalidToken.Msg("invalid jti claim")
	}
	return claims, nil
}

// verifyTokenID reports whether id matches a hash produced by HashTokenID.
func verifyTokenID(id, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errInvalidHash.Msg("unrecognized hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errInvalidHash.Msg("unsupported argon2 version")
	}
	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, errInvalidHash.Err(err)
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return false, errInvalidHash.Err(err)
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil {
		return false, errInvalidHash.Err(err)
	}
	got := argon2.IDKey([]byte(id), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
