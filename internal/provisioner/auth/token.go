// Package auth issues project system tokens and hashes their ids at rest.
package auth

import (
	"strconv"
	"time"

	"github.com/carrierhub/provisioner/internal/common/uuid"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenUseSystem = "system"
	TokenVersion   = "0.1"
	MinKeyLength   = 32
)

// Claims are carried by a system token. The token has no expiry; it lives as
// long as the project and is revoked by deleting its auth_tokens row.
type Claims struct {
	ProjectID int64  `json:"project_id"`
	TokenUse  string `json:"token_use"`
	Version   string `json:"ver"`
	jwt.RegisteredClaims
}

// SystemToken is a freshly issued token. Signed is handed to the caller once;
// only the hash of ID is persisted.
type SystemToken struct {
	ID     uuid.UUID
	Signed string
}

// IssueSystemToken signs an HS256 token for the system user of projectID.
func IssueSystemToken(signingKey []byte, issuer string, userID, projectID int64) (*SystemToken, error) {
	if len(signingKey) < MinKeyLength {
		return nil, ErrInvalidSigningKey.Msg("signing key is too short")
	}
	id := uuid.New()
	now := time.Now()
	claims := Claims{
		ProjectID: projectID,
		TokenUse:  TokenUseSystem,
		Version:   TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       id.String(),
			Issuer:   issuer,
			Subject:  strconv.FormatInt(userID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return nil, ErrTokenGeneration.Err(err)
	}
	return &SystemToken{ID: id, Signed: signed}, nil
}
