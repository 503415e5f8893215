package auth

import (
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrAuth apperrors.Error = apperrors.New("auth error").SetStatusCode(http.StatusInternalServerError)

	ErrTokenGeneration   apperrors.Error = ErrAuth.New("failed to generate token").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidSigningKey apperrors.Error = ErrAuth.New("invalid signing key").SetStatusCode(http.StatusInternalServerError)
)
