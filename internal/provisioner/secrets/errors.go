package secrets

import (
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrSecrets       apperrors.Error = apperrors.ErrExternalCall.New("secrets store error")
	ErrMountFailed   apperrors.Error = ErrSecrets.New("unable to mount project secrets engine")
	ErrPolicyFailed  apperrors.Error = ErrSecrets.New("unable to write project policy")
	ErrWriteFailed   apperrors.Error = ErrSecrets.New("unable to write project secrets")
	ErrReadFailed    apperrors.Error = ErrSecrets.New("unable to read project secrets")
	ErrRemoveFailed  apperrors.Error = ErrSecrets.New("unable to remove project secrets")
	ErrInvalidConfig apperrors.Error = ErrSecrets.New("invalid secrets store configuration").SetStatusCode(http.StatusInternalServerError)
)
