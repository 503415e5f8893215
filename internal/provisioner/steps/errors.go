package steps

import (
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrStep         apperrors.Error = apperrors.New("provisioning step error").SetStatusCode(http.StatusInternalServerError)
	ErrStepFailed   apperrors.Error = ErrStep.New("provisioning step failed")
	ErrStepPanicked apperrors.Error = ErrStepFailed.New("provisioning step panicked")
	ErrMissingInput apperrors.Error = ErrStepFailed.New("output of an earlier step is missing")
)
