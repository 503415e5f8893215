package usage

import (
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrUsage         apperrors.Error = apperrors.New("usage error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidUsage  apperrors.Error = ErrUsage.New("invalid usage payload").SetStatusCode(http.StatusBadRequest).SetExpandError(true)
	ErrUsageNotFound apperrors.Error = ErrUsage.New("usage record not found").SetStatusCode(http.StatusNotFound)
	ErrSchema        apperrors.Error = ErrUsage.New("unable to load payload schema")
)
