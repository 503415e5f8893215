package project

import (
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrProject         apperrors.Error = apperrors.New("project error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidRequest  apperrors.Error = ErrProject.New("invalid request").SetStatusCode(http.StatusBadRequest).SetExpandError(true)
	ErrProjectNotFound apperrors.Error = ErrProject.New("project not found").SetStatusCode(http.StatusNotFound)
)
