package broker

import (
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrBroker          apperrors.Error = apperrors.ErrExternalCall.New("message broker error")
	ErrVhostCreate     apperrors.Error = ErrBroker.New("unable to create vhost")
	ErrVhostDelete     apperrors.Error = ErrBroker.New("unable to delete vhost")
	ErrQueueStore      apperrors.Error = ErrBroker.New("queue registry unavailable")
	ErrInvalidArgument apperrors.Error = ErrBroker.New("invalid argument").SetStatusCode(http.StatusBadRequest)
)
