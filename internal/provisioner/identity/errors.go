package identity

import (
	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

var (
	ErrIdentity     apperrors.Error = apperrors.ErrExternalCall.New("identity provider error")
	ErrTokenRequest apperrors.Error = ErrIdentity.New("unable to obtain admin token")
	ErrCreateUser   apperrors.Error = ErrIdentity.New("unable to create user")
)
