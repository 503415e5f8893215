package apperrors

import "net/http"

// ErrExternalCall is the root of failures reported by services outside this
// process: the identity provider, the message broker and the secrets store.
var ErrExternalCall Error = New("external call failed").SetStatusCode(http.StatusBadGateway)
