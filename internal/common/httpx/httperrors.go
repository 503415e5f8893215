package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
)

// Error is an error that already knows how it is rendered to a client.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

// Failure is the value of "result" in every error body.
const Failure int = 0

func newError(status int, desc string) *Error {
	return &Error{Description: desc, StatusCode: status}
}

func (e *Error) Error() string { return e.Description }

// Send writes {"result":0,"error":<description>} with the error's status.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	body, _ := json.Marshal(map[string]any{"result": Failure, "error": e.Description})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(body)
}

// SendError renders an application error. Errors without a status become 500
// and their whole cause chain is reported.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	newError(apperrors.StatusOf(err, http.StatusInternalServerError), err.ErrorAll()).Send(w)
}

func firstOr(msg []string, def string) string {
	if len(msg) > 0 && msg[0] != "" {
		return msg[0]
	}
	return def
}

func ErrReqMethodNotSupported() *Error {
	return newError(http.StatusMethodNotAllowed, "request method not supported")
}

func ErrUnableToParseReqData() *Error {
	return newError(http.StatusBadRequest, "unable to parse request data")
}

func ErrUnableToReadRequest() *Error {
	return newError(http.StatusBadRequest, "unable to read request data")
}

func ErrRequestTooLarge(limit int64) *Error {
	return newError(http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit))
}

func ErrApplicationError(msg ...string) *Error {
	return newError(http.StatusInternalServerError, firstOr(msg, "unable to process request"))
}

func ErrInvalidRequest(msg ...string) *Error {
	return newError(http.StatusBadRequest, firstOr(msg, "invalid request data or empty request values"))
}

func ErrInvalidProjectId() *Error { return newError(http.StatusBadRequest, "invalid project id") }

// ErrInvalidUser is returned when the caller's user id is missing or malformed.
func ErrInvalidUser() *Error {
	return newError(http.StatusUnauthorized, "missing or invalid user id")
}
