// Package httpx holds the JSON request/response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

// MaxRequestBody bounds the size of decoded request bodies.
const MaxRequestBody int64 = 4 << 20

// GetRequestData decodes a JSON body of a POST or PUT request into data.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody)).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// GetRequestBody returns the raw JSON body of a POST or PUT request.
func GetRequestBody(r *http.Request) ([]byte, error) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return nil, ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		return nil, ErrUnableToParseReqData()
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody+1))
	if err != nil {
		return nil, ErrUnableToReadRequest()
	}
	if int64(len(b)) > MaxRequestBody {
		return nil, ErrRequestTooLarge(MaxRequestBody)
	}
	if !json.Valid(b) {
		return nil, ErrUnableToParseReqData()
	}
	return b, nil
}

// Response is what a RequestHandler returns on success. Location is only
// emitted for 201 responses.
type Response struct {
	StatusCode int
	Location   string
	Response   any
}

type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc and renders both
// outcomes as JSON. A nil response without an error is a 500.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendErr(r, w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
	})
}

func sendErr(r *http.Request, w http.ResponseWriter, err error) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		httpErr.Send(w)
		return
	}
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		if appErr.StatusCode() >= http.StatusInternalServerError || appErr.StatusCode() == 0 {
			log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		}
		SendError(w, appErr)
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	ErrApplicationError(err.Error()).Send(w)
}
