package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/logtrace"
	"github.com/rs/zerolog/log"
)

// SendJsonRsp writes msg as JSON. Raw messages and byte slices holding valid
// JSON go out untouched; anything else is marshalled.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any, location ...string) {
	var body []byte
	switch v := msg.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		if json.Valid(v) {
			body = v
		} else {
			msg = string(v)
		}
	}
	if body == nil {
		var err error
		if body, err = json.Marshal(msg); err != nil {
			log.Ctx(ctx).Err(err).Msg("unable to marshal json")
			ErrApplicationError("Id: " + logtrace.RequestIdFromContext(ctx)).Send(w)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if statusCode == http.StatusCreated && len(location) > 0 {
		w.Header().Set("Location", location[0])
	}
	w.WriteHeader(statusCode)
	w.Write(body)
}
