package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/carrierhub/provisioner/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// PanicHandler turns a handler panic into a logged error and, when the
// response has not started, a 500 reply.
func PanicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := httpx.Record(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			log.Ctx(r.Context()).Error().
				Interface("panic", v).
				Bytes("stack", debug.Stack()).
				Str("path", r.URL.Path).
				Msg("handler panicked")
			if !sr.Started() {
				httpx.ErrApplicationError("unable to process request").Send(sr)
			}
		}()
		next.ServeHTTP(sr, r)
	})
}
