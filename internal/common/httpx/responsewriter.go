package httpx

import (
	"net/http"
)

// StatusRecorder wraps a ResponseWriter and keeps the status code and body
// size of the response. Only the first WriteHeader reaches the client.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

// Record wraps w, reusing it when it already is a StatusRecorder so stacked
// middlewares observe the same response.
func Record(w http.ResponseWriter) *StatusRecorder {
	if sr, ok := w.(*StatusRecorder); ok {
		return sr
	}
	return &StatusRecorder{ResponseWriter: w}
}

func (sr *StatusRecorder) WriteHeader(code int) {
	if sr.status != 0 {
		return
	}
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *StatusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Started reports whether the header has gone out.
func (sr *StatusRecorder) Started() bool { return sr.status != 0 }

// Code is the status sent, 200 if the handler never wrote anything.
func (sr *StatusRecorder) Code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

func (sr *StatusRecorder) BytesWritten() int { return sr.bytes }

func (sr *StatusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }
