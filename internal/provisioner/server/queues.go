package server

import (
	"net/http"
	"strconv"

	"github.com/carrierhub/provisioner/internal/common/httpx"
	"github.com/go-chi/chi/v5"
)

func (s *ProvisionerServer) registerQueue(r *http.Request) (*httpx.Response, error) {
	msg, err := s.deps.Queues.RegisterQueue(r.Context(), chi.URLParam(r, "vhost"), chi.URLParam(r, "queue"))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: map[string]string{"msg": msg}}, nil
}

func (s *ProvisionerServer) getQueues(r *http.Request) (*httpx.Response, error) {
	removeInternal := false
	if v := r.URL.Query().Get("remove_internal"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("remove_internal must be a boolean")
		}
		removeInternal = b
	}
	queues, err := s.deps.Queues.GetQueues(r.Context(), chi.URLParam(r, "vhost"), removeInternal)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: queues}, nil
}
