package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carrierhub/provisioner/internal/common/httpx"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/usage"
	"github.com/go-chi/chi/v5"
)

func usageFilter(r *http.Request) (models.UsageFilter, error) {
	var f models.UsageFilter
	q := r.URL.Query()
	if v := q.Get("project_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, httpx.ErrInvalidProjectId()
		}
		f.ProjectID = &id
	}
	for name, dst := range map[string]**time.Time{"start_time": &f.StartTime, "end_time": &f.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := usage.ParseTime(v)
		if err != nil {
			return f, err
		}
		*dst = &t
	}
	return f, nil
}

func (s *ProvisionerServer) getUsage(r *http.Request) (*httpx.Response, error) {
	f, err := usageFilter(r)
	if err != nil {
		return nil, err
	}
	var rsp any
	switch strings.ToLower(chi.URLParam(r, "kind")) {
	case usage.KindTests:
		rsp, err = s.deps.Usage.QueryTestUsage(r.Context(), f)
	case usage.KindTasks:
		rsp, err = s.deps.Usage.QueryTaskUsage(r.Context(), f)
	default:
		return nil, httpx.ErrInvalidRequest("usage kind must be tests or tasks")
	}
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

func (s *ProvisionerServer) createTestUsage(r *http.Request) (*httpx.Response, error) {
	body, err := httpx.GetRequestBody(r)
	if err != nil {
		return nil, err
	}
	testType := r.URL.Query().Get("test_type")
	if testType == "" {
		return nil, httpx.ErrInvalidRequest("test_type is required")
	}
	u, err := s.deps.Usage.RecordTestStart(r.Context(), body, testType)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusCreated, Response: u}, nil
}

func (s *ProvisionerServer) updateTestUsage(r *http.Request) (*httpx.Response, error) {
	body, err := httpx.GetRequestBody(r)
	if err != nil {
		return nil, err
	}
	u, err := s.deps.Usage.AppendTestUsage(r.Context(), body)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: u}, nil
}

func (s *ProvisionerServer) createTaskUsage(r *http.Request) (*httpx.Response, error) {
	body, err := httpx.GetRequestBody(r)
	if err != nil {
		return nil, err
	}
	u, err := s.deps.Usage.RecordTaskStart(r.Context(), body)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusCreated, Response: u}, nil
}

func (s *ProvisionerServer) updateTaskUsage(r *http.Request) (*httpx.Response, error) {
	body, err := httpx.GetRequestBody(r)
	if err != nil {
		return nil, err
	}
	u, err := s.deps.Usage.AppendTaskUsage(r.Context(), body)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: u}, nil
}
