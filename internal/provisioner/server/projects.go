package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/carrierhub/provisioner/internal/common/httpx"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/project"
	"github.com/go-chi/chi/v5"
)

// UserIDHeader carries the id of the calling user, set by the gateway in
// front of the service.
const UserIDHeader = "X-User-ID"

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrInvalidUser()
	}
	return id, nil
}

func projectID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrInvalidProjectId()
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, httpx.ErrInvalidRequest(fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}

func (s *ProvisionerServer) listProjects(r *http.Request) (*httpx.Response, error) {
	uid, err := userID(r)
	if err != nil {
		return nil, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return nil, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	projects, err := s.deps.Projects.ListUserProjects(r.Context(), uid, models.ListOptions{
		Offset: offset,
		Limit:  limit,
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: projects}, nil
}

// createProject answers 201 with the step results, or 400 with the results
// of the steps attempted before one failed.
func (s *ProvisionerServer) createProject(r *http.Request) (*httpx.Response, error) {
	uid, err := userID(r)
	if err != nil {
		return nil, err
	}
	var req project.CreateRequest
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	out, err := s.deps.Projects.CreateProject(r.Context(), uid, req)
	if err != nil {
		return nil, err
	}
	if out.Failed {
		return &httpx.Response{StatusCode: http.StatusBadRequest, Response: out}, nil
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   fmt.Sprintf("/admin/projects/%d", out.Project.ID),
		Response:   out,
	}, nil
}

func (s *ProvisionerServer) getProject(r *http.Request) (*httpx.Response, error) {
	id, err := projectID(r)
	if err != nil {
		return nil, err
	}
	p, err := s.deps.Projects.GetProject(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: p}, nil
}

func (s *ProvisionerServer) updateProject(r *http.Request) (*httpx.Response, error) {
	id, err := projectID(r)
	if err != nil {
		return nil, err
	}
	var upd models.ProjectUpdate
	if err := httpx.GetRequestData(r, &upd); err != nil {
		return nil, err
	}
	p, err := s.deps.Projects.UpdateProject(r.Context(), id, upd)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: p}, nil
}

func (s *ProvisionerServer) deleteProject(r *http.Request) (*httpx.Response, error) {
	id, err := projectID(r)
	if err != nil {
		return nil, err
	}
	out, err := s.deps.Projects.DeleteProject(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: out}, nil
}

func (s *ProvisionerServer) listProjectUsers(r *http.Request) (*httpx.Response, error) {
	id, err := projectID(r)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Projects.GetProject(r.Context(), id); err != nil {
		return nil, err
	}
	users, err := s.deps.Members.Members(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: users}, nil
}

type personalProjectReq struct {
	Email string `json:"email"`
}

// createPersonalProject makes sure the caller has a personal project.
func (s *ProvisionerServer) createPersonalProject(r *http.Request) (*httpx.Response, error) {
	uid, err := userID(r)
	if err != nil {
		return nil, err
	}
	var req personalProjectReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if req.Email == "" {
		return nil, httpx.ErrInvalidRequest("email is required")
	}
	s.deps.Projects.CreatePersonalProject(r.Context(), uid, req.Email)
	return &httpx.Response{StatusCode: http.StatusOK, Response: map[string]string{"status": "ok"}}, nil
}
