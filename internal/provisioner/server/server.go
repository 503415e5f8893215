package server

import (
	"context"
	"net/http"
	"time"

	"github.com/carrierhub/provisioner/internal/common/httpx"
	commonmiddleware "github.com/carrierhub/provisioner/internal/common/middleware"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/metrics"
	"github.com/carrierhub/provisioner/internal/provisioner/project"
	"github.com/carrierhub/provisioner/internal/provisioner/usage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type ProjectService interface {
	CreateProject(ctx context.Context, ownerID int64, req project.CreateRequest) (*project.Outcome, error)
	DeleteProject(ctx context.Context, projectID int64) (*project.Outcome, error)
	GetProject(ctx context.Context, projectID int64) (*models.Project, error)
	UpdateProject(ctx context.Context, projectID int64, upd models.ProjectUpdate) (*models.Project, error)
	ListUserProjects(ctx context.Context, userID int64, opts models.ListOptions) ([]models.Project, error)
	CreatePersonalProject(ctx context.Context, userID int64, email string)
}

type UsageService interface {
	RecordTestStart(ctx context.Context, report []byte, testType string) (*models.TestUsage, error)
	AppendTestUsage(ctx context.Context, delta []byte) (*models.TestUsage, error)
	RecordTaskStart(ctx context.Context, task []byte) (*models.TaskUsage, error)
	AppendTaskUsage(ctx context.Context, result []byte) (*models.TaskUsage, error)
	QueryTestUsage(ctx context.Context, f models.UsageFilter) (*usage.TestStatistics, error)
	QueryTaskUsage(ctx context.Context, f models.UsageFilter) (*usage.TaskStatistics, error)
}

type QueueService interface {
	RegisterQueue(ctx context.Context, vhost, queue string) (string, error)
	GetQueues(ctx context.Context, vhost string, removeInternal bool) ([]string, error)
}

type MemberLister interface {
	Members(ctx context.Context, projectID int64) ([]models.ProjectUser, error)
}

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

type Deps struct {
	Projects ProjectService
	Usage    UsageService
	Queues   QueueService
	Members  MemberLister
	Ready    map[string]ReadinessCheck
}

type Options struct {
	HandleCORS     bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

type ProvisionerServer struct {
	Router *chi.Mux
	deps   Deps
	opts   Options
}

func CreateNewServer(deps Deps, opts Options) *ProvisionerServer {
	return &ProvisionerServer{
		Router: chi.NewRouter(),
		deps:   deps,
		opts:   opts,
	}
}

func (s *ProvisionerServer) MountHandlers() {
	if s.opts.Metrics != nil {
		s.Router.Use(s.opts.Metrics.Middleware)
	}
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	s.Router.Use(commonmiddleware.SetTimeout(s.opts.RequestTimeout))
	if s.opts.HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", UserIDHeader},
			ExposedHeaders:   []string{"Location", commonmiddleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	s.mountResourceHandlers(s.Router)
}

func (s *ProvisionerServer) mountResourceHandlers(r chi.Router) {
	r.Get("/projects", httpx.WrapHttpRsp(s.listProjects))
	r.Post("/projects/personal", httpx.WrapHttpRsp(s.createPersonalProject))
	r.Route("/admin/projects", func(r chi.Router) {
		r.Post("/", httpx.WrapHttpRsp(s.createProject))
		r.Get("/{projectID}", httpx.WrapHttpRsp(s.getProject))
		r.Put("/{projectID}", httpx.WrapHttpRsp(s.updateProject))
		r.Delete("/{projectID}", httpx.WrapHttpRsp(s.deleteProject))
		r.Get("/{projectID}/users", httpx.WrapHttpRsp(s.listProjectUsers))
	})
	r.Route("/usage", func(r chi.Router) {
		r.Get("/{kind}", httpx.WrapHttpRsp(s.getUsage))
		r.Post("/tests", httpx.WrapHttpRsp(s.createTestUsage))
		r.Put("/tests", httpx.WrapHttpRsp(s.updateTestUsage))
		r.Post("/tasks", httpx.WrapHttpRsp(s.createTaskUsage))
		r.Put("/tasks", httpx.WrapHttpRsp(s.updateTaskUsage))
	})
	r.Route("/queues", func(r chi.Router) {
		r.Get("/{vhost}", httpx.WrapHttpRsp(s.getQueues))
		r.Put("/{vhost}/{queue}", httpx.WrapHttpRsp(s.registerQueue))
	})
	r.Get("/version", s.getVersion)
	r.Get("/ready", s.getReadiness)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *ProvisionerServer) getVersion(w http.ResponseWriter, r *http.Request) {
	rsp := &GetVersionRsp{
		ServerVersion: "Provisioner: " + config.ServerVersion,
		ApiVersion:    config.APIVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *ProvisionerServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	for name, check := range s.deps.Ready {
		if err := check(r.Context()); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Str("dependency", name).Msg("readiness check failed")
			httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  name + " unavailable",
			})
			return
		}
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
