// Package project creates and deletes projects by driving the provisioning
// steps, and serves project reads and edits.
package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/steps"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// EventProjectCreated is published with the new models.Project.
const EventProjectCreated = "project_created"

type Store interface {
	GetProject(ctx context.Context, projectID int64) (*models.Project, error)
	FindProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context, opts models.ListOptions) ([]models.Project, error)
	UpdateProject(ctx context.Context, projectID int64, upd models.ProjectUpdate) (*models.Project, error)
	GetProjectSystemUser(ctx context.Context, projectID int64) (int64, error)
	CheckUserInProject(ctx context.Context, projectID, userID int64) (bool, error)
}

type SecretsOpener interface {
	FromProject(projectID int64) steps.SecretsHandle
}

type Publisher interface {
	Publish(topic string, data any, timeout time.Duration) int
}

type StepRecorder interface {
	StepResult(step, phase string, ok bool)
}

type Options struct {
	RollbackOnFailure   bool
	EventTimeout        time.Duration
	PersonalProjectName string
	PersonalPlugins     []string
	PersonalRoles       []string
}

// Outcome lists step results in execution order. Failed marks a creation
// that stopped early; Rollback holds the delete results of an automatic
// rollback.
type Outcome struct {
	Steps    []steps.Result  `json:"steps"`
	Rollback []steps.Result  `json:"rollback,omitempty"`
	Project  *models.Project `json:"-"`
	Failed   bool            `json:"-"`
}

type Service struct {
	store    Store
	deps     steps.Deps
	settings steps.Settings
	secrets  SecretsOpener
	events   Publisher
	recorder StepRecorder
	opts     Options
}

func NewService(store Store, deps steps.Deps, settings steps.Settings, secrets SecretsOpener,
	events Publisher, recorder StepRecorder, opts Options) *Service {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 5 * time.Second
	}
	if opts.PersonalProjectName == "" {
		opts.PersonalProjectName = "personal_project_{user_id}"
	}
	return &Service{
		store:    store,
		deps:     deps,
		settings: settings,
		secrets:  secrets,
		events:   events,
		recorder: recorder,
		opts:     opts,
	}
}

func (s *Service) record(step, phase string, ok bool) {
	if s.recorder != nil {
		s.recorder.StepResult(step, phase, ok)
	}
}

// CreateProject validates req and provisions the project owned by ownerID.
// Only an invalid request is returned as an error; step failures are
// reported in the outcome.
func (s *Service) CreateProject(ctx context.Context, ownerID int64, req CreateRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.create(ctx, steps.Request{
		Name:       req.Name,
		OwnerID:    ownerID,
		AdminEmail: req.ProjectAdminEmail,
		Plugins:    req.Plugins,
		Invitees:   req.Invitees,
	}), nil
}

// Steps run detached from the caller's cancellation: a pipeline stopped
// halfway leaves resources no later delete knows about. Collaborators bound
// each call with their own timeouts.
func (s *Service) create(ctx context.Context, req steps.Request) *Outcome {
	ctx = context.WithoutCancel(ctx)
	logger := log.Ctx(ctx).With().Str("project", req.Name).Logger()
	list := steps.Build(s.deps, s.settings)
	rc := &steps.RunContext{Request: req}
	out := &Outcome{Steps: []steps.Result{}}

	var attempted []*steps.Step
	for _, st := range list {
		attempted = append(attempted, st)
		err := st.Create(ctx, rc)
		s.record(st.Name(), "create", err == nil)
		out.Steps = append(out.Steps, st.Status().Created)
		if err != nil {
			logger.Error().Err(err).Str("step", st.Name()).Msg("project creation stopped")
			out.Failed = true
			break
		}
	}
	out.Project = rc.Project

	if out.Failed {
		if s.opts.RollbackOnFailure && rc.Project != nil && rc.Project.ID != 0 {
			out.Rollback = s.rollback(ctx, attempted, &steps.DeleteContext{
				ProjectID:    rc.Project.ID,
				Project:      rc.Project,
				Secrets:      rc.Secrets,
				SystemUserID: rc.SystemUserID,
			})
		}
		return out
	}

	logger.Info().Int64("project_id", rc.Project.ID).Msg("project created")
	if s.events != nil {
		p := *rc.Project
		go s.events.Publish(EventProjectCreated, p, s.opts.EventTimeout)
	}
	return out
}

func (s *Service) rollback(ctx context.Context, attempted []*steps.Step, dc *steps.DeleteContext) []steps.Result {
	results, err := s.deleteSteps(ctx, attempted, dc)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("project_id", dc.ProjectID).Msg("rollback left resources behind")
	}
	return results
}

// deleteSteps runs Delete on list in reverse order and never stops early.
func (s *Service) deleteSteps(ctx context.Context, list []*steps.Step, dc *steps.DeleteContext) ([]steps.Result, error) {
	var (
		results = make([]steps.Result, 0, len(list))
		result  error
	)
	for i := len(list) - 1; i >= 0; i-- {
		st := list[i]
		err := st.Delete(ctx, dc)
		s.record(st.Name(), "delete", err == nil)
		if err != nil {
			result = multierror.Append(result, err)
		}
		results = append(results, st.Status().Deleted)
	}
	return results, result
}

// DeleteProject deprovisions a project. Every step runs even when earlier
// ones fail or the project record is already gone; their results are
// returned in execution order.
func (s *Service) DeleteProject(ctx context.Context, projectID int64) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if !errors.Is(err, dberror.ErrNotFound) {
			return nil, err
		}
		log.Ctx(ctx).Warn().Int64("project_id", projectID).Msg("project record is gone, cleaning up remaining resources")
		p = nil
	}
	systemUserID, err := s.store.GetProjectSystemUser(ctx, projectID)
	if err != nil {
		if !errors.Is(err, dberror.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Int64("project_id", projectID).Msg("unable to resolve system user")
		}
		systemUserID = 0
	}
	dc := &steps.DeleteContext{
		ProjectID:    projectID,
		Project:      p,
		SystemUserID: systemUserID,
	}
	if s.secrets != nil {
		dc.Secrets = s.secrets.FromProject(projectID)
	}

	results, err := s.deleteSteps(ctx, steps.Build(s.deps, s.settings), dc)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("project_id", projectID).Msg("project deleted with errors")
	} else {
		log.Ctx(ctx).Info().Int64("project_id", projectID).Msg("project deleted")
	}
	return &Outcome{Steps: results, Project: p}, nil
}

func (s *Service) GetProject(ctx context.Context, projectID int64) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrProjectNotFound.Msg(fmt.Sprintf("project %d not found", projectID))
		}
		return nil, err
	}
	return p, nil
}

// UpdateProject applies an admin edit. Empty fields are left unchanged.
func (s *Service) UpdateProject(ctx context.Context, projectID int64, upd models.ProjectUpdate) (*models.Project, error) {
	p, err := s.store.UpdateProject(ctx, projectID, upd)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrProjectNotFound.Msg(fmt.Sprintf("project %d not found", projectID))
		}
		return nil, err
	}
	return p, nil
}

// ListUserProjects pages through the projects userID is a member of.
func (s *Service) ListUserProjects(ctx context.Context, userID int64, opts models.ListOptions) ([]models.Project, error) {
	all, err := s.store.ListProjects(ctx, models.ListOptions{Search: opts.Search})
	if err != nil {
		return nil, err
	}
	out := []models.Project{}
	skipped := 0
	for _, p := range all {
		in, err := s.store.CheckUserInProject(ctx, p.ID, userID)
		if err != nil {
			return nil, err
		}
		if !in {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, p)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// CreatePersonalProject provisions the personal project of a user unless it
// exists already. Failures are logged.
func (s *Service) CreatePersonalProject(ctx context.Context, userID int64, email string) {
	name := config.ExpandID(s.opts.PersonalProjectName, "user_id", userID)
	logger := log.Ctx(ctx).With().Int64("user_id", userID).Str("project", name).Logger()

	if _, err := s.store.FindProjectByName(ctx, name); err == nil {
		logger.Debug().Msg("personal project exists")
		return
	} else if !errors.Is(err, dberror.ErrNotFound) {
		logger.Error().Err(err).Msg("unable to look up personal project")
		return
	}

	out := s.create(ctx, steps.Request{
		Name:       name,
		OwnerID:    userID,
		AdminEmail: email,
		Plugins:    s.opts.PersonalPlugins,
		AdminRoles: s.opts.PersonalRoles,
	})
	if out.Failed {
		logger.Error().Interface("steps", out.Steps).Msg("personal project creation failed")
	}
}
