// Package steps defines the units of work that provision and deprovision a
// project. Each step wraps one subsystem and records the outcome of its last
// create and delete call.
package steps

import (
	"context"
	"fmt"

	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/rs/zerolog/log"
)

const notStarted = "not started"

type Result struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Msg  string `json:"msg"`
}

type Status struct {
	Created Result `json:"created"`
	Deleted Result `json:"deleted"`
}

// Request is the validated input of a creation run.
type Request struct {
	Name       string
	OwnerID    int64
	AdminEmail string
	Plugins    []string
	Invitees   []string
	// AdminRoles overrides the configured roles of the admin member.
	AdminRoles []string
}

// SecretsHandle reads and writes the secrets of one project.
type SecretsHandle interface {
	Read(ctx context.Context) (map[string]string, error)
	Write(ctx context.Context, values map[string]string) error
}

// RunContext carries the outputs of earlier steps to later ones within a
// single creation run.
type RunContext struct {
	Request      Request
	Project      *models.Project
	SystemUserID int64
	SystemToken  string
	Secrets      SecretsHandle
}

func (rc *RunContext) projectID() (int64, error) {
	if rc.Project == nil || rc.Project.ID == 0 {
		return 0, ErrMissingInput.Msg("project record has not been created")
	}
	return rc.Project.ID, nil
}

// DeleteContext is shared by all steps of a deletion run. SystemUserID is 0
// when the system user no longer exists.
type DeleteContext struct {
	ProjectID    int64
	Project      *models.Project
	Secrets      SecretsHandle
	SystemUserID int64
}

type (
	CreateFunc func(ctx context.Context, rc *RunContext) (string, error)
	DeleteFunc func(ctx context.Context, dc *DeleteContext) (string, error)
)

type Step struct {
	name   string
	create CreateFunc
	delete DeleteFunc
	status Status
}

func New(name string, create CreateFunc, del DeleteFunc) *Step {
	return &Step{
		name:   name,
		create: create,
		delete: del,
		status: Status{
			Created: Result{Name: name, Msg: notStarted},
			Deleted: Result{Name: name, Msg: notStarted},
		},
	}
}

func (s *Step) Name() string {
	return s.name
}

func (s *Step) Status() Status {
	return s.status
}

// Create runs the create function and records its result.
func (s *Step) Create(ctx context.Context, rc *RunContext) error {
	res, err := s.call(ctx, "create", func() (string, error) { return s.create(ctx, rc) })
	s.status.Created = res
	return err
}

// Delete runs the delete function and records its result.
func (s *Step) Delete(ctx context.Context, dc *DeleteContext) error {
	res, err := s.call(ctx, "delete", func() (string, error) { return s.delete(ctx, dc) })
	s.status.Deleted = res
	return err
}

func (s *Step) call(ctx context.Context, phase string, fn func() (string, error)) (Result, error) {
	logger := log.Ctx(ctx).With().Str("step", s.name).Str("phase", phase).Logger()
	msg, err := safeCall(fn)
	if err != nil {
		logger.Error().Err(err).Msg("step failed")
		return Result{Name: s.name, OK: false, Msg: err.Error()}, ErrStepFailed.MsgErr(fmt.Sprintf("%s %s failed", s.name, phase), err)
	}
	logger.Info().Str("msg", msg).Msg("step done")
	return Result{Name: s.name, OK: true, Msg: msg}, nil
}

func safeCall(fn func() (string, error)) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrStepPanicked.Msg(fmt.Sprint(r))
		}
	}()
	return fn()
}
