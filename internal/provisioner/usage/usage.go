// Package usage records CPU and memory consumption of test runs and tasks
// and serves aggregated statistics over it.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/integrations"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Usage kinds, also used as metric labels.
const (
	KindTests = "tests"
	KindTasks = "tasks"
)

const logTimeLayout = "2006-01-02 15:04:05.999999"

type Store interface {
	InsertTestUsage(ctx context.Context, u *models.TestUsage) error
	UpdateTestUsage(ctx context.Context, reportID int64, fn func(*models.TestUsage) error) error
	InsertTaskUsage(ctx context.Context, u *models.TaskUsage) error
	UpdateTaskUsage(ctx context.Context, taskResultID int64, fn func(*models.TaskUsage) error) error
	ListTestUsage(ctx context.Context, f models.UsageFilter) ([]models.TestUsage, error)
	ListTaskUsage(ctx context.Context, f models.UsageFilter) ([]models.TaskUsage, error)
}

type AdminDefaultsLookup interface {
	AdminDefaults(ctx context.Context, integrationName string) (*integrations.Integration, error)
}

type WriteRecorder interface {
	UsageWrite(kind, op string)
}

type Service struct {
	store    Store
	defaults AdminDefaultsLookup
	recorder WriteRecorder
	now      func() time.Time
}

func NewService(store Store, defaults AdminDefaultsLookup, recorder WriteRecorder) *Service {
	return &Service{
		store:    store,
		defaults: defaults,
		recorder: recorder,
		now:      time.Now,
	}
}

func (s *Service) wrote(kind, op string) {
	if s.recorder != nil {
		s.recorder.UsageWrite(kind, op)
	}
}

// RecordTestStart inserts the usage row of a test report when the run
// starts. Cloud runs are billed to the project unless they use the admin
// default integration without a project override.
func (s *Service) RecordTestStart(ctx context.Context, report []byte, testType string) (*models.TestUsage, error) {
	if err := validatePayload(kindTestReport, report); err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(report)
	start, err := ParseTime(r.Get("start_time").String())
	if err != nil {
		return nil, err
	}
	u := &models.TestUsage{
		ProjectID:     r.Get("project_id").Int(),
		TestType:      testType,
		TestUID:       r.Get("test_uid").String(),
		ReportID:      r.Get("id").Int(),
		ReportUID:     r.Get("uid").String(),
		StartTime:     &start,
		CPU:           r.Get("test_config.env_vars.cpu_quota").Float(),
		Memory:        r.Get("test_config.env_vars.memory_quota").Float(),
		Runners:       1,
		Location:      r.Get("test_config.location").String(),
		ResourceUsage: json.RawMessage("[]"),
	}
	if runners := r.Get("test_config.parallel_runners"); runners.Exists() && runners.Type != gjson.Null {
		u.Runners = runners.Int()
	}
	cloud := r.Get("test_config.env_vars.cloud_settings")
	if isSet(cloud) {
		u.IsCloud = true
		u.IsProjectResources = s.billedToProject(ctx, cloud)
	}
	if err := s.store.InsertTestUsage(ctx, u); err != nil {
		return nil, err
	}
	s.wrote(KindTests, "create")
	log.Ctx(ctx).Info().Int64("report_id", u.ReportID).Int64("project_id", u.ProjectID).
		Bool("is_project_resources", u.IsProjectResources).Msg("test usage recorded")
	return u, nil
}

func isSet(r gjson.Result) bool {
	if !r.Exists() || r.Type == gjson.Null {
		return false
	}
	return !r.IsObject() || len(r.Map()) > 0
}

func (s *Service) billedToProject(ctx context.Context, cloud gjson.Result) bool {
	if s.defaults == nil {
		return true
	}
	name := cloud.Get("integration_name").String()
	def, err := s.defaults.AdminDefaults(ctx, name)
	if err != nil {
		if !errors.Is(err, integrations.ErrNoAdminDefault) {
			log.Ctx(ctx).Warn().Err(err).Str("integration", name).Msg("admin defaults lookup failed")
		}
		return true
	}
	projectOverride := cloud.Get("project_id").Int() != 0
	return def.ID != cloud.Get("id").Int() || projectOverride
}

// AppendTestUsage adds one usage delta to a running test: the delta is
// appended to the usage log and its time_to_sleep is added to the duration.
func (s *Service) AppendTestUsage(ctx context.Context, delta []byte) (*models.TestUsage, error) {
	if err := validatePayload(kindTestUsage, delta); err != nil {
		return nil, err
	}
	reportID := gjson.GetBytes(delta, "report_id").Int()
	seconds := gjson.GetBytes(delta, "time_to_sleep").Float()
	if seconds < 0 {
		return nil, ErrInvalidUsage.Msg("time_to_sleep must not be negative")
	}
	entry, err := sjson.DeleteBytes(delta, "report_id")
	if err != nil {
		return nil, ErrInvalidUsage.Err(err)
	}

	var updated *models.TestUsage
	err = s.store.UpdateTestUsage(ctx, reportID, func(u *models.TestUsage) error {
		logBytes, err := appendEntry(u.ResourceUsage, entry)
		if err != nil {
			return err
		}
		now := s.now()
		u.ResourceUsage = logBytes
		u.Duration += int64(math.Round(seconds))
		u.EndTime = &now
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrUsageNotFound.Msg(fmt.Sprintf("no usage recorded for report %d", reportID))
		}
		return nil, err
	}
	s.wrote(KindTests, "update")
	return updated, nil
}

func appendEntry(logBytes, entry []byte) ([]byte, error) {
	if len(logBytes) == 0 || !gjson.ParseBytes(logBytes).IsArray() {
		logBytes = []byte("[]")
	}
	out, err := sjson.SetRawBytes(logBytes, "-1", entry)
	if err != nil {
		return nil, ErrInvalidUsage.Err(err)
	}
	return out, nil
}

type taskEnv struct {
	CPUCores float64 `mapstructure:"cpu_cores"`
	Memory   float64 `mapstructure:"memory"`
	Runners  int64   `mapstructure:"runners"`
}

// decodeTaskEnv reads env_vars, given either as an object or as a JSON
// encoded string. Missing values default to one.
func decodeTaskEnv(r gjson.Result) (taskEnv, error) {
	env := taskEnv{CPUCores: 1, Memory: 1, Runners: 1}
	raw := r.Raw
	if r.Type == gjson.String {
		raw = r.String()
	}
	if !isSet(r) || strings.TrimSpace(raw) == "" {
		return env, nil
	}
	if !gjson.Valid(raw) {
		return env, ErrInvalidUsage.Msg("env_vars is not valid JSON")
	}
	values, ok := gjson.Parse(raw).Value().(map[string]any)
	if !ok {
		return env, ErrInvalidUsage.Msg("env_vars must be an object")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &env,
	})
	if err != nil {
		return env, err
	}
	if err := dec.Decode(values); err != nil {
		return env, ErrInvalidUsage.Err(err)
	}
	return env, nil
}

// RecordTaskStart inserts the usage row of a task run. Tasks never run in
// the cloud and are never billed to the project.
func (s *Service) RecordTaskStart(ctx context.Context, task []byte) (*models.TaskUsage, error) {
	if err := validatePayload(kindTask, task); err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(task)
	start, err := ParseTime(r.Get("start_time").String())
	if err != nil {
		return nil, err
	}
	env, err := decodeTaskEnv(r.Get("env_vars"))
	if err != nil {
		return nil, err
	}
	u := &models.TaskUsage{
		ProjectID:     optionalInt(r.Get("project_id")),
		TaskID:        r.Get("id").String(),
		TaskName:      r.Get("task_name").String(),
		TaskResultID:  r.Get("task_result_id").Int(),
		TestReportID:  optionalInt(r.Get("test_report_id")),
		StartTime:     &start,
		CPU:           env.CPUCores,
		Memory:        env.Memory,
		Runners:       env.Runners,
		Location:      r.Get("region").String(),
		ResourceUsage: json.RawMessage("{}"),
	}
	if err := s.store.InsertTaskUsage(ctx, u); err != nil {
		return nil, err
	}
	s.wrote(KindTasks, "create")
	log.Ctx(ctx).Info().Int64("task_result_id", u.TaskResultID).Str("task", u.TaskName).Msg("task usage recorded")
	return u, nil
}

func optionalInt(r gjson.Result) *int64 {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Int()
	return &v
}

// AppendTaskUsage stores the final duration and resource snapshot of a
// finished task run.
func (s *Service) AppendTaskUsage(ctx context.Context, result []byte) (*models.TaskUsage, error) {
	if err := validatePayload(kindTaskResult, result); err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(result)
	taskResultID := r.Get("id").Int()
	snapshot, err := taskSnapshot(r.Get("task_stats"), s.now())
	if err != nil {
		return nil, err
	}

	var updated *models.TaskUsage
	err = s.store.UpdateTaskUsage(ctx, taskResultID, func(u *models.TaskUsage) error {
		now := s.now()
		u.Duration = int64(math.Round(r.Get("task_duration").Float()))
		u.ResourceUsage = snapshot
		u.EndTime = &now
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrUsageNotFound.Msg(fmt.Sprintf("no usage recorded for task result %d", taskResultID))
		}
		return nil, err
	}
	s.wrote(KindTasks, "update")
	return updated, nil
}

const mebibyte = 1024 * 1024

// taskSnapshot builds the resource usage object of a task. Kubernetes runs
// report limits only; container runs report counters in nanoseconds and
// bytes.
func taskSnapshot(stats gjson.Result, now time.Time) (json.RawMessage, error) {
	out, err := sjson.SetBytes([]byte("{}"), "time", now.Format(logTimeLayout))
	if err != nil {
		return nil, err
	}
	if !isSet(stats) {
		return out, nil
	}

	if k8s := stats.Get("kubernetes_stats.0"); k8s.Exists() {
		if out, err = sjson.SetBytes(out, "cpu_limit", k8s.Get("cpu_limit").Int()); err != nil {
			return nil, err
		}
		limit := k8s.Get("memory_limit")
		if !limit.Exists() {
			return out, nil
		}
		if out, err = sjson.SetRawBytes(out, "memory_limit", []byte(limit.Raw)); err != nil {
			return nil, err
		}
		return out, nil
	}

	total := stats.Get("cpu_stats.cpu_usage.total_usage")
	usage := stats.Get("memory_stats.usage")
	limit := stats.Get("memory_stats.limit")
	if !total.Exists() || !usage.Exists() || !limit.Exists() {
		return nil, ErrInvalidUsage.Msg("task_stats carry neither kubernetes_stats nor cpu and memory counters")
	}
	values := []struct {
		path  string
		value float64
	}{
		{"cpu", round2(total.Float() / 1e9)},
		{"memory_usage", round2(usage.Float() / mebibyte)},
		{"memory_limit", round2(limit.Float() / mebibyte)},
	}
	for _, v := range values {
		if out, err = sjson.SetBytes(out, v.path, v.value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseTime accepts RFC 3339 timestamps and naive ISO 8601 ones, which are
// taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		time.DateOnly,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidUsage.Msg(fmt.Sprintf("unrecognized time %q", s))
}
