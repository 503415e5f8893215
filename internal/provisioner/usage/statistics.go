package usage

import (
	"context"
	"time"

	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
)

type TestStat struct {
	ID                 int64      `json:"id"`
	ProjectID          int64      `json:"project_id"`
	TestType           string     `json:"test_type"`
	StartTime          *time.Time `json:"start_time"`
	Duration           int64      `json:"duration"`
	Runners            int64      `json:"runners"`
	CPUUsage           float64    `json:"cpu_usage"`
	MemoryUsage        float64    `json:"memory_usage"`
	IsCloud            bool       `json:"is_cloud"`
	IsProjectResources bool       `json:"is_project_resourses"`
}

type TaskStat struct {
	ID                 int64      `json:"id"`
	ProjectID          *int64     `json:"project_id"`
	TaskName           string     `json:"task_name"`
	StartTime          *time.Time `json:"start_time"`
	Duration           int64      `json:"duration"`
	CPUUsage           float64    `json:"cpu_usage"`
	MemoryUsage        float64    `json:"memory_usage"`
	Location           string     `json:"location"`
	IsProjectResources bool       `json:"is_project_resourses"`
}

type TestStatistics struct {
	Total int        `json:"total"`
	Rows  []TestStat `json:"rows"`
}

type TaskStatistics struct {
	Total int        `json:"total"`
	Rows  []TaskStat `json:"rows"`
}

// QueryTestUsage returns test usage matching f with cumulative usage
// computed as quota * duration * runners.
func (s *Service) QueryTestUsage(ctx context.Context, f models.UsageFilter) (*TestStatistics, error) {
	rows, err := s.store.ListTestUsage(ctx, f)
	if err != nil {
		return nil, err
	}
	out := &TestStatistics{Rows: make([]TestStat, 0, len(rows))}
	for _, u := range rows {
		factor := float64(u.Duration) * float64(u.Runners)
		out.Rows = append(out.Rows, TestStat{
			ID:                 u.ID,
			ProjectID:          u.ProjectID,
			TestType:           u.TestType,
			StartTime:          u.StartTime,
			Duration:           u.Duration,
			Runners:            u.Runners,
			CPUUsage:           u.CPU * factor,
			MemoryUsage:        u.Memory * factor,
			IsCloud:            u.IsCloud,
			IsProjectResources: u.IsProjectResources,
		})
	}
	out.Total = len(out.Rows)
	return out, nil
}

// QueryTaskUsage returns task usage matching f with cumulative usage
// computed as quota * duration.
func (s *Service) QueryTaskUsage(ctx context.Context, f models.UsageFilter) (*TaskStatistics, error) {
	rows, err := s.store.ListTaskUsage(ctx, f)
	if err != nil {
		return nil, err
	}
	out := &TaskStatistics{Rows: make([]TaskStat, 0, len(rows))}
	for _, u := range rows {
		out.Rows = append(out.Rows, TaskStat{
			ID:                 u.ID,
			ProjectID:          u.ProjectID,
			TaskName:           u.TaskName,
			StartTime:          u.StartTime,
			Duration:           u.Duration,
			CPUUsage:           u.CPU * float64(u.Duration),
			MemoryUsage:        u.Memory * float64(u.Duration),
			Location:           u.Location,
			IsProjectResources: u.IsProjectResources,
		})
	}
	out.Total = len(out.Rows)
	return out, nil
}
