package models

import (
	"encoding/json"
	"time"
)

// TestUsage is a row of resource_usage.
type TestUsage struct {
	ID                 int64           `json:"id"`
	ProjectID          int64           `json:"project_id"`
	TestType           string          `json:"test_type"`
	TestUID            string          `json:"test_uid"`
	ReportID           int64           `json:"report_id"`
	ReportUID          string          `json:"report_uid"`
	StartTime          *time.Time      `json:"start_time"`
	EndTime            *time.Time      `json:"end_time"`
	Duration           int64           `json:"duration"`
	CPU                float64         `json:"cpu"`
	Memory             float64         `json:"memory"`
	Runners            int64           `json:"runners"`
	IsCloud            bool            `json:"is_cloud"`
	Location           string          `json:"location"`
	IsProjectResources bool            `json:"is_project_resourses"`
	ResourceUsage      json.RawMessage `json:"resource_usage"`
}

// TaskUsage is a row of resource_usage_tasks.
type TaskUsage struct {
	ID                 int64           `json:"id"`
	ProjectID          *int64          `json:"project_id"`
	TaskID             string          `json:"task_id"`
	TaskName           string          `json:"task_name"`
	TaskResultID       int64           `json:"task_result_id"`
	TestReportID       *int64          `json:"test_report_id"`
	StartTime          *time.Time      `json:"start_time"`
	EndTime            *time.Time      `json:"end_time"`
	Duration           int64           `json:"duration"`
	CPU                float64         `json:"cpu"`
	Memory             float64         `json:"memory"`
	Runners            int64           `json:"runners"`
	IsCloud            bool            `json:"is_cloud"`
	Location           string          `json:"location"`
	IsProjectResources bool            `json:"is_project_resourses"`
	ResourceUsage      json.RawMessage `json:"resource_usage"`
}

// UsageFilter narrows usage reads. Time bounds apply to start_time and are inclusive.
type UsageFilter struct {
	ProjectID *int64
	StartTime *time.Time
	EndTime   *time.Time
}
