package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
)

const testUsageColumns = `id, project_id, test_type, test_uid, report_id, report_uid, start_time, end_time,
	duration, cpu, memory, runners, is_cloud, location, is_project_resourses, resource_usage`

const taskUsageColumns = `id, project_id, task_id, task_name, task_result_id, test_report_id, start_time, end_time,
	duration, cpu, memory, runners, is_cloud, location, is_project_resourses, resource_usage`

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func jsonOrEmptyList(b []byte) string {
	if len(b) == 0 {
		return "[]"
	}
	return string(b)
}

func scanTestUsage(row rowScanner) (*models.TestUsage, error) {
	var (
		u          models.TestUsage
		start, end sql.NullTime
		usage      pgtype.JSONB
	)
	err := row.Scan(&u.ID, &u.ProjectID, &u.TestType, &u.TestUID, &u.ReportID, &u.ReportUID, &start, &end,
		&u.Duration, &u.CPU, &u.Memory, &u.Runners, &u.IsCloud, &u.Location, &u.IsProjectResources, &usage)
	if err != nil {
		return nil, err
	}
	u.StartTime, u.EndTime = timePtr(start), timePtr(end)
	if usage.Status == pgtype.Present {
		u.ResourceUsage = usage.Bytes
	}
	return &u, nil
}

func scanTaskUsage(row rowScanner) (*models.TaskUsage, error) {
	var (
		u                     models.TaskUsage
		projectID, testReport sql.NullInt64
		taskID                sql.NullString
		start, end            sql.NullTime
		usage                 pgtype.JSONB
	)
	err := row.Scan(&u.ID, &projectID, &taskID, &u.TaskName, &u.TaskResultID, &testReport, &start, &end,
		&u.Duration, &u.CPU, &u.Memory, &u.Runners, &u.IsCloud, &u.Location, &u.IsProjectResources, &usage)
	if err != nil {
		return nil, err
	}
	u.ProjectID, u.TestReportID = int64Ptr(projectID), int64Ptr(testReport)
	u.TaskID = taskID.String
	u.StartTime, u.EndTime = timePtr(start), timePtr(end)
	if usage.Status == pgtype.Present {
		u.ResourceUsage = usage.Bytes
	}
	return &u, nil
}

func (s *Store) InsertTestUsage(ctx context.Context, u *models.TestUsage) error {
	query := `
		INSERT INTO resource_usage (project_id, test_type, test_uid, report_id, report_uid, start_time, end_time,
			duration, cpu, memory, runners, is_cloud, location, is_project_resourses, resource_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb)
		RETURNING id;
	`
	err := s.conn().QueryRowContext(ctx, query, u.ProjectID, u.TestType, u.TestUID, u.ReportID, u.ReportUID,
		nullTime(u.StartTime), nullTime(u.EndTime), u.Duration, u.CPU, u.Memory, u.Runners, u.IsCloud,
		u.Location, u.IsProjectResources, jsonOrEmptyList(u.ResourceUsage)).Scan(&u.ID)
	if err != nil {
		if dberror.IsDuplicate(err) {
			return dberror.ErrAlreadyExists.Msg(fmt.Sprintf("usage for report %s already recorded", u.ReportUID))
		}
		log.Ctx(ctx).Error().Err(err).Int64("report_id", u.ReportID).Msg("failed to insert test usage")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// UpdateTestUsage locks the row of reportID, lets fn mutate it and writes
// back duration, end time and the usage log in the same transaction.
func (s *Store) UpdateTestUsage(ctx context.Context, reportID int64, fn func(*models.TestUsage) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + testUsageColumns + ` FROM resource_usage WHERE report_id = $1 ORDER BY id LIMIT 1 FOR UPDATE;`
		u, err := scanTestUsage(tx.QueryRowContext(ctx, query, reportID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return dberror.ErrNotFound.Msg(fmt.Sprintf("usage for report %d not found", reportID))
			}
			return dberror.ErrDatabase.Err(err)
		}
		if err := fn(u); err != nil {
			return err
		}
		update := `
			UPDATE resource_usage
			SET duration = $2, end_time = $3, resource_usage = $4::jsonb
			WHERE id = $1;
		`
		if _, err := tx.ExecContext(ctx, update, u.ID, u.Duration, nullTime(u.EndTime), jsonOrEmptyList(u.ResourceUsage)); err != nil {
			log.Ctx(ctx).Error().Err(err).Int64("report_id", reportID).Msg("failed to update test usage")
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
}

func (s *Store) InsertTaskUsage(ctx context.Context, u *models.TaskUsage) error {
	query := `
		INSERT INTO resource_usage_tasks (project_id, task_id, task_name, task_result_id, test_report_id, start_time,
			end_time, duration, cpu, memory, runners, is_cloud, location, is_project_resourses, resource_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb)
		RETURNING id;
	`
	err := s.conn().QueryRowContext(ctx, query, nullInt64(u.ProjectID), u.TaskID, u.TaskName, u.TaskResultID,
		nullInt64(u.TestReportID), nullTime(u.StartTime), nullTime(u.EndTime), u.Duration, u.CPU, u.Memory,
		u.Runners, u.IsCloud, u.Location, u.IsProjectResources, jsonOrEmptyList(u.ResourceUsage)).Scan(&u.ID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("task_result_id", u.TaskResultID).Msg("failed to insert task usage")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// UpdateTaskUsage locks the row of taskResultID and writes back duration, end
// time and resource usage after fn.
func (s *Store) UpdateTaskUsage(ctx context.Context, taskResultID int64, fn func(*models.TaskUsage) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + taskUsageColumns + ` FROM resource_usage_tasks WHERE task_result_id = $1 ORDER BY id LIMIT 1 FOR UPDATE;`
		u, err := scanTaskUsage(tx.QueryRowContext(ctx, query, taskResultID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return dberror.ErrNotFound.Msg(fmt.Sprintf("usage for task result %d not found", taskResultID))
			}
			return dberror.ErrDatabase.Err(err)
		}
		if err := fn(u); err != nil {
			return err
		}
		update := `
			UPDATE resource_usage_tasks
			SET duration = $2, end_time = $3, resource_usage = $4::jsonb
			WHERE id = $1;
		`
		if _, err := tx.ExecContext(ctx, update, u.ID, u.Duration, nullTime(u.EndTime), jsonOrEmptyList(u.ResourceUsage)); err != nil {
			log.Ctx(ctx).Error().Err(err).Int64("task_result_id", taskResultID).Msg("failed to update task usage")
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
}

func usageWhere(f models.UsageFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ProjectID != nil {
		args = append(args, *f.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if f.StartTime != nil {
		args = append(args, *f.StartTime)
		conds = append(conds, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if f.EndTime != nil {
		args = append(args, *f.EndTime)
		conds = append(conds, fmt.Sprintf("start_time <= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) ListTestUsage(ctx context.Context, f models.UsageFilter) ([]models.TestUsage, error) {
	where, args := usageWhere(f)
	rows, err := s.conn().QueryContext(ctx, `SELECT `+testUsageColumns+` FROM resource_usage`+where+` ORDER BY id;`, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list test usage")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	out := []models.TestUsage{}
	for rows.Next() {
		u, err := scanTestUsage(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) ListTaskUsage(ctx context.Context, f models.UsageFilter) ([]models.TaskUsage, error) {
	where, args := usageWhere(f)
	rows, err := s.conn().QueryContext(ctx, `SELECT `+taskUsageColumns+` FROM resource_usage_tasks`+where+` ORDER BY id;`, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list task usage")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	out := []models.TaskUsage{}
	for rows.Next() {
		u, err := scanTaskUsage(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}
