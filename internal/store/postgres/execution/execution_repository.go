package execution

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

const (
	executionColumns = `id, job_name, type, status, message, op_id, started_by, start_time, end_time, status_inferred,
image, tool_version, source_version, python_version, schedule, resources, deployed_by, deployed_at`

	uniqueViolationCode = "23505"
)

var finalStatuses = []string{
	execution.StatusSucceeded.String(),
	execution.StatusSkipped.String(),
	execution.StatusCancelled.String(),
}

type ExecutionRepository struct {
	db *gorm.DB
}

type dataJobExecution struct {
	ID             string
	JobName        string
	Type           string
	Status         string
	Message        string
	OpID           string
	StartedBy      string
	StartTime      *time.Time
	EndTime        *time.Time
	StatusInferred bool

	Image         string
	ToolVersion   string
	SourceVersion string
	PythonVersion string
	Schedule      string
	Resources     datatypes.JSON
	DeployedBy    string
	DeployedAt    *time.Time
}

func fromExecution(e *execution.Execution) (dataJobExecution, error) {
	resources, err := json.Marshal(e.Deployment.Resources)
	if err != nil {
		return dataJobExecution{}, err
	}
	return dataJobExecution{
		ID:             e.ID,
		JobName:        e.JobName,
		Type:           e.Type.String(),
		Status:         e.Status.String(),
		Message:        e.Message,
		OpID:           e.OpID,
		StartedBy:      e.StartedBy,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		StatusInferred: e.StatusInferred,
		Image:          e.Deployment.Image,
		ToolVersion:    e.Deployment.ToolVersion,
		SourceVersion:  e.Deployment.SourceVersion,
		PythonVersion:  e.Deployment.PythonVersion,
		Schedule:       e.Deployment.Schedule,
		Resources:      resources,
		DeployedBy:     e.Deployment.DeployedBy,
		DeployedAt:     e.Deployment.DeployedAt,
	}, nil
}

func (r dataJobExecution) values() []interface{} {
	return []interface{}{
		r.ID, r.JobName, r.Type, r.Status, r.Message, r.OpID, r.StartedBy, r.StartTime, r.EndTime, r.StatusInferred,
		r.Image, r.ToolVersion, r.SourceVersion, r.PythonVersion, r.Schedule, r.Resources, r.DeployedBy, r.DeployedAt,
	}
}

func (r dataJobExecution) toExecution() (*execution.Execution, error) {
	status, err := execution.StatusFromString(r.Status)
	if err != nil {
		return nil, errors.InternalError(execution.EntityExecution, "stored execution "+r.ID+" has an unknown status", err)
	}
	resources, err := decodeResources(r.Resources)
	if err != nil {
		return nil, errors.InternalError(execution.EntityExecution, "unable to decode resources of "+r.ID, err)
	}
	return &execution.Execution{
		ID:             r.ID,
		JobName:        r.JobName,
		Type:           execution.Type(r.Type),
		Status:         status,
		Message:        r.Message,
		OpID:           r.OpID,
		StartedBy:      r.StartedBy,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		StatusInferred: r.StatusInferred,
		Deployment: execution.DeploymentSnapshot{
			Image:         r.Image,
			ToolVersion:   r.ToolVersion,
			SourceVersion: r.SourceVersion,
			PythonVersion: r.PythonVersion,
			Schedule:      r.Schedule,
			Resources:     resources,
			DeployedBy:    r.DeployedBy,
			DeployedAt:    r.DeployedAt,
		},
	}, nil
}

func toExecutions(rows []dataJobExecution) ([]*execution.Execution, error) {
	executions := make([]*execution.Execution, 0, len(rows))
	for _, row := range rows {
		e, err := row.toExecution()
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}

func statusStrings(statuses []execution.Status) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = s.String()
	}
	return values
}

func activeStatuses() []string {
	return statusStrings(execution.ActiveStatuses)
}

func (repo ExecutionRepository) Create(ctx context.Context, e *execution.Execution) error {
	if err := e.Validate(); err != nil {
		return err
	}
	row, err := fromExecution(e)
	if err != nil {
		return errors.InternalError(execution.EntityExecution, "unable to encode execution "+e.ID, err)
	}

	insertExecution := `INSERT INTO data_job_execution (` + executionColumns + `, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now(), now())`
	err = repo.db.WithContext(ctx).Exec(insertExecution, row.values()...).Error
	if err != nil {
		if strings.Contains(err.Error(), uniqueViolationCode) {
			return errors.AlreadyExists(execution.EntityExecution, "execution "+e.ID+" already exists")
		}
		return errors.Wrap(execution.EntityExecution, "unable to create execution "+e.ID, err)
	}
	return nil
}

func (repo ExecutionRepository) GetByID(ctx context.Context, id string) (*execution.Execution, error) {
	var row dataJobExecution
	getExecution := `SELECT ` + executionColumns + ` FROM data_job_execution WHERE id = ?`
	err := repo.db.WithContext(ctx).Raw(getExecution, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(execution.EntityExecution, "no record for execution "+id)
		}
		return nil, errors.Wrap(execution.EntityExecution, "error while getting execution "+id, err)
	}
	return row.toExecution()
}

// Save inserts or updates the execution and returns the number of rows written. Rows in a
// final status are left untouched and failed rows never go back to an active status.
func (repo ExecutionRepository) Save(ctx context.Context, e *execution.Execution) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	row, err := fromExecution(e)
	if err != nil {
		return 0, errors.InternalError(execution.EntityExecution, "unable to encode execution "+e.ID, err)
	}

	upsertExecution := `INSERT INTO data_job_execution (` + executionColumns + `, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now(), now())
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, message = EXCLUDED.message, op_id = EXCLUDED.op_id,
started_by = EXCLUDED.started_by, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
status_inferred = EXCLUDED.status_inferred, image = EXCLUDED.image, tool_version = EXCLUDED.tool_version,
source_version = EXCLUDED.source_version, python_version = EXCLUDED.python_version, schedule = EXCLUDED.schedule,
resources = EXCLUDED.resources, deployed_by = EXCLUDED.deployed_by, deployed_at = EXCLUDED.deployed_at, updated_at = now()
WHERE data_job_execution.status NOT IN ?
AND (data_job_execution.status IN ? OR EXCLUDED.status NOT IN ?)`
	args := append(row.values(), finalStatuses, activeStatuses(), activeStatuses())
	result := repo.db.WithContext(ctx).Exec(upsertExecution, args...)
	if result.Error != nil {
		return 0, errors.Wrap(execution.EntityExecution, "unable to save execution "+e.ID, result.Error)
	}
	return result.RowsAffected, nil
}

func (repo ExecutionRepository) Delete(ctx context.Context, id string) error {
	err := repo.db.WithContext(ctx).Exec(`DELETE FROM data_job_execution WHERE id = ?`, id).Error
	return errors.WrapIfErr(execution.EntityExecution, "unable to delete execution "+id, err)
}

func (repo ExecutionRepository) GetByStatuses(ctx context.Context, statuses []execution.Status) ([]*execution.Execution, error) {
	if len(statuses) == 0 {
		return []*execution.Execution{}, nil
	}

	var rows []dataJobExecution
	getByStatuses := `SELECT ` + executionColumns + ` FROM data_job_execution WHERE status IN ? ORDER BY start_time`
	if err := repo.db.WithContext(ctx).Raw(getByStatuses, statusStrings(statuses)).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(execution.EntityExecution, "error while getting executions by status", err)
	}
	return toExecutions(rows)
}

// UpdateStatuses moves the given executions into status, rows which reached a terminal
// status in the meantime are skipped. It returns the number of updated rows.
func (repo ExecutionRepository) UpdateStatuses(ctx context.Context, ids []string, status execution.Status, message string,
	endTime time.Time, inferred bool,
) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	updateStatuses := `UPDATE data_job_execution SET status = ?, message = ?, end_time = ?, status_inferred = ?, updated_at = now()
WHERE id IN ? AND status IN ?`
	result := repo.db.WithContext(ctx).Exec(updateStatuses, status.String(), message, endTime, inferred, ids, activeStatuses())
	if result.Error != nil {
		return 0, errors.Wrap(execution.EntityExecution, "unable to update execution statuses", result.Error)
	}
	return result.RowsAffected, nil
}

// GetByJobExcludingStatuses returns the executions of a job ordered by end time, oldest first
func (repo ExecutionRepository) GetByJobExcludingStatuses(ctx context.Context, jobName string, statuses []execution.Status) ([]*execution.Execution, error) {
	var rows []dataJobExecution
	query := `SELECT ` + executionColumns + ` FROM data_job_execution WHERE job_name = ?`
	args := []interface{}{jobName}
	if len(statuses) > 0 {
		query += ` AND status NOT IN ?`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY end_time ASC NULLS FIRST`

	if err := repo.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(execution.EntityExecution, "error while getting executions of "+jobName, err)
	}
	return toExecutions(rows)
}

func (repo ExecutionRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := repo.db.WithContext(ctx).Exec(`DELETE FROM data_job_execution WHERE id IN ?`, ids)
	if result.Error != nil {
		return 0, errors.Wrap(execution.EntityExecution, "unable to delete executions", result.Error)
	}
	return result.RowsAffected, nil
}

type statusCount struct {
	JobName string
	Status  string
	Count   int
}

func (repo ExecutionRepository) CountByStatus(ctx context.Context, jobNames []string, statuses []execution.Status) (execution.StatusCounts, error) {
	counts := execution.StatusCounts{}
	if len(jobNames) == 0 {
		return counts, nil
	}

	query := `SELECT job_name, status, count(*) AS count FROM data_job_execution WHERE job_name IN ?`
	args := []interface{}{jobNames}
	if len(statuses) > 0 {
		query += ` AND status IN ?`
		args = append(args, statusStrings(statuses))
	}
	query += ` GROUP BY job_name, status`

	var rows []statusCount
	if err := repo.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(execution.EntityExecution, "error while counting executions", err)
	}
	for _, row := range rows {
		counts.Add(row.JobName, execution.Status(row.Status), row.Count)
	}
	return counts, nil
}

// List returns the executions of a job, the most recently started first
func (repo ExecutionRepository) List(ctx context.Context, jobName string, filter execution.Filter) ([]*execution.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM data_job_execution WHERE job_name = ?`
	args := []interface{}{jobName}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN ?`
		args = append(args, statusStrings(filter.Statuses))
	}
	query += ` ORDER BY start_time DESC NULLS LAST, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []dataJobExecution
	if err := repo.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(execution.EntityExecution, "error while listing executions of "+jobName, err)
	}
	return toExecutions(rows)
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{
		db: db,
	}
}
