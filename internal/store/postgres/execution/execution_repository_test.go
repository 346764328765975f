//go:build !unit_test

package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
	postgres "github.com/odpf/datajobs/internal/store/postgres/execution"
)

func TestExecutionRepository(t *testing.T) {
	ctx := context.Background()
	startedAt := time.Date(2023, 5, 10, 12, 0, 0, 0, time.UTC)

	newExecution := func(id string, status execution.Status, start time.Time) *execution.Execution {
		e := &execution.Execution{
			ID:        id,
			JobName:   "sales-report",
			Type:      execution.TypeManual,
			Status:    status,
			Message:   "message",
			OpID:      "op-" + id,
			StartedBy: "manual/alice",
			StartTime: &start,
			Deployment: execution.DeploymentSnapshot{
				Image:     "registry/sales-report:1.2.0",
				Resources: execution.Resources{MemoryLimit: "1Gi"},
			},
		}
		if status.IsTerminal() {
			end := start.Add(10 * time.Minute)
			e.EndTime = &end
		}
		return e
	}
	setupRepo := func(t *testing.T) *postgres.ExecutionRepository {
		t.Helper()
		db := dbSetup()
		assert.Nil(t, postgres.NewJobRepository(db).Save(ctx, salesJob()))
		return postgres.NewExecutionRepository(db)
	}

	t.Run("Create", func(t *testing.T) {
		t.Run("stores a submitted execution", func(t *testing.T) {
			repo := setupRepo(t)
			exec := newExecution("sales-report-1683720000", execution.StatusSubmitted, startedAt)

			err := repo.Create(ctx, exec)
			assert.Nil(t, err)

			stored, err := repo.GetByID(ctx, exec.ID)
			assert.Nil(t, err)
			assert.Equal(t, execution.StatusSubmitted, stored.Status)
			assert.Equal(t, "op-sales-report-1683720000", stored.OpID)
			assert.Equal(t, "1Gi", stored.Deployment.Resources.MemoryLimit)
			assert.Nil(t, stored.EndTime)
		})
		t.Run("returns already exists for a colliding id", func(t *testing.T) {
			repo := setupRepo(t)
			exec := newExecution("sales-report-1683720000", execution.StatusSubmitted, startedAt)
			assert.Nil(t, repo.Create(ctx, exec))

			err := repo.Create(ctx, exec)

			assert.True(t, errors.IsErrorType(err, errors.ErrAlreadyExists))
		})
		t.Run("rejects a terminal execution without end time", func(t *testing.T) {
			repo := setupRepo(t)
			exec := newExecution("sales-report-1683720000", execution.StatusSucceeded, startedAt)
			exec.EndTime = nil

			err := repo.Create(ctx, exec)

			assert.True(t, errors.IsErrorType(err, errors.ErrInvalidArgument))
		})
	})
	t.Run("GetByID returns not found for an unknown id", func(t *testing.T) {
		repo := setupRepo(t)

		_, err := repo.GetByID(ctx, "sales-report-1")

		assert.True(t, errors.IsErrorType(err, errors.ErrNotFound))
	})
	t.Run("Save", func(t *testing.T) {
		t.Run("inserts an execution seen for the first time", func(t *testing.T) {
			repo := setupRepo(t)
			exec := newExecution("sales-report-28063200", execution.StatusRunning, startedAt)

			saved, err := repo.Save(ctx, exec)
			assert.Nil(t, err)
			assert.EqualValues(t, 1, saved)

			stored, err := repo.GetByID(ctx, exec.ID)
			assert.Nil(t, err)
			assert.Equal(t, execution.StatusRunning, stored.Status)
		})
		t.Run("moves an active execution forward", func(t *testing.T) {
			repo := setupRepo(t)
			exec := newExecution("sales-report-28063200", execution.StatusRunning, startedAt)
			_, err := repo.Save(ctx, exec)
			assert.Nil(t, err)

			done := newExecution(exec.ID, execution.StatusUserError, startedAt)
			saved, err := repo.Save(ctx, done)
			assert.Nil(t, err)
			assert.EqualValues(t, 1, saved)

			stored, err := repo.GetByID(ctx, exec.ID)
			assert.Nil(t, err)
			assert.Equal(t, execution.StatusUserError, stored.Status)
			assert.NotNil(t, stored.EndTime)
		})
		t.Run("does not overwrite a final status", func(t *testing.T) {
			repo := setupRepo(t)
			cancelled := newExecution("sales-report-28063200", execution.StatusCancelled, startedAt)
			_, err := repo.Save(ctx, cancelled)
			assert.Nil(t, err)

			saved, err := repo.Save(ctx, newExecution(cancelled.ID, execution.StatusPlatformError, startedAt))
			assert.Nil(t, err)
			assert.EqualValues(t, 0, saved)

			stored, err := repo.GetByID(ctx, cancelled.ID)
			assert.Nil(t, err)
			assert.Equal(t, execution.StatusCancelled, stored.Status)
		})
		t.Run("does not move a failed execution back to active", func(t *testing.T) {
			repo := setupRepo(t)
			failed := newExecution("sales-report-28063200", execution.StatusPlatformError, startedAt)
			_, err := repo.Save(ctx, failed)
			assert.Nil(t, err)

			saved, err := repo.Save(ctx, newExecution(failed.ID, execution.StatusRunning, startedAt))
			assert.Nil(t, err)
			assert.EqualValues(t, 0, saved)

			stored, err := repo.GetByID(ctx, failed.ID)
			assert.Nil(t, err)
			assert.Equal(t, execution.StatusPlatformError, stored.Status)
		})
	})
	t.Run("UpdateStatuses only touches active executions", func(t *testing.T) {
		repo := setupRepo(t)
		running := newExecution("sales-report-1683720000", execution.StatusRunning, startedAt)
		succeeded := newExecution("sales-report-1683710000", execution.StatusSucceeded, startedAt.Add(-time.Hour))
		assert.Nil(t, repo.Create(ctx, running))
		assert.Nil(t, repo.Create(ctx, succeeded))

		endTime := startedAt.Add(time.Hour)
		updated, err := repo.UpdateStatuses(ctx, []string{running.ID, succeeded.ID}, execution.StatusCancelled,
			execution.MessageCancelled, endTime, false)

		assert.Nil(t, err)
		assert.EqualValues(t, 1, updated)

		stored, err := repo.GetByID(ctx, running.ID)
		assert.Nil(t, err)
		assert.Equal(t, execution.StatusCancelled, stored.Status)
		assert.True(t, endTime.Equal(*stored.EndTime))

		untouched, err := repo.GetByID(ctx, succeeded.ID)
		assert.Nil(t, err)
		assert.Equal(t, execution.StatusSucceeded, untouched.Status)
	})
	t.Run("UpdateStatuses marks inferred rows", func(t *testing.T) {
		repo := setupRepo(t)
		running := newExecution("sales-report-1683720000", execution.StatusRunning, startedAt)
		assert.Nil(t, repo.Create(ctx, running))

		_, err := repo.UpdateStatuses(ctx, []string{running.ID}, execution.StatusSucceeded, execution.MessageInferred, startedAt, true)
		assert.Nil(t, err)

		stored, err := repo.GetByID(ctx, running.ID)
		assert.Nil(t, err)
		assert.True(t, stored.StatusInferred)
	})
	t.Run("GetByStatuses returns the executions in the given statuses", func(t *testing.T) {
		repo := setupRepo(t)
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683720000", execution.StatusRunning, startedAt)))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683710000", execution.StatusSubmitted, startedAt.Add(-time.Hour))))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683700000", execution.StatusSucceeded, startedAt.Add(-2*time.Hour))))

		active, err := repo.GetByStatuses(ctx, execution.ActiveStatuses)

		assert.Nil(t, err)
		assert.Len(t, active, 2)
		assert.Equal(t, "sales-report-1683710000", active[0].ID)
	})
	t.Run("GetByJobExcludingStatuses orders by end time", func(t *testing.T) {
		repo := setupRepo(t)
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683720000", execution.StatusSucceeded, startedAt)))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683700000", execution.StatusUserError, startedAt.Add(-2*time.Hour))))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683730000", execution.StatusRunning, startedAt.Add(time.Hour))))

		executions, err := repo.GetByJobExcludingStatuses(ctx, "sales-report", execution.ActiveStatuses)

		assert.Nil(t, err)
		assert.Len(t, executions, 2)
		assert.Equal(t, "sales-report-1683700000", executions[0].ID)
		assert.Equal(t, "sales-report-1683720000", executions[1].ID)
	})
	t.Run("DeleteByIDs returns the number of deleted rows", func(t *testing.T) {
		repo := setupRepo(t)
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683720000", execution.StatusSucceeded, startedAt)))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683700000", execution.StatusSucceeded, startedAt)))

		deleted, err := repo.DeleteByIDs(ctx, []string{"sales-report-1683720000", "sales-report-1"})

		assert.Nil(t, err)
		assert.EqualValues(t, 1, deleted)
		_, err = repo.GetByID(ctx, "sales-report-1683720000")
		assert.True(t, errors.IsErrorType(err, errors.ErrNotFound))
	})
	t.Run("CountByStatus returns sparse counts", func(t *testing.T) {
		repo := setupRepo(t)
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683720000", execution.StatusSucceeded, startedAt)))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683710000", execution.StatusSucceeded, startedAt)))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683700000", execution.StatusUserError, startedAt)))

		counts, err := repo.CountByStatus(ctx, []string{"sales-report", "inventory"}, nil)

		assert.Nil(t, err)
		assert.Equal(t, 2, counts.Get("sales-report", execution.StatusSucceeded))
		assert.Equal(t, 1, counts.Get("sales-report", execution.StatusUserError))
		assert.Equal(t, 0, counts.Get("inventory", execution.StatusSucceeded))
	})
	t.Run("List applies the status filter and limit", func(t *testing.T) {
		repo := setupRepo(t)
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683720000", execution.StatusSucceeded, startedAt)))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683730000", execution.StatusSucceeded, startedAt.Add(time.Hour))))
		assert.Nil(t, repo.Create(ctx, newExecution("sales-report-1683740000", execution.StatusRunning, startedAt.Add(2*time.Hour))))

		executions, err := repo.List(ctx, "sales-report", execution.Filter{
			Statuses: []execution.Status{execution.StatusSucceeded},
			Limit:    1,
		})

		assert.Nil(t, err)
		assert.Len(t, executions, 1)
		assert.Equal(t, "sales-report-1683730000", executions[0].ID)
	})
}
