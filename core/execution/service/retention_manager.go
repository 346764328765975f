package service

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kushsharma/parallel"
	"github.com/odpf/salt/log"
	"github.com/robfig/cron/v3"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

const (
	metricRetentionInvocations metricType = "datajobs_retention_invocations_total"
	metricRetentionDeleted     metricType = "datajobs_retention_deleted_executions_total"
	metricRetentionFailures    metricType = "datajobs_retention_failed_jobs_total"
)

type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// RetentionManager deletes the executions which fall outside the retention policy
type RetentionManager struct {
	l log.Logger

	jobRepo       JobRepository
	executionRepo ExecutionRepository
	locker        Locker
	metrics       Metrics

	schedule *cron.Cron
	config   config.RetentionConfig
	now      func() time.Time
}

func (m *RetentionManager) Initialize() error {
	if m.schedule == nil {
		return nil
	}
	if _, err := m.schedule.AddFunc("@every "+m.config.Interval.String(), m.StartCleanupLoop); err != nil {
		m.l.Error("failed to schedule execution retention", "error", err)
		return err
	}
	m.schedule.Start()
	return nil
}

func (m *RetentionManager) StartCleanupLoop() {
	ctx := context.Background()
	if m.config.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.WorkerTimeout)
		defer cancel()
	}

	if err := m.Cleanup(ctx); err != nil {
		m.l.Error("execution retention finished with errors", "error", err)
	}
}

// Cleanup runs a single sweep when the named lock can be acquired, otherwise it is a no-op
func (m *RetentionManager) Cleanup(ctx context.Context) error {
	acquired, err := m.locker.TryLock(ctx, m.config.LockName, m.config.LockTTL)
	if err != nil {
		return errors.Wrap(execution.EntityExecution, "unable to acquire retention lock", err)
	}
	if !acquired {
		m.l.Debug("retention is running on another instance", "lock", m.config.LockName)
		return nil
	}
	defer func() {
		if err := m.locker.Unlock(context.WithoutCancel(ctx), m.config.LockName); err != nil {
			m.l.Warn("unable to release retention lock", "lock", m.config.LockName, "error", err)
		}
	}()

	m.metrics.Inc(metricRetentionInvocations.String(), nil)

	jobs, err := m.jobRepo.GetAll(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	runner := parallel.NewRunner(parallel.WithLimit(m.config.Concurrency))
	for _, job := range jobs {
		runner.Add(func(jobName string) func() (interface{}, error) {
			return func() (interface{}, error) {
				return m.cleanupJob(ctx, jobName, now)
			}
		}(job.Name))
	}

	var errorSet error
	for _, result := range runner.Run() {
		if result.Err != nil {
			errorSet = multierror.Append(errorSet, result.Err)
		}
	}
	return errorSet
}

func (m *RetentionManager) cleanupJob(ctx context.Context, jobName string, now time.Time) (int64, error) {
	labels := map[string]string{"job": jobName}

	executions, err := m.executionRepo.GetByJobExcludingStatuses(ctx, jobName, execution.ActiveStatuses)
	if err != nil {
		m.l.Error("unable to get executions for retention", "job", jobName, "error", err)
		m.metrics.Inc(metricRetentionFailures.String(), labels)
		return 0, err
	}

	ids := execution.SelectForRetention(executions, m.config.MaxToKeep, m.config.TTL, now)
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := m.executionRepo.DeleteByIDs(ctx, ids)
	if err != nil {
		m.l.Error("unable to delete executions", "job", jobName, "count", len(ids), "error", err)
		m.metrics.Inc(metricRetentionFailures.String(), labels)
		return 0, err
	}

	m.l.Info("deleted executions outside retention", "job", jobName, "count", deleted)
	m.metrics.Add(metricRetentionDeleted.String(), float64(deleted), labels)
	return deleted, nil
}

func NewRetentionManager(logger log.Logger, jobRepo JobRepository, executionRepo ExecutionRepository, locker Locker,
	metrics Metrics, schedule *cron.Cron, currentTime func() time.Time, conf config.RetentionConfig,
) *RetentionManager {
	return &RetentionManager{
		l:             logger,
		jobRepo:       jobRepo,
		executionRepo: executionRepo,
		locker:        locker,
		metrics:       metrics,
		schedule:      schedule,
		config:        conf,
		now:           currentTime,
	}
}
