package service

import (
	"context"

	"github.com/odpf/salt/log"
	"github.com/robfig/cron/v3"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

type ObservationSource interface {
	ListObservations(ctx context.Context) ([]execution.Observation, error)
	ListLiveInstanceIDs(ctx context.Context) ([]string, error)
}

type ExecutionSyncer interface {
	Observe(ctx context.Context, job *execution.DataJob, obs execution.Observation, result execution.Result) (*execution.Execution, error)
	SyncStale(ctx context.Context, liveIDs []string) error
}

// StatusSyncManager periodically pulls the state of the cluster into the execution store
type StatusSyncManager struct {
	l log.Logger

	source  ObservationSource
	jobRepo JobRepository
	syncer  ExecutionSyncer

	schedule *cron.Cron
	config   config.ReconcileConfig
}

func (m *StatusSyncManager) Initialize() error {
	if m.schedule == nil {
		return nil
	}
	if _, err := m.schedule.AddFunc("@every "+m.config.Interval.String(), m.StartSyncLoop); err != nil {
		m.l.Error("failed to schedule execution status sync", "error", err)
		return err
	}
	m.schedule.Start()
	return nil
}

func (m *StatusSyncManager) StartSyncLoop() {
	ctx := context.Background()
	if m.config.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.WorkerTimeout)
		defer cancel()
	}

	if err := m.Sync(ctx); err != nil {
		m.l.Error("execution status sync finished with errors", "error", err)
	}
}

// Sync applies every observed instance and then reconciles the executions which are no longer live.
// A failing instance or job does not stop the others from being processed.
func (m *StatusSyncManager) Sync(ctx context.Context) error {
	me := errors.NewMultiError("errors while syncing execution statuses")

	observations, err := m.source.ListObservations(ctx)
	if err != nil {
		m.l.Error("unable to list job instances", "error", err)
		me.Append(err)
	} else {
		me.Append(m.applyObservations(ctx, observations))
	}

	liveIDs, err := m.source.ListLiveInstanceIDs(ctx)
	if err != nil {
		// without the live set every active execution would look stale
		m.l.Error("unable to list live job instances, skipping stale sync", "error", err)
		me.Append(err)
		return me.ToErr()
	}
	me.Append(m.syncer.SyncStale(ctx, liveIDs))
	return me.ToErr()
}

func (m *StatusSyncManager) applyObservations(ctx context.Context, observations []execution.Observation) error {
	me := errors.NewMultiError("errors while applying observations")
	jobs := map[string]*execution.DataJob{}
	for _, obs := range observations {
		if obs.ExecutionID == "" || obs.JobName == "" {
			continue
		}

		job, ok := jobs[obs.JobName]
		if !ok {
			var err error
			job, err = m.jobRepo.GetByName(ctx, obs.JobName)
			if err != nil {
				if errors.IsErrorType(err, errors.ErrNotFound) {
					m.l.Debug("skipping instance of unknown job", "job", obs.JobName, "execution", obs.ExecutionID)
					jobs[obs.JobName] = nil
					continue
				}
				m.l.Error("unable to get job of instance", "job", obs.JobName, "error", err)
				me.Append(err)
				continue
			}
			jobs[obs.JobName] = job
		}
		if job == nil {
			continue
		}

		result := obs.Resolve()
		updated, err := m.syncer.Observe(ctx, job, obs, result)
		if err != nil {
			m.l.Error("unable to apply observation", "execution", obs.ExecutionID, "error", err)
			me.Append(err)
			continue
		}
		if updated != nil {
			m.l.Debug("execution status changed", "execution", updated.ID, "status", updated.Status.String())
		}
	}
	return me.ToErr()
}

func NewStatusSyncManager(logger log.Logger, source ObservationSource, jobRepo JobRepository, syncer ExecutionSyncer,
	schedule *cron.Cron, conf config.ReconcileConfig,
) *StatusSyncManager {
	return &StatusSyncManager{
		l:        logger,
		source:   source,
		jobRepo:  jobRepo,
		syncer:   syncer,
		schedule: schedule,
		config:   conf,
	}
}
