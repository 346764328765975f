package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/odpf/salt/log"
	"github.com/patrickmn/go-cache"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

type metricType string

func (m metricType) String() string {
	return string(m)
}

const (
	metricExecutionsStarted      metricType = "datajobs_executions_started_total"
	metricExecutionStartFailures metricType = "datajobs_execution_start_failures_total"
	metricExecutionsCancelled    metricType = "datajobs_executions_cancelled_total"
	metricExecutionsObserved     metricType = "datajobs_execution_observations_total"
	metricExecutionsInferred     metricType = "datajobs_executions_status_inferred_total"
	metricActiveExecutions       metricType = "datajobs_active_executions"
	metricLiveInstances          metricType = "datajobs_live_instances"

	liveInstancesCacheKey = "live_instance_ids"
)

type JobRepository interface {
	GetByName(ctx context.Context, name string) (*execution.DataJob, error)
	GetAll(ctx context.Context) ([]*execution.DataJob, error)
	Save(ctx context.Context, job *execution.DataJob) error
}

type DeploymentRepository interface {
	GetByJobName(ctx context.Context, jobName string) (*execution.Deployment, error)
	Save(ctx context.Context, deployment *execution.Deployment) error
	Delete(ctx context.Context, jobName string) error
}

type ExecutionRepository interface {
	Create(ctx context.Context, e *execution.Execution) error
	GetByID(ctx context.Context, id string) (*execution.Execution, error)
	// Save upserts the execution unless the stored row already has a final status,
	// it reports zero rows when the stored row was kept
	Save(ctx context.Context, e *execution.Execution) (int64, error)
	Delete(ctx context.Context, id string) error
	GetByStatuses(ctx context.Context, statuses []execution.Status) ([]*execution.Execution, error)
	// UpdateStatuses only touches rows which are not terminal yet
	UpdateStatuses(ctx context.Context, ids []string, status execution.Status, message string, endTime time.Time, inferred bool) (int64, error)
	GetByJobExcludingStatuses(ctx context.Context, jobName string, statuses []execution.Status) ([]*execution.Execution, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	CountByStatus(ctx context.Context, jobNames []string, statuses []execution.Status) (execution.StatusCounts, error)
	List(ctx context.Context, jobName string, filter execution.Filter) ([]*execution.Execution, error)
}

type Cluster interface {
	ListLiveInstanceIDs(ctx context.Context) ([]string, error)
	StartInstance(ctx context.Context, req execution.InstanceRequest) error
	CancelInstance(ctx context.Context, team, jobName, executionID string) error
	GetInstanceLogs(ctx context.Context, executionID string, tailLines int) (string, error)
}

type Metrics interface {
	Inc(metric string, labels map[string]string)
	Add(metric string, value float64, labels map[string]string)
	Set(metric string, value float64, labels map[string]string)
}

type ExecutionService struct {
	l log.Logger

	jobRepo        JobRepository
	deploymentRepo DeploymentRepository
	executionRepo  ExecutionRepository
	cluster        Cluster
	metrics        Metrics

	liveCache      *cache.Cache
	graceWindow    time.Duration
	inferredStatus execution.Status

	now func() time.Time
}

func (s *ExecutionService) Start(ctx context.Context, team, jobName, deploymentID string, opts execution.StartOptions) (string, error) {
	if _, err := s.getJob(ctx, team, jobName); err != nil {
		return "", err
	}

	deployment, err := s.deploymentRepo.GetByJobName(ctx, jobName)
	if err != nil {
		return "", err
	}
	if deploymentID != "" && deployment.ID != deploymentID {
		return "", errors.NotFound(execution.EntityDeployment, fmt.Sprintf("deployment %s not found for job %s", deploymentID, jobName))
	}

	// best effort, two concurrent starts may both pass this check
	liveIDs, err := s.cluster.ListLiveInstanceIDs(ctx)
	if err != nil {
		return "", errors.Wrap(execution.EntityExecution, "unable to check live instances of job "+jobName, err)
	}
	for _, id := range liveIDs {
		if execution.BelongsToJob(id, jobName) {
			return "", errors.AlreadyExists(execution.EntityExecution, fmt.Sprintf("job %s is already running as %s", jobName, id))
		}
	}

	submittedAt := s.now()
	opID := opts.OpID
	if opID == "" {
		opID = uuid.New().String()
	}
	execType := execution.TypeFromStartedBy(opts.StartedBy)
	exec := &execution.Execution{
		ID:         execution.NewExecutionID(jobName, submittedAt),
		JobName:    jobName,
		Type:       execType,
		Status:     execution.StatusSubmitted,
		Message:    execution.MessageSubmitted,
		OpID:       opID,
		StartedBy:  opts.StartedBy,
		StartTime:  &submittedAt,
		Deployment: deployment.Snapshot(),
	}
	if err := s.executionRepo.Create(ctx, exec); err != nil {
		return "", err
	}

	req := execution.InstanceRequest{
		TemplateName: jobName,
		ExecutionID:  exec.ID,
		JobName:      jobName,
		Annotations: map[string]string{
			execution.AnnotationOpID:          opID,
			execution.AnnotationStartedBy:     opts.StartedBy,
			execution.AnnotationExecutionType: execType.String(),
		},
		Env:  opts.Env,
		Args: opts.Args,
	}
	if err := s.cluster.StartInstance(ctx, req); err != nil {
		// the row must not outlive a failed start, even when the caller gave up
		if delErr := s.executionRepo.Delete(context.WithoutCancel(ctx), exec.ID); delErr != nil {
			s.l.Error("unable to remove execution of failed start", "execution", exec.ID, "error", delErr)
		}
		s.metrics.Inc(metricExecutionStartFailures.String(), map[string]string{"job": jobName})
		return "", err
	}

	s.l.Info("execution submitted", "job", jobName, "execution", exec.ID, "op_id", opID, "type", execType.String())
	s.metrics.Inc(metricExecutionsStarted.String(), map[string]string{"job": jobName, "type": execType.String()})
	return exec.ID, nil
}

func (s *ExecutionService) Cancel(ctx context.Context, team, jobName, executionID string) error {
	job, err := s.getJob(ctx, team, jobName)
	if err != nil {
		return err
	}

	exec, err := s.getExecution(ctx, jobName, executionID)
	if err != nil {
		return err
	}
	if !exec.Status.IsCancellable() {
		return errors.FailedPrecondition(execution.EntityExecution,
			fmt.Sprintf("execution %s cannot be cancelled in status %s", executionID, exec.Status))
	}

	err = s.cluster.CancelInstance(ctx, job.Team, jobName, executionID)
	if err != nil {
		if !errors.Is(err, execution.ErrInstanceGone) {
			return err
		}
		s.l.Info("instance was gone before cancellation", "job", jobName, "execution", executionID)
	}

	updated, err := s.executionRepo.UpdateStatuses(ctx, []string{executionID}, execution.StatusCancelled,
		execution.MessageCancelled, s.now(), false)
	if err != nil {
		return err
	}
	if updated == 0 {
		s.l.Warn("execution reached a terminal status before cancellation was recorded", "execution", executionID)
		return nil
	}

	s.metrics.Inc(metricExecutionsCancelled.String(), map[string]string{"job": jobName})
	return nil
}

// Observe applies a cluster observation to the stored execution. It returns nil
// without an error when the observation carries no change.
func (s *ExecutionService) Observe(ctx context.Context, job *execution.DataJob, obs execution.Observation, result execution.Result) (*execution.Execution, error) {
	if obs.ExecutionID == "" {
		return nil, nil
	}

	existing, err := s.executionRepo.GetByID(ctx, obs.ExecutionID)
	if err != nil && !errors.IsErrorType(err, errors.ErrNotFound) {
		return nil, err
	}
	if existing != nil && !acceptsTransition(existing.Status, result.Status) {
		return nil, nil
	}

	exec := existing
	if exec == nil {
		exec = newObservedExecution(job, obs, s.now())
	}
	if exec.OpID == "" {
		exec.OpID = obs.OpID
	}
	if exec.StartedBy == "" {
		exec.StartedBy = obs.StartedBy
	}

	exec.Status = result.Status
	exec.Message = result.Message
	exec.StatusInferred = false
	if result.ToolVersion != "" {
		exec.Deployment.ToolVersion = result.ToolVersion
	}

	exec.EndTime = nil
	if exec.Status.IsTerminal() {
		end := s.now()
		if obs.EndTime != nil {
			end = *obs.EndTime
		}
		exec.EndTime = &end
	}

	saved, err := s.executionRepo.Save(ctx, exec)
	if err != nil {
		return nil, err
	}
	if saved == 0 {
		s.l.Debug("execution changed before the observation was stored", "execution", exec.ID)
		return nil, nil
	}

	s.metrics.Inc(metricExecutionsObserved.String(), map[string]string{"job": exec.JobName, "status": exec.Status.String()})
	return exec, nil
}

func acceptsTransition(current, next execution.Status) bool {
	if current == next || current.IsFinal() {
		return false
	}
	// a failed execution can be refined but never becomes active again
	return !(current.IsTerminal() && !next.IsTerminal())
}

func newObservedExecution(job *execution.DataJob, obs execution.Observation, now time.Time) *execution.Execution {
	jobName := obs.JobName
	if job != nil {
		jobName = job.Name
	}
	execType := obs.Type
	if execType == "" {
		execType = execution.TypeFromStartedBy(obs.StartedBy)
	}
	startTime := obs.StartTime
	if startTime == nil {
		startTime = &now
	}
	return &execution.Execution{
		ID:         obs.ExecutionID,
		JobName:    jobName,
		Type:       execType,
		OpID:       obs.OpID,
		StartedBy:  obs.StartedBy,
		StartTime:  startTime,
		Deployment: obs.Deployment,
	}
}

// SyncStale marks active executions which are missing from the cluster with the inferred status.
// Executions started within the grace window are skipped as they may not be visible yet.
func (s *ExecutionService) SyncStale(ctx context.Context, liveIDs []string) error {
	active, err := s.executionRepo.GetByStatuses(ctx, execution.ActiveStatuses)
	if err != nil {
		return err
	}

	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = struct{}{}
	}
	s.metrics.Set(metricLiveInstances.String(), float64(len(live)), nil)
	s.metrics.Set(metricActiveExecutions.String(), float64(len(active)), nil)

	now := s.now()
	threshold := now.Add(-s.graceWindow)
	staleByJob := map[string][]string{}
	for _, exec := range active {
		if exec.StartTime != nil && !exec.StartTime.Before(threshold) {
			continue
		}
		if _, ok := live[exec.ID]; ok {
			continue
		}
		staleByJob[exec.JobName] = append(staleByJob[exec.JobName], exec.ID)
	}

	jobNames := make([]string, 0, len(staleByJob))
	for name := range staleByJob {
		jobNames = append(jobNames, name)
	}
	sort.Strings(jobNames)

	me := errors.NewMultiError("errors while syncing stale executions")
	for _, jobName := range jobNames {
		ids := staleByJob[jobName]
		updated, err := s.executionRepo.UpdateStatuses(ctx, ids, s.inferredStatus, execution.MessageInferred, now, true)
		if err != nil {
			s.l.Error("unable to sync stale executions", "job", jobName, "error", err)
			me.Append(err)
			continue
		}
		if updated > 0 {
			s.l.Info("inferred status of stale executions", "job", jobName, "count", updated, "status", s.inferredStatus.String())
		}
		s.metrics.Add(metricExecutionsInferred.String(), float64(updated), map[string]string{"job": jobName})
	}
	return me.ToErr()
}

// List returns the executions of a job. Rows stored as RUNNING are only returned
// for a RUNNING filter when the cluster confirms the instance is live.
func (s *ExecutionService) List(ctx context.Context, team, jobName string, filter execution.Filter) ([]*execution.Execution, error) {
	if _, err := s.getJob(ctx, team, jobName); err != nil {
		return nil, err
	}

	executions, err := s.executionRepo.List(ctx, jobName, filter)
	if err != nil {
		return nil, err
	}
	if !filter.HasStatus(execution.StatusRunning) {
		return executions, nil
	}

	live, err := s.liveInstances(ctx)
	if err != nil {
		s.l.Warn("unable to confirm running executions, returning stored view", "job", jobName, "error", err)
		return executions, nil
	}

	confirmed := make([]*execution.Execution, 0, len(executions))
	for _, exec := range executions {
		if exec.Status == execution.StatusRunning {
			if _, ok := live[exec.ID]; !ok {
				continue
			}
		}
		confirmed = append(confirmed, exec)
	}
	return confirmed, nil
}

func (s *ExecutionService) Get(ctx context.Context, team, jobName, executionID string) (*execution.Execution, error) {
	if _, err := s.getJob(ctx, team, jobName); err != nil {
		return nil, err
	}
	return s.getExecution(ctx, jobName, executionID)
}

func (s *ExecutionService) GetLogs(ctx context.Context, team, jobName, executionID string, tailLines int) (string, error) {
	if _, err := s.Get(ctx, team, jobName, executionID); err != nil {
		return "", err
	}
	return s.cluster.GetInstanceLogs(ctx, executionID, tailLines)
}

func (s *ExecutionService) CountByStatus(ctx context.Context, jobNames []string, statuses []execution.Status) (execution.StatusCounts, error) {
	if len(jobNames) == 0 {
		return execution.StatusCounts{}, nil
	}
	return s.executionRepo.CountByStatus(ctx, jobNames, statuses)
}

func (s *ExecutionService) getJob(ctx context.Context, team, jobName string) (*execution.DataJob, error) {
	job, err := s.jobRepo.GetByName(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if !job.OwnedBy(team) {
		return nil, errors.NotFound(execution.EntityDataJob, fmt.Sprintf("job %s not found for team %s", jobName, team))
	}
	return job, nil
}

func (s *ExecutionService) getExecution(ctx context.Context, jobName, executionID string) (*execution.Execution, error) {
	exec, err := s.executionRepo.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.JobName != jobName {
		return nil, errors.NotFound(execution.EntityExecution, fmt.Sprintf("execution %s not found for job %s", executionID, jobName))
	}
	return exec, nil
}

func (s *ExecutionService) liveInstances(ctx context.Context) (map[string]struct{}, error) {
	if s.liveCache != nil {
		if cached, ok := s.liveCache.Get(liveInstancesCacheKey); ok {
			return cached.(map[string]struct{}), nil
		}
	}

	ids, err := s.cluster.ListLiveInstanceIDs(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		live[id] = struct{}{}
	}

	if s.liveCache != nil {
		s.liveCache.SetDefault(liveInstancesCacheKey, live)
	}
	return live, nil
}

func NewExecutionService(logger log.Logger, jobRepo JobRepository, deploymentRepo DeploymentRepository,
	executionRepo ExecutionRepository, cluster Cluster, metrics Metrics, currentTime func() time.Time,
	reconcileConf config.ReconcileConfig, lookupConf config.LookupConfig,
) *ExecutionService {
	inferredStatus, err := execution.StatusFromString(reconcileConf.InferredStatus)
	if err != nil || !inferredStatus.IsTerminal() {
		logger.Warn("invalid inferred status, falling back to succeeded", "status", reconcileConf.InferredStatus)
		inferredStatus = execution.StatusSucceeded
	}

	var liveCache *cache.Cache
	if lookupConf.LiveCacheTTL > 0 {
		liveCache = cache.New(lookupConf.LiveCacheTTL, 2*lookupConf.LiveCacheTTL)
	}

	return &ExecutionService{
		l:              logger,
		jobRepo:        jobRepo,
		deploymentRepo: deploymentRepo,
		executionRepo:  executionRepo,
		cluster:        cluster,
		metrics:        metrics,
		liveCache:      liveCache,
		graceWindow:    reconcileConf.GraceWindow,
		inferredStatus: inferredStatus,
		now:            currentTime,
	}
}
