package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/odpf/salt/log"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
	"github.com/odpf/datajobs/internal/lib/cron"
)

type TemplateManager interface {
	ApplyScheduledTemplate(ctx context.Context, spec execution.TemplateSpec) (execution.ApplyResult, error)
	DeleteScheduledTemplate(ctx context.Context, name string) error
}

type DeploymentService struct {
	l log.Logger

	jobRepo        JobRepository
	deploymentRepo DeploymentRepository
	templates      TemplateManager

	now func() time.Time
}

func (d *DeploymentService) RegisterJob(ctx context.Context, job *execution.DataJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.Schedule != "" {
		if _, err := cron.ParseCronSchedule(job.Schedule); err != nil {
			return errors.InvalidArgument(execution.EntityDataJob, fmt.Sprintf("invalid schedule %q for job %s: %s", job.Schedule, job.Name, err))
		}
	}

	existing, err := d.jobRepo.GetByName(ctx, job.Name)
	if err != nil && !errors.IsErrorType(err, errors.ErrNotFound) {
		return err
	}
	if existing != nil && !existing.OwnedBy(job.Team) {
		return errors.AlreadyExists(execution.EntityDataJob, fmt.Sprintf("job %s is owned by another team", job.Name))
	}
	return d.jobRepo.Save(ctx, job)
}

// Deploy renders the scheduled template of the job and records the deployment
func (d *DeploymentService) Deploy(ctx context.Context, team, jobName, deployedBy string, deployment *execution.Deployment) (execution.ApplyResult, error) {
	job, err := d.jobRepo.GetByName(ctx, jobName)
	if err != nil {
		return "", err
	}
	if !job.OwnedBy(team) {
		return "", errors.NotFound(execution.EntityDataJob, fmt.Sprintf("job %s not found for team %s", jobName, team))
	}
	if deployment.Image == "" {
		return "", errors.InvalidArgument(execution.EntityDeployment, "image is empty for job "+jobName)
	}

	schedule := deployment.Schedule
	if schedule == "" {
		schedule = job.Schedule
	}
	scheduleSpec, err := cron.ParseCronSchedule(schedule)
	if err != nil {
		return "", errors.InvalidArgument(execution.EntityDeployment, fmt.Sprintf("invalid schedule %q for job %s: %s", schedule, jobName, err))
	}

	deployedAt := d.now()
	deployment.JobName = jobName
	deployment.Schedule = schedule
	deployment.LastDeployedBy = deployedBy
	deployment.LastDeployedAt = &deployedAt
	if deployment.ID == "" {
		deployment.ID = uuid.New().String()
	}

	spec := execution.TemplateSpec{
		Name:      jobName,
		Team:      team,
		Schedule:  schedule,
		Image:     deployment.Image,
		Enabled:   deployment.Enabled,
		Resources: deployment.Resources,
		Annotations: map[string]string{
			execution.AnnotationDeployedBy:    deployedBy,
			execution.AnnotationDeployedAt:    deployedAt.UTC().Format(time.RFC3339),
			execution.AnnotationToolVersion:   deployment.ToolVersion,
			execution.AnnotationSourceVersion: deployment.SourceVersion,
			execution.AnnotationPythonVersion: deployment.PythonVersion,
			execution.AnnotationSchedule:      schedule,
		},
	}
	result, err := d.templates.ApplyScheduledTemplate(ctx, spec)
	if err != nil {
		return "", err
	}

	if err := d.deploymentRepo.Save(ctx, deployment); err != nil {
		return "", err
	}

	if deployment.Enabled {
		d.l.Info("deployed data job", "job", jobName, "deployment", deployment.ID, "template", string(result),
			"next_run", scheduleSpec.Next(deployedAt).Format(time.RFC3339))
	} else {
		d.l.Info("deployed data job with schedule disabled", "job", jobName, "deployment", deployment.ID, "template", string(result))
	}
	return result, nil
}

func (d *DeploymentService) Undeploy(ctx context.Context, team, jobName string) error {
	job, err := d.jobRepo.GetByName(ctx, jobName)
	if err != nil {
		return err
	}
	if !job.OwnedBy(team) {
		return errors.NotFound(execution.EntityDataJob, fmt.Sprintf("job %s not found for team %s", jobName, team))
	}

	if err := d.templates.DeleteScheduledTemplate(ctx, jobName); err != nil {
		return err
	}
	if err := d.deploymentRepo.Delete(ctx, jobName); err != nil && !errors.IsErrorType(err, errors.ErrNotFound) {
		return err
	}

	d.l.Info("undeployed data job", "job", jobName)
	return nil
}

func NewDeploymentService(logger log.Logger, jobRepo JobRepository, deploymentRepo DeploymentRepository,
	templates TemplateManager, currentTime func() time.Time,
) *DeploymentService {
	return &DeploymentService{
		l:              logger,
		jobRepo:        jobRepo,
		deploymentRepo: deploymentRepo,
		templates:      templates,
		now:            currentTime,
	}
}
