package execution

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

const (
	deploymentColumns = `job_name, id, image, resources, enabled, tool_version, source_version, python_version, schedule,
last_deployed_by, last_deployed_at`
)

type DeploymentRepository struct {
	db *gorm.DB
}

type deployment struct {
	JobName        string
	ID             string
	Image          string
	Resources      datatypes.JSON
	Enabled        bool
	ToolVersion    string
	SourceVersion  string
	PythonVersion  string
	Schedule       string
	LastDeployedBy string
	LastDeployedAt *time.Time
}

func (d deployment) toDeployment() (*execution.Deployment, error) {
	resources, err := decodeResources(d.Resources)
	if err != nil {
		return nil, errors.InternalError(execution.EntityDeployment, "unable to decode resources of "+d.JobName, err)
	}
	return &execution.Deployment{
		ID:             d.ID,
		JobName:        d.JobName,
		Image:          d.Image,
		Resources:      resources,
		Enabled:        d.Enabled,
		ToolVersion:    d.ToolVersion,
		SourceVersion:  d.SourceVersion,
		PythonVersion:  d.PythonVersion,
		Schedule:       d.Schedule,
		LastDeployedBy: d.LastDeployedBy,
		LastDeployedAt: d.LastDeployedAt,
	}, nil
}

func decodeResources(raw datatypes.JSON) (execution.Resources, error) {
	var resources execution.Resources
	if len(raw) == 0 {
		return resources, nil
	}
	err := json.Unmarshal(raw, &resources)
	return resources, err
}

func (repo DeploymentRepository) GetByJobName(ctx context.Context, jobName string) (*execution.Deployment, error) {
	var d deployment
	getDeployment := `SELECT ` + deploymentColumns + ` FROM data_job_deployment WHERE job_name = ?`
	err := repo.db.WithContext(ctx).Raw(getDeployment, jobName).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(execution.EntityDeployment, "no deployment for job "+jobName)
		}
		return nil, errors.Wrap(execution.EntityDeployment, "error while getting deployment of "+jobName, err)
	}
	return d.toDeployment()
}

func (repo DeploymentRepository) Save(ctx context.Context, d *execution.Deployment) error {
	resources, err := json.Marshal(d.Resources)
	if err != nil {
		return errors.InternalError(execution.EntityDeployment, "unable to encode resources of "+d.JobName, err)
	}

	upsertDeployment := `INSERT INTO data_job_deployment (` + deploymentColumns + `, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now(), now())
ON CONFLICT (job_name) DO UPDATE SET id = EXCLUDED.id, image = EXCLUDED.image, resources = EXCLUDED.resources,
enabled = EXCLUDED.enabled, tool_version = EXCLUDED.tool_version, source_version = EXCLUDED.source_version,
python_version = EXCLUDED.python_version, schedule = EXCLUDED.schedule, last_deployed_by = EXCLUDED.last_deployed_by,
last_deployed_at = EXCLUDED.last_deployed_at, updated_at = now()`
	err = repo.db.WithContext(ctx).Exec(upsertDeployment, d.JobName, d.ID, d.Image, datatypes.JSON(resources), d.Enabled,
		d.ToolVersion, d.SourceVersion, d.PythonVersion, d.Schedule, d.LastDeployedBy, d.LastDeployedAt).Error
	return errors.WrapIfErr(execution.EntityDeployment, "unable to save deployment of "+d.JobName, err)
}

func (repo DeploymentRepository) Delete(ctx context.Context, jobName string) error {
	result := repo.db.WithContext(ctx).Exec(`DELETE FROM data_job_deployment WHERE job_name = ?`, jobName)
	if result.Error != nil {
		return errors.Wrap(execution.EntityDeployment, "unable to delete deployment of "+jobName, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound(execution.EntityDeployment, "no deployment for job "+jobName)
	}
	return nil
}

func NewDeploymentRepository(db *gorm.DB) *DeploymentRepository {
	return &DeploymentRepository{
		db: db,
	}
}
