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
	jobColumns = `name, team, schedule, contacts, generate_keytab, created_at, updated_at`
)

type JobRepository struct {
	db *gorm.DB
}

type dataJob struct {
	Name           string
	Team           string
	Schedule       string
	Contacts       datatypes.JSON
	GenerateKeytab bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j dataJob) toDataJob() (*execution.DataJob, error) {
	var contacts execution.Contacts
	if len(j.Contacts) > 0 {
		if err := json.Unmarshal(j.Contacts, &contacts); err != nil {
			return nil, errors.InternalError(execution.EntityDataJob, "unable to decode contacts of "+j.Name, err)
		}
	}
	return &execution.DataJob{
		Name:           j.Name,
		Team:           j.Team,
		Schedule:       j.Schedule,
		Contacts:       contacts,
		GenerateKeytab: j.GenerateKeytab,
	}, nil
}

func (repo JobRepository) GetByName(ctx context.Context, name string) (*execution.DataJob, error) {
	var job dataJob
	getJobByName := `SELECT ` + jobColumns + ` FROM data_job WHERE name = ?`
	err := repo.db.WithContext(ctx).Raw(getJobByName, name).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(execution.EntityDataJob, "no record for job "+name)
		}
		return nil, errors.Wrap(execution.EntityDataJob, "error while getting job "+name, err)
	}
	return job.toDataJob()
}

func (repo JobRepository) GetAll(ctx context.Context) ([]*execution.DataJob, error) {
	var jobs []dataJob
	getAllJobs := `SELECT ` + jobColumns + ` FROM data_job ORDER BY name`
	if err := repo.db.WithContext(ctx).Raw(getAllJobs).Scan(&jobs).Error; err != nil {
		return nil, errors.Wrap(execution.EntityDataJob, "error while getting all jobs", err)
	}

	result := make([]*execution.DataJob, 0, len(jobs))
	for _, j := range jobs {
		job, err := j.toDataJob()
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, nil
}

func (repo JobRepository) Save(ctx context.Context, job *execution.DataJob) error {
	contacts, err := json.Marshal(job.Contacts)
	if err != nil {
		return errors.InternalError(execution.EntityDataJob, "unable to encode contacts of "+job.Name, err)
	}

	upsertJob := `INSERT INTO data_job (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, now(), now())
ON CONFLICT (name) DO UPDATE SET team = EXCLUDED.team, schedule = EXCLUDED.schedule, contacts = EXCLUDED.contacts,
generate_keytab = EXCLUDED.generate_keytab, updated_at = now()`
	err = repo.db.WithContext(ctx).Exec(upsertJob, job.Name, job.Team, job.Schedule, datatypes.JSON(contacts), job.GenerateKeytab).Error
	return errors.WrapIfErr(execution.EntityDataJob, "unable to save job "+job.Name, err)
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{
		db: db,
	}
}
