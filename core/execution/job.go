package execution

import (
	"time"

	"github.com/odpf/datajobs/internal/errors"
)

type Contacts struct {
	NotifiedOnSuccess       []string
	NotifiedOnUserError     []string
	NotifiedOnPlatformError []string
	NotifiedOnDeployFailure []string
}

type DataJob struct {
	Name           string
	Team           string
	Schedule       string
	Contacts       Contacts
	GenerateKeytab bool
}

func (j *DataJob) Validate() error {
	if j.Name == "" {
		return errors.InvalidArgument(EntityDataJob, "job name is empty")
	}
	if j.Team == "" {
		return errors.InvalidArgument(EntityDataJob, "team is empty for job "+j.Name)
	}
	return nil
}

// OwnedBy treats a team mismatch the same as an unknown job
func (j *DataJob) OwnedBy(team string) bool {
	return j.Team == team
}

type Resources struct {
	CPURequest    string `json:"cpu_request,omitempty"`
	CPULimit      string `json:"cpu_limit,omitempty"`
	MemoryRequest string `json:"memory_request,omitempty"`
	MemoryLimit   string `json:"memory_limit,omitempty"`
}

type Deployment struct {
	ID             string
	JobName        string
	Image          string
	Resources      Resources
	Enabled        bool
	ToolVersion    string
	SourceVersion  string
	PythonVersion  string
	Schedule       string
	LastDeployedBy string
	LastDeployedAt *time.Time
}

func (d *Deployment) Snapshot() DeploymentSnapshot {
	return DeploymentSnapshot{
		Image:         d.Image,
		ToolVersion:   d.ToolVersion,
		SourceVersion: d.SourceVersion,
		PythonVersion: d.PythonVersion,
		Schedule:      d.Schedule,
		Resources:     d.Resources,
		DeployedBy:    d.LastDeployedBy,
		DeployedAt:    d.LastDeployedAt,
	}
}
