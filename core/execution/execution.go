package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/odpf/datajobs/internal/errors"
)

const (
	EntityExecution  = "execution"
	EntityDataJob    = "dataJob"
	EntityDeployment = "deployment"
	EntityCluster    = "cluster"

	MessageCancelled = "Execution was cancelled by the user."
	MessageSubmitted = "Execution was submitted."
	MessageInferred  = "Status is inferred by the data jobs control service."
)

type Type string

const (
	TypeManual    Type = "MANUAL"
	TypeScheduled Type = "SCHEDULED"
)

// TypeFromStartedBy classifies an execution from the identity which triggered it,
// the scheduler starts instances with an identity containing "scheduled"
func TypeFromStartedBy(startedBy string) Type {
	if strings.Contains(strings.ToLower(startedBy), "scheduled") {
		return TypeScheduled
	}
	return TypeManual
}

func (t Type) String() string {
	return string(t)
}

// NewExecutionID derives the execution id from the job name and the submission second.
// Two submissions of the same job within the same second produce the same id.
func NewExecutionID(jobName string, submittedAt time.Time) string {
	return fmt.Sprintf("%s-%d", jobName, submittedAt.Unix())
}

// BelongsToJob reports whether an instance id was produced for jobName, either by
// NewExecutionID or by the cluster scheduler which uses the same <job>-<digits> shape
func BelongsToJob(instanceID, jobName string) bool {
	suffix := strings.TrimPrefix(instanceID, jobName+"-")
	if suffix == instanceID || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type DeploymentSnapshot struct {
	Image         string
	ToolVersion   string
	SourceVersion string
	PythonVersion string
	Schedule      string
	Resources     Resources
	DeployedBy    string
	DeployedAt    *time.Time
}

type Execution struct {
	ID        string
	JobName   string
	Type      Type
	Status    Status
	Message   string
	OpID      string
	StartedBy string

	StartTime *time.Time
	EndTime   *time.Time

	// StatusInferred marks rows whose status was not reported by the cluster
	StatusInferred bool

	Deployment DeploymentSnapshot
}

// Validate checks that only terminal executions carry an end time
func (e *Execution) Validate() error {
	if e.ID == "" {
		return errors.InvalidArgument(EntityExecution, "execution id is empty")
	}
	if e.Status.IsTerminal() && e.EndTime == nil {
		return errors.InvalidArgument(EntityExecution, "terminal execution "+e.ID+" has no end time")
	}
	if !e.Status.IsTerminal() && e.EndTime != nil {
		return errors.InvalidArgument(EntityExecution, "active execution "+e.ID+" has an end time")
	}
	return nil
}

// StartOptions carry the caller supplied parts of a start request
type StartOptions struct {
	StartedBy string
	OpID      string
	Args      map[string]string
	Env       map[string]string
}

type Filter struct {
	Statuses []Status
	Limit    int
}

func (f Filter) HasStatus(status Status) bool {
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}
