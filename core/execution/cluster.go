package execution

import (
	"errors"
	"time"
)

// Keys of the labels and annotations set on the cluster objects of a data job
const (
	LabelJobName   = "datajobs.odpf.io/job-name"
	LabelTeam      = "datajobs.odpf.io/team"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	ManagedByValue = "datajobs"

	AnnotationOpID          = "datajobs.odpf.io/op-id"
	AnnotationStartedBy     = "datajobs.odpf.io/started-by"
	AnnotationExecutionType = "datajobs.odpf.io/execution-type"
	AnnotationTemplateHash  = "datajobs.odpf.io/template-hash"
	AnnotationDeployedAt    = "datajobs.odpf.io/deployed-at"
	AnnotationDeployedBy    = "datajobs.odpf.io/deployed-by"
	AnnotationToolVersion   = "datajobs.odpf.io/tool-version"
	AnnotationSourceVersion = "datajobs.odpf.io/source-version"
	AnnotationPythonVersion = "datajobs.odpf.io/python-version"
	AnnotationSchedule      = "datajobs.odpf.io/schedule"
)

// ErrInstanceGone is returned when the instance to cancel no longer exists on the cluster
var ErrInstanceGone = errors.New("job instance is already gone")

// InstanceRequest describes a one-off instance created from a scheduled template
type InstanceRequest struct {
	TemplateName string
	ExecutionID  string
	JobName      string
	Annotations  map[string]string
	Env          map[string]string
	Args         map[string]string
}

// TemplateSpec is the desired state of the scheduled template of a job
type TemplateSpec struct {
	Name        string
	Team        string
	Schedule    string
	Image       string
	Enabled     bool
	Resources   Resources
	Env         map[string]string
	Annotations map[string]string
}

type ApplyResult string

const (
	ApplyCreated   ApplyResult = "created"
	ApplyUpdated   ApplyResult = "updated"
	ApplyUnchanged ApplyResult = "unchanged"
)

// Observation is a point in time view of a single instance on the cluster
type Observation struct {
	ExecutionID string
	JobName     string
	OpID        string
	StartedBy   string
	Type        Type

	StartTime *time.Time
	EndTime   *time.Time

	// Succeeded is nil while the cluster has not reported completion
	Succeeded          *bool
	TerminationMessage string
	Reason             string

	Deployment DeploymentSnapshot
}

func (o Observation) Resolve() Result {
	return ResolveResult(o.Succeeded, o.TerminationMessage, o.Reason)
}
