package kubernetes

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/odpf/salt/log"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

// instances created by the job controller carry this pod label
const podJobNameLabel = "job-name"

// Cluster runs data jobs as CronJobs and one-off Jobs in a single namespace
type Cluster struct {
	l log.Logger

	clientset       kubernetes.Interface
	namespace       string
	imagePullSecret string
	template        *batchv1.CronJob
}

func (c *Cluster) ApplyScheduledTemplate(ctx context.Context, spec execution.TemplateSpec) (execution.ApplyResult, error) {
	desired, err := c.renderCronJob(spec)
	if err != nil {
		return "", err
	}

	cronJobs := c.clientset.BatchV1().CronJobs(c.namespace)
	existing, err := cronJobs.Get(ctx, spec.Name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return "", errors.InternalError(execution.EntityCluster, "unable to get cronjob "+spec.Name, err)
		}
		if _, err := cronJobs.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return "", errors.InternalError(execution.EntityCluster, "unable to create cronjob "+spec.Name, err)
		}
		c.l.Debug("created cronjob", "name", spec.Name)
		return execution.ApplyCreated, nil
	}

	if existing.Annotations[execution.AnnotationTemplateHash] == desired.Annotations[execution.AnnotationTemplateHash] {
		return execution.ApplyUnchanged, nil
	}

	desired.ResourceVersion = existing.ResourceVersion
	if _, err := cronJobs.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return "", errors.InternalError(execution.EntityCluster, "unable to update cronjob "+spec.Name, err)
	}
	c.l.Debug("updated cronjob", "name", spec.Name)
	return execution.ApplyUpdated, nil
}

func (c *Cluster) DeleteScheduledTemplate(ctx context.Context, name string) error {
	err := c.clientset.BatchV1().CronJobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.InternalError(execution.EntityCluster, "unable to delete cronjob "+name, err)
	}
	return nil
}

// ListLiveInstanceIDs returns the names of the instances which have not finished yet,
// as seen by the jobs api and by the status of the cronjobs
func (c *Cluster) ListLiveInstanceIDs(ctx context.Context) ([]string, error) {
	live := map[string]struct{}{}

	jobs, err := c.clientset.BatchV1().Jobs(c.namespace).List(ctx, managedSelector())
	if err != nil {
		return nil, errors.InternalError(execution.EntityCluster, "unable to list jobs", err)
	}
	for _, job := range jobs.Items {
		if !isFinished(&job) {
			live[job.Name] = struct{}{}
		}
	}

	cronJobs, err := c.clientset.BatchV1().CronJobs(c.namespace).List(ctx, managedSelector())
	if err != nil {
		return nil, errors.InternalError(execution.EntityCluster, "unable to list cronjobs", err)
	}
	for _, cronJob := range cronJobs.Items {
		for _, ref := range cronJob.Status.Active {
			live[ref.Name] = struct{}{}
		}
	}

	legacyCronJobs, err := c.clientset.BatchV1beta1().CronJobs(c.namespace).List(ctx, managedSelector())
	switch {
	case err == nil:
		for _, cronJob := range legacyCronJobs.Items {
			for _, ref := range cronJob.Status.Active {
				live[ref.Name] = struct{}{}
			}
		}
	case isNotServed(err):
		// clusters from 1.25 on do not serve batch/v1beta1
	default:
		return nil, errors.InternalError(execution.EntityCluster, "unable to list legacy cronjobs", err)
	}

	ids := make([]string, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Cluster) StartInstance(ctx context.Context, req execution.InstanceRequest) error {
	jobTemplate, templateAnnotations, err := c.getJobTemplate(ctx, req.TemplateName)
	if err != nil {
		return err
	}

	labels := mergeMaps(jobTemplate.Labels, map[string]string{
		execution.LabelJobName:   req.JobName,
		execution.LabelManagedBy: execution.ManagedByValue,
	})
	annotations := mergeMaps(templateAnnotations, jobTemplate.Annotations)
	annotations = mergeMaps(annotations, req.Annotations)
	delete(annotations, execution.AnnotationTemplateHash)

	spec := jobTemplate.Spec.DeepCopy()
	spec.Template.Labels = mergeMaps(spec.Template.Labels, labels)
	env := toEnvVars(req.Env)
	args := toArgs(req.Args)
	for i := range spec.Template.Spec.Containers {
		container := &spec.Template.Spec.Containers[i]
		container.Env = append(container.Env, env...)
		container.Args = append(container.Args, args...)
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        req.ExecutionID,
			Namespace:   c.namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: *spec,
	}
	if _, err := c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return errors.InternalError(execution.EntityCluster, "unable to create job "+req.ExecutionID, err)
	}
	return nil
}

// getJobTemplate looks the cronjob up in batch/v1 first and in batch/v1beta1 for older clusters
func (c *Cluster) getJobTemplate(ctx context.Context, name string) (*batchv1.JobTemplateSpec, map[string]string, error) {
	cronJob, err := c.clientset.BatchV1().CronJobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return &cronJob.Spec.JobTemplate, cronJob.Annotations, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, nil, errors.InternalError(execution.EntityCluster, "unable to get cronjob "+name, err)
	}

	legacy, err := c.clientset.BatchV1beta1().CronJobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if isNotServed(err) {
			return nil, nil, errors.NotFound(execution.EntityCluster, "cronjob "+name+" is not deployed")
		}
		return nil, nil, errors.InternalError(execution.EntityCluster, "unable to get legacy cronjob "+name, err)
	}
	return &batchv1.JobTemplateSpec{
		ObjectMeta: legacy.Spec.JobTemplate.ObjectMeta,
		Spec:       legacy.Spec.JobTemplate.Spec,
	}, legacy.Annotations, nil
}

// CancelInstance deletes the job together with its pods. A job which does not exist
// anymore is reported with execution.ErrInstanceGone.
func (c *Cluster) CancelInstance(ctx context.Context, team, jobName, executionID string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, executionID, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	switch {
	case err == nil:
		c.l.Info("cancelled job instance", "team", team, "job", jobName, "execution", executionID)
		return nil
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%w: %s", execution.ErrInstanceGone, executionID)
	case runtime.IsMissingKind(err):
		// some api servers answer the delete with a status the client cannot decode, the job is deleted anyway
		c.l.Warn("ignoring undecodable delete response", "execution", executionID, "error", err)
		return nil
	default:
		return errors.InternalError(execution.EntityCluster, "unable to delete job "+executionID, err)
	}
}

func (c *Cluster) GetInstanceLogs(ctx context.Context, executionID string, tailLines int) (string, error) {
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", podJobNameLabel, executionID),
	})
	if err != nil {
		return "", errors.InternalError(execution.EntityCluster, "unable to list pods of "+executionID, err)
	}
	if len(pods.Items) == 0 {
		return "", errors.NotFound(execution.EntityCluster, "no pods found for execution "+executionID)
	}

	// the most recent attempt holds the relevant logs
	pod := pods.Items[0]
	for _, candidate := range pods.Items[1:] {
		if pod.CreationTimestamp.Before(&candidate.CreationTimestamp) {
			pod = candidate
		}
	}

	opts := &corev1.PodLogOptions{}
	if tailLines > 0 {
		lines := int64(tailLines)
		opts.TailLines = &lines
	}
	stream, err := c.clientset.CoreV1().Pods(c.namespace).GetLogs(pod.Name, opts).Stream(ctx)
	if err != nil {
		return "", errors.InternalError(execution.EntityCluster, "unable to stream logs of pod "+pod.Name, err)
	}
	defer stream.Close()

	content, err := io.ReadAll(stream)
	if err != nil {
		return "", errors.InternalError(execution.EntityCluster, "unable to read logs of pod "+pod.Name, err)
	}
	return string(content), nil
}

func managedSelector() metav1.ListOptions {
	return metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", execution.LabelManagedBy, execution.ManagedByValue),
	}
}

func isNotServed(err error) bool {
	return apierrors.IsNotFound(err) || apierrors.IsNotAcceptable(err) || meta.IsNoMatchError(err)
}

func isFinished(job *batchv1.Job) bool {
	for _, cond := range job.Status.Conditions {
		if (cond.Type == batchv1.JobComplete || cond.Type == batchv1.JobFailed) && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func NewCluster(logger log.Logger, clientset kubernetes.Interface, template *batchv1.CronJob, conf config.ClusterConfig) *Cluster {
	return &Cluster{
		l:               logger,
		clientset:       clientset,
		namespace:       conf.Namespace,
		imagePullSecret: conf.ImagePullSecret,
		template:        template,
	}
}
