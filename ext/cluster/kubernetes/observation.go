package kubernetes

import (
	"context"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

// ListObservations returns the current view of every data job instance on the cluster
func (c *Cluster) ListObservations(ctx context.Context) ([]execution.Observation, error) {
	jobs, err := c.clientset.BatchV1().Jobs(c.namespace).List(ctx, managedSelector())
	if err != nil {
		return nil, errors.InternalError(execution.EntityCluster, "unable to list jobs", err)
	}
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, managedSelector())
	if err != nil {
		return nil, errors.InternalError(execution.EntityCluster, "unable to list pods", err)
	}

	podsByJob := map[string][]corev1.Pod{}
	for _, pod := range pods.Items {
		name := pod.Labels[podJobNameLabel]
		podsByJob[name] = append(podsByJob[name], pod)
	}

	observations := make([]execution.Observation, 0, len(jobs.Items))
	for i := range jobs.Items {
		job := &jobs.Items[i]
		observations = append(observations, observe(job, podsByJob[job.Name]))
	}
	return observations, nil
}

func observe(job *batchv1.Job, pods []corev1.Pod) execution.Observation {
	annotations := job.Annotations
	obs := execution.Observation{
		ExecutionID: job.Name,
		JobName:     job.Labels[execution.LabelJobName],
		OpID:        annotations[execution.AnnotationOpID],
		StartedBy:   annotations[execution.AnnotationStartedBy],
		Type:        instanceType(job),
		Deployment:  deploymentSnapshot(job),
	}
	if job.Status.StartTime != nil {
		start := job.Status.StartTime.Time
		obs.StartTime = &start
	}

	var reasons []string
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			succeeded := true
			obs.Succeeded = &succeeded
			obs.EndTime = endTime(job, cond)
		case batchv1.JobFailed:
			failed := false
			obs.Succeeded = &failed
			obs.EndTime = endTime(job, cond)
			if cond.Reason != "" {
				reasons = append(reasons, cond.Reason)
			}
		}
	}

	message, podReasons := terminationState(pods)
	obs.TerminationMessage = message
	obs.Reason = strings.Join(append(reasons, podReasons...), ",")
	return obs
}

func instanceType(job *batchv1.Job) execution.Type {
	switch execution.Type(job.Annotations[execution.AnnotationExecutionType]) {
	case execution.TypeManual:
		return execution.TypeManual
	case execution.TypeScheduled:
		return execution.TypeScheduled
	}
	for _, owner := range job.OwnerReferences {
		if owner.Kind == "CronJob" {
			return execution.TypeScheduled
		}
	}
	return execution.TypeFromStartedBy(job.Annotations[execution.AnnotationStartedBy])
}

func deploymentSnapshot(job *batchv1.Job) execution.DeploymentSnapshot {
	annotations := job.Annotations
	snapshot := execution.DeploymentSnapshot{
		ToolVersion:   annotations[execution.AnnotationToolVersion],
		SourceVersion: annotations[execution.AnnotationSourceVersion],
		PythonVersion: annotations[execution.AnnotationPythonVersion],
		Schedule:      annotations[execution.AnnotationSchedule],
		DeployedBy:    annotations[execution.AnnotationDeployedBy],
	}
	if deployedAt, err := time.Parse(time.RFC3339, annotations[execution.AnnotationDeployedAt]); err == nil {
		snapshot.DeployedAt = &deployedAt
	}

	containers := job.Spec.Template.Spec.Containers
	if len(containers) > 0 {
		snapshot.Image = containers[0].Image
		snapshot.Resources = fromResourceRequirements(containers[0].Resources)
	}
	return snapshot
}

func fromResourceRequirements(r corev1.ResourceRequirements) execution.Resources {
	res := execution.Resources{}
	if q, ok := r.Requests[corev1.ResourceCPU]; ok {
		res.CPURequest = q.String()
	}
	if q, ok := r.Limits[corev1.ResourceCPU]; ok {
		res.CPULimit = q.String()
	}
	if q, ok := r.Requests[corev1.ResourceMemory]; ok {
		res.MemoryRequest = q.String()
	}
	if q, ok := r.Limits[corev1.ResourceMemory]; ok {
		res.MemoryLimit = q.String()
	}
	return res
}

func endTime(job *batchv1.Job, cond batchv1.JobCondition) *time.Time {
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		return &t
	}
	if !cond.LastTransitionTime.IsZero() {
		t := cond.LastTransitionTime.Time
		return &t
	}
	return nil
}

// terminationState picks the termination message of the last terminated container
// and collects the reasons the containers were terminated with
func terminationState(pods []corev1.Pod) (string, []string) {
	var (
		message string
		latest  time.Time
		reasons []string
		seen    = map[string]struct{}{}
	)
	for _, pod := range pods {
		for _, status := range pod.Status.ContainerStatuses {
			terminated := status.State.Terminated
			if terminated == nil {
				terminated = status.LastTerminationState.Terminated
			}
			if terminated == nil {
				continue
			}
			if terminated.Reason != "" && terminated.Reason != "Completed" && terminated.Reason != "Error" {
				if _, ok := seen[terminated.Reason]; !ok {
					seen[terminated.Reason] = struct{}{}
					reasons = append(reasons, terminated.Reason)
				}
			}
			if message == "" || terminated.FinishedAt.Time.After(latest) {
				if terminated.Message != "" {
					message = terminated.Message
					latest = terminated.FinishedAt.Time
				}
			}
		}
	}
	return message, reasons
}
