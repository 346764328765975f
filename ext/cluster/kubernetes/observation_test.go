package kubernetes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8stesting "k8s.io/client-go/testing"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

func podOf(jobName string, terminated *corev1.ContainerStateTerminated) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName + "-pod",
			Namespace: namespace,
			Labels: map[string]string{
				"job-name":               jobName,
				execution.LabelManagedBy: execution.ManagedByValue,
			},
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "data-job", State: corev1.ContainerState{Terminated: terminated}},
			},
		},
	}
}

func findObservation(observations []execution.Observation, id string) execution.Observation {
	for _, obs := range observations {
		if obs.ExecutionID == id {
			return obs
		}
	}
	return execution.Observation{}
}

func TestListObservations(t *testing.T) {
	ctx := context.Background()
	started := metav1.NewTime(time.Date(2023, 5, 10, 12, 0, 0, 0, time.UTC))
	completed := metav1.NewTime(time.Date(2023, 5, 10, 12, 30, 0, 0, time.UTC))

	t.Run("reports a running instance without completion flag", func(t *testing.T) {
		job := &batchv1.Job{
			ObjectMeta: managedMeta("sales-report-1683720000"),
			Status:     batchv1.JobStatus{StartTime: &started},
		}
		job.Annotations = map[string]string{
			execution.AnnotationOpID:          "op-1",
			execution.AnnotationStartedBy:     "manual/alice",
			execution.AnnotationExecutionType: "MANUAL",
			execution.AnnotationToolVersion:   "0.9.1",
			execution.AnnotationDeployedAt:    "2023-05-09T08:00:00Z",
		}
		job.Spec.Template.Spec.Containers = []corev1.Container{{Name: "data-job", Image: "registry/sales-report:1.2.0"}}
		cluster, _ := newCluster(t, job)

		observations, err := cluster.ListObservations(ctx)

		assert.Nil(t, err)
		assert.Len(t, observations, 1)
		obs := observations[0]
		assert.Equal(t, "sales-report-1683720000", obs.ExecutionID)
		assert.Equal(t, "sales-report", obs.JobName)
		assert.Equal(t, "op-1", obs.OpID)
		assert.Equal(t, execution.TypeManual, obs.Type)
		assert.Nil(t, obs.Succeeded)
		assert.Nil(t, obs.EndTime)
		assert.Equal(t, started.Time, *obs.StartTime)
		assert.Equal(t, "registry/sales-report:1.2.0", obs.Deployment.Image)
		assert.Equal(t, "0.9.1", obs.Deployment.ToolVersion)
		assert.Equal(t, time.Date(2023, 5, 9, 8, 0, 0, 0, time.UTC), *obs.Deployment.DeployedAt)
		assert.Equal(t, execution.StatusRunning, obs.Resolve().Status)
	})
	t.Run("reports completion with the termination message of the pod", func(t *testing.T) {
		job := &batchv1.Job{
			ObjectMeta: managedMeta("sales-report-1683720000"),
			Status: batchv1.JobStatus{
				StartTime:      &started,
				CompletionTime: &completed,
				Conditions: []batchv1.JobCondition{
					{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
				},
			},
		}
		pod := podOf("sales-report-1683720000", &corev1.ContainerStateTerminated{
			Reason:  "Completed",
			Message: `{"status": "SKIPPED", "toolVersion": "0.9.2"}`,
		})
		cluster, _ := newCluster(t, job, pod)

		observations, err := cluster.ListObservations(ctx)

		assert.Nil(t, err)
		obs := observations[0]
		assert.True(t, *obs.Succeeded)
		assert.Equal(t, completed.Time, *obs.EndTime)
		assert.Empty(t, obs.Reason)

		result := obs.Resolve()
		assert.Equal(t, execution.StatusSkipped, result.Status)
		assert.Equal(t, "0.9.2", result.ToolVersion)
	})
	t.Run("reports failure reasons of the job and its containers", func(t *testing.T) {
		failedAt := metav1.NewTime(time.Date(2023, 5, 10, 12, 10, 0, 0, time.UTC))
		job := &batchv1.Job{
			ObjectMeta: managedMeta("sales-report-1683720000"),
			Status: batchv1.JobStatus{
				StartTime: &started,
				Conditions: []batchv1.JobCondition{
					{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Reason: "BackoffLimitExceeded", LastTransitionTime: failedAt},
				},
			},
		}
		pod := podOf("sales-report-1683720000", &corev1.ContainerStateTerminated{
			Reason:  "OOMKilled",
			Message: "USER_ERROR",
		})
		cluster, _ := newCluster(t, job, pod)

		observations, err := cluster.ListObservations(ctx)

		assert.Nil(t, err)
		obs := observations[0]
		assert.False(t, *obs.Succeeded)
		assert.Equal(t, failedAt.Time, *obs.EndTime)
		assert.Equal(t, "BackoffLimitExceeded,OOMKilled", obs.Reason)

		result := obs.Resolve()
		assert.Equal(t, execution.StatusUserError, result.Status)
		assert.Equal(t, execution.MessageOutOfMemory, result.Message)
	})
	t.Run("reports a deadline exceeded job without termination message as user error", func(t *testing.T) {
		job := &batchv1.Job{
			ObjectMeta: managedMeta("sales-report-1683720000"),
			Status: batchv1.JobStatus{
				StartTime: &started,
				Conditions: []batchv1.JobCondition{
					{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Reason: "DeadlineExceeded", LastTransitionTime: completed},
				},
			},
		}
		pod := podOf("sales-report-1683720000", &corev1.ContainerStateTerminated{Reason: "Error"})
		cluster, _ := newCluster(t, job, pod)

		observations, err := cluster.ListObservations(ctx)

		assert.Nil(t, err)
		obs := observations[0]
		assert.False(t, *obs.Succeeded)
		assert.Equal(t, "DeadlineExceeded", obs.Reason)
		assert.Empty(t, obs.TerminationMessage)
		assert.Equal(t, execution.StatusUserError, obs.Resolve().Status)
	})
	t.Run("classifies instances owned by a cronjob as scheduled", func(t *testing.T) {
		scheduled := &batchv1.Job{ObjectMeta: managedMeta("sales-report-28063200")}
		scheduled.OwnerReferences = []metav1.OwnerReference{{Kind: "CronJob", Name: "sales-report"}}
		manual := &batchv1.Job{ObjectMeta: managedMeta("sales-report-1683720000")}
		cluster, _ := newCluster(t, scheduled, manual)

		observations, err := cluster.ListObservations(ctx)

		assert.Nil(t, err)
		assert.Equal(t, execution.TypeScheduled, findObservation(observations, "sales-report-28063200").Type)
		assert.Equal(t, execution.TypeManual, findObservation(observations, "sales-report-1683720000").Type)
	})
	t.Run("returns error when pods cannot be listed", func(t *testing.T) {
		cluster, clientset := newCluster(t)
		clientset.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewServiceUnavailable("api server is down")
		})

		_, err := cluster.ListObservations(ctx)

		assert.True(t, errors.IsErrorType(err, errors.ErrInternalError))
	})
}
