package kubernetes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	_ "embed"

	"github.com/spf13/afero"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"

	"github.com/odpf/datajobs/core/execution"
	"github.com/odpf/datajobs/internal/errors"
)

//go:embed resources/base_cronjob.yaml
var baseCronJob []byte

// LoadTemplate reads the cronjob manifest every data job is rendered from,
// the embedded manifest is used when path is empty
func LoadTemplate(fs afero.Fs, path string) (*batchv1.CronJob, error) {
	raw := baseCronJob
	if path != "" {
		content, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("unable to read cronjob template %s: %w", path, err)
		}
		raw = content
	}
	return decodeCronJob(raw)
}

func decodeCronJob(raw []byte) (*batchv1.CronJob, error) {
	obj, _, err := scheme.Codecs.UniversalDeserializer().Decode(raw, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to decode cronjob template: %w", err)
	}
	cronJob, ok := obj.(*batchv1.CronJob)
	if !ok {
		return nil, fmt.Errorf("cronjob template decoded into %T, expected a batch/v1 CronJob", obj)
	}
	if len(cronJob.Spec.JobTemplate.Spec.Template.Spec.Containers) == 0 {
		return nil, fmt.Errorf("cronjob template has no containers")
	}
	return cronJob, nil
}

func (c *Cluster) renderCronJob(spec execution.TemplateSpec) (*batchv1.CronJob, error) {
	if spec.Name == "" {
		return nil, errors.InvalidArgument(execution.EntityCluster, "template name is empty")
	}
	resources, err := toResourceRequirements(spec.Resources)
	if err != nil {
		return nil, errors.InvalidArgument(execution.EntityCluster, fmt.Sprintf("invalid resources for %s: %s", spec.Name, err))
	}

	labels := jobLabels(spec.Name, spec.Team)
	cronJob := c.template.DeepCopy()
	cronJob.ObjectMeta = metav1.ObjectMeta{
		Name:        spec.Name,
		Namespace:   c.namespace,
		Labels:      mergeMaps(c.template.Labels, labels),
		Annotations: mergeMaps(c.template.Annotations, spec.Annotations),
	}
	cronJob.Spec.Schedule = spec.Schedule
	suspend := !spec.Enabled
	cronJob.Spec.Suspend = &suspend

	jobTemplate := &cronJob.Spec.JobTemplate
	jobTemplate.Labels = mergeMaps(jobTemplate.Labels, labels)
	jobTemplate.Annotations = mergeMaps(jobTemplate.Annotations, spec.Annotations)

	podTemplate := &jobTemplate.Spec.Template
	podTemplate.Labels = mergeMaps(podTemplate.Labels, labels)
	if c.imagePullSecret != "" {
		podTemplate.Spec.ImagePullSecrets = append(podTemplate.Spec.ImagePullSecrets,
			corev1.LocalObjectReference{Name: c.imagePullSecret})
	}

	container := &podTemplate.Spec.Containers[0]
	container.Image = spec.Image
	container.Env = append(container.Env, toEnvVars(spec.Env)...)
	container.Resources = resources
	// the termination message carries the status written by the job, never the log tail
	container.TerminationMessagePolicy = corev1.TerminationMessageReadFile

	hash, err := templateHash(cronJob)
	if err != nil {
		return nil, errors.InternalError(execution.EntityCluster, "unable to hash template "+spec.Name, err)
	}
	cronJob.Annotations[execution.AnnotationTemplateHash] = hash
	return cronJob, nil
}

// templateHash identifies the rendered content, the deploy time alone does not make a template differ
func templateHash(cronJob *batchv1.CronJob) (string, error) {
	canonical := cronJob.DeepCopy()
	for _, meta := range []*metav1.ObjectMeta{&canonical.ObjectMeta, &canonical.Spec.JobTemplate.ObjectMeta} {
		delete(meta.Annotations, execution.AnnotationDeployedAt)
		delete(meta.Annotations, execution.AnnotationTemplateHash)
	}

	content, err := json.Marshal(struct {
		Labels      map[string]string   `json:"labels"`
		Annotations map[string]string   `json:"annotations"`
		Spec        batchv1.CronJobSpec `json:"spec"`
	}{
		Labels:      canonical.Labels,
		Annotations: canonical.Annotations,
		Spec:        canonical.Spec,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

func jobLabels(jobName, team string) map[string]string {
	labels := map[string]string{
		execution.LabelJobName:   jobName,
		execution.LabelManagedBy: execution.ManagedByValue,
	}
	if team != "" {
		labels[execution.LabelTeam] = team
	}
	return labels
}

func toResourceRequirements(r execution.Resources) (corev1.ResourceRequirements, error) {
	requirements := corev1.ResourceRequirements{}
	quantities := []struct {
		value string
		name  corev1.ResourceName
		limit bool
	}{
		{r.CPURequest, corev1.ResourceCPU, false},
		{r.CPULimit, corev1.ResourceCPU, true},
		{r.MemoryRequest, corev1.ResourceMemory, false},
		{r.MemoryLimit, corev1.ResourceMemory, true},
	}
	for _, q := range quantities {
		if q.value == "" {
			continue
		}
		quantity, err := resource.ParseQuantity(q.value)
		if err != nil {
			return requirements, fmt.Errorf("%s %q: %w", q.name, q.value, err)
		}
		if q.limit {
			if requirements.Limits == nil {
				requirements.Limits = corev1.ResourceList{}
			}
			requirements.Limits[q.name] = quantity
		} else {
			if requirements.Requests == nil {
				requirements.Requests = corev1.ResourceList{}
			}
			requirements.Requests[q.name] = quantity
		}
	}
	return requirements, nil
}

// toEnvVars sorts by name so that equal maps render equal templates
func toEnvVars(env map[string]string) []corev1.EnvVar {
	keys := sortedKeys(env)
	vars := make([]corev1.EnvVar, 0, len(keys))
	for _, key := range keys {
		vars = append(vars, corev1.EnvVar{Name: key, Value: env[key]})
	}
	return vars
}

func toArgs(args map[string]string) []string {
	keys := sortedKeys(args)
	rendered := make([]string, 0, len(keys))
	for _, key := range keys {
		rendered = append(rendered, fmt.Sprintf("--%s=%s", key, args[key]))
	}
	return rendered
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func mergeMaps(base map[string]string, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		merged[k] = v
	}
	return merged
}
