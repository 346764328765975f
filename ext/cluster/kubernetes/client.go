package kubernetes

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientset prefers the in-cluster service account and falls back to the
// given kubeconfig file when the service runs outside of the cluster.
func NewClientset(kubeConfig string) (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		if kubeConfig == "" {
			return nil, fmt.Errorf("not running in cluster and no kubeconfig configured: %w", err)
		}
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config from %s: %w", kubeConfig, err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return clientset, nil
}
