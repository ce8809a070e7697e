/*
Copyright The PostgreSQL K8s Charm Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package election

import (
	"context"
	"fmt"

	"github.com/cloudnative-pg/machinery/pkg/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const (
	// ApplicationLabel selects the pods belonging to this application.
	ApplicationLabel = "juju-app"

	// RoleLabel carries the replication role of a pod. The pod-unique
	// Service for the primary selects on role=master.
	RoleLabel = "role"

	// PodLabel makes each pod addressable through its own Service.
	PodLabel = "pgcharm-pod"

	primaryLabelValue = "master"
	standbyLabelValue = "standby"
)

// KubernetesResolver determines the primary from pod labels, the same
// labels the primary Service selects on. The first expected unit
// promotes itself when no primary is labeled yet.
type KubernetesResolver struct {
	client      kubernetes.Interface
	namespace   string
	application string
	podName     string

	// firstUnit is the pod that may self-promote during initial
	// deployment, before any primary label exists.
	firstUnit string
}

// NewKubernetesResolver builds a resolver using the in-cluster API
// configuration.
func NewKubernetesResolver(namespace, application, podName, firstUnit string) (*KubernetesResolver, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("loading in-cluster configuration: %w", err)
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}
	return NewKubernetesResolverWithClient(client, namespace, application, podName, firstUnit), nil
}

// NewKubernetesResolverWithClient builds a resolver around an existing
// client. This is intended for testing.
func NewKubernetesResolverWithClient(
	client kubernetes.Interface,
	namespace, application, podName, firstUnit string,
) *KubernetesResolver {
	return &KubernetesResolver{
		client:      client,
		namespace:   namespace,
		application: application,
		podName:     podName,
		firstUnit:   firstUnit,
	}
}

// primaryPod returns the name of the pod currently labeled as primary.
func (r *KubernetesResolver) primaryPod(ctx context.Context) (string, error) {
	selector := fmt.Sprintf("%s=%s,%s=%s",
		ApplicationLabel, r.application, RoleLabel, primaryLabelValue)
	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return "", fmt.Errorf("listing primary pods: %w", err)
	}

	switch len(pods.Items) {
	case 1:
		return pods.Items[0].Name, nil
	case 0:
		if r.podName == r.firstUnit {
			// Initial deployment: the first expected unit takes
			// the primary role.
			return r.podName, nil
		}
		return "", ErrNoPrimary
	default:
		// Label removal can lag between API servers.
		log.FromContext(ctx).Warning("multiple pods labeled as primary",
			"count", len(pods.Items))
		return "", ErrNoPrimary
	}
}

// Resolve implements Resolver.
func (r *KubernetesResolver) Resolve(ctx context.Context) (Role, error) {
	primary, err := r.primaryPod(ctx)
	if err != nil {
		return "", err
	}
	if primary == r.podName {
		return RolePrimary, nil
	}
	return RoleStandby, nil
}

// PrimaryHostname implements Resolver.
func (r *KubernetesResolver) PrimaryHostname(ctx context.Context) (string, error) {
	primary, err := r.primaryPod(ctx)
	if err != nil {
		return "", err
	}
	return PodHostname(r.application, primary), nil
}

// ClaimPrimary labels this pod as the primary, removing the label from
// any other pod that still carries it.
func (r *KubernetesResolver) ClaimPrimary(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("labeling this pod as primary")

	selector := fmt.Sprintf("%s=%s,%s=%s",
		ApplicationLabel, r.application, RoleLabel, primaryLabelValue)
	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return fmt.Errorf("listing primary pods: %w", err)
	}

	alreadyLabeled := false
	for _, pod := range pods.Items {
		if pod.Name == r.podName {
			alreadyLabeled = true
			continue
		}
		contextLogger.Info("removing primary label from deposed pod", "pod", pod.Name)
		if err := r.patchRoleLabel(ctx, pod.Name, nil); err != nil {
			return err
		}
	}

	if !alreadyLabeled {
		role := primaryLabelValue
		if err := r.patchRoleLabel(ctx, r.podName, &role); err != nil {
			return err
		}
	}
	return nil
}

// MarkStandby labels this pod as a standby.
func (r *KubernetesResolver) MarkStandby(ctx context.Context) error {
	log.FromContext(ctx).Info("labeling this pod as standby")
	role := standbyLabelValue
	return r.patchRoleLabel(ctx, r.podName, &role)
}

// LabelPod applies the pod-unique label matched by this pod's Service
// selector.
func (r *KubernetesResolver) LabelPod(ctx context.Context) error {
	log.FromContext(ctx).Info("labeling pod for service discovery",
		"label", PodLabel, "value", r.podName)
	patch := fmt.Sprintf(`{"metadata":{"labels":{"%s":"%s"}}}`, PodLabel, r.podName)
	_, err := r.client.CoreV1().Pods(r.namespace).Patch(ctx, r.podName,
		types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("labeling pod %s: %w", r.podName, err)
	}
	return nil
}

// patchRoleLabel sets or, when value is nil, removes the role label.
func (r *KubernetesResolver) patchRoleLabel(ctx context.Context, podName string, value *string) error {
	patch := fmt.Sprintf(`{"metadata":{"labels":{"%s":null}}}`, RoleLabel)
	if value != nil {
		patch = fmt.Sprintf(`{"metadata":{"labels":{"%s":"%s"}}}`, RoleLabel, *value)
	}
	_, err := r.client.CoreV1().Pods(r.namespace).Patch(ctx, podName,
		types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("patching role label on %s: %w", podName, err)
	}
	return nil
}
