// Package directory supplies the pods of a cluster namespace, the read-only
// input of grouping and deployment sessions.
package directory

import (
	"context"
	"slices"
	"sort"

	"github.com/manisharma/pod-log-streamer/internal/grouping"
	corev1 "k8s.io/api/core/v1"
)

// defaultContainerAnnotation names the container kubectl picks when none is given.
const defaultContainerAnnotation = "kubectl.kubernetes.io/default-container"

// Lister lists pods. An empty namespace lists every namespace the filter
// admits; selector is a label selector and may be empty.
type Lister interface {
	Pods(ctx context.Context, cluster, namespace, selector string) ([]grouping.PodDescriptor, error)
}

// Watcher calls fn with the complete pod list after every change, until ctx
// is done.
type Watcher interface {
	Watch(ctx context.Context, cluster, namespace, selector string, fn func([]grouping.PodDescriptor)) error
}

// Filter curates pods by namespace and label. Empty lists admit everything.
type Filter struct {
	NamespacesToInclude []string
	NamespacesToExclude []string
	// PodLabelsToInclude holds key=value pairs; a pod must carry at least one.
	PodLabelsToInclude []string
}

// Curated reports whether a pod in namespace with labels passes the filter.
func (f Filter) Curated(namespace string, labels map[string]string) bool {
	if len(f.NamespacesToExclude) > 0 && slices.Contains(f.NamespacesToExclude, namespace) {
		return false
	}
	if len(f.NamespacesToInclude) > 0 && !slices.Contains(f.NamespacesToInclude, namespace) {
		return false
	}
	if len(f.PodLabelsToInclude) > 0 {
		for key, value := range labels {
			if slices.Contains(f.PodLabelsToInclude, key+"="+value) {
				return true
			}
		}
		return false
	}
	return true
}

// namespaces resolves the namespaces to query for a request.
func (f Filter) namespaces(namespace string) []string {
	if namespace != "" {
		return []string{namespace}
	}
	if len(f.NamespacesToInclude) > 0 {
		return f.NamespacesToInclude
	}
	return []string{corev1.NamespaceAll}
}

// Describe converts a pod into its descriptor.
func Describe(pod *corev1.Pod) grouping.PodDescriptor {
	d := grouping.PodDescriptor{
		Name:          pod.Name,
		Namespace:     pod.Namespace,
		Status:        string(pod.Status.Phase),
		ContainerName: defaultContainer(pod),
	}
	for _, ref := range pod.OwnerReferences {
		d.OwnerReferences = append(d.OwnerReferences, grouping.OwnerRef{Kind: ref.Kind, Name: ref.Name})
	}
	if len(pod.Labels) > 0 {
		d.Labels = make(map[string]string, len(pod.Labels))
		for k, v := range pod.Labels {
			d.Labels[k] = v
		}
	}
	return d
}

func defaultContainer(pod *corev1.Pod) string {
	if name := pod.Annotations[defaultContainerAnnotation]; name != "" {
		return name
	}
	if len(pod.Spec.Containers) > 0 {
		return pod.Spec.Containers[0].Name
	}
	return ""
}

// curate filters pods and orders them by namespace then name.
func curate(filter Filter, pods []*corev1.Pod) []grouping.PodDescriptor {
	out := make([]grouping.PodDescriptor, 0, len(pods))
	for _, pod := range pods {
		if pod == nil || !filter.Curated(pod.Namespace, pod.Labels) {
			continue
		}
		out = append(out, Describe(pod))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}
