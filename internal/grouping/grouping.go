// Package grouping derives logical applications from a flat list of pods.
//
// A pod controlled by a ReplicaSet is grouped under its Deployment, whose name
// is recovered by dropping the ReplicaSet's pod-template-hash suffix. Pods
// controlled by anything else are grouped under their owner's name. Pods with
// no owner fall back to the "app" label, then "app.kubernetes.io/name", then
// the shared "standalone" group.
package grouping

import (
	"sort"
	"strings"
)

// Kind classifies a group.
type Kind string

const (
	KindDeployment Kind = "Deployment"
	KindStandalone Kind = "standalone"

	// StandaloneKey is the group key of pods that carry neither an owner nor an app label.
	StandaloneKey = "standalone"

	replicaSetKind = "ReplicaSet"
)

var appLabels = []string{"app", "app.kubernetes.io/name"}

// OwnerRef is a backward link from a pod to the resource that created it.
type OwnerRef struct {
	Kind string `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

// PodDescriptor is a read-only snapshot of a pod supplied by the entity directory.
type PodDescriptor struct {
	Name            string            `json:"name" yaml:"name"`
	Namespace       string            `json:"namespace" yaml:"namespace"`
	Status          string            `json:"status,omitempty" yaml:"status,omitempty"`
	ContainerName   string            `json:"containerName,omitempty" yaml:"containerName,omitempty"`
	OwnerReferences []OwnerRef        `json:"ownerReferences,omitempty" yaml:"ownerReferences,omitempty"`
	Labels          map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Group is a view artifact; it is rebuilt on every call to Build.
type Group struct {
	Key  string          `json:"groupKey" yaml:"groupKey"`
	Kind Kind            `json:"kind" yaml:"kind"`
	Pods []PodDescriptor `json:"pods" yaml:"pods"`
}

// Build assigns every pod to exactly one group. Pods keep their input order
// inside a group. An owner-derived kind wins over a label-derived one, so the
// kind of a shared key does not depend on input order.
func Build(pods []PodDescriptor) map[string]*Group {
	groups := make(map[string]*Group)
	for _, pod := range pods {
		key, kind := Classify(pod)
		g, ok := groups[key]
		if !ok {
			g = &Group{Key: key, Kind: kind}
			groups[key] = g
		} else if g.Kind == KindStandalone && kind != KindStandalone {
			g.Kind = kind
		}
		g.Pods = append(g.Pods, pod)
	}
	return groups
}

// Sorted returns the groups ordered by key.
func Sorted(groups map[string]*Group) []*Group {
	out := make([]*Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Classify returns the group key and kind of a single pod.
func Classify(pod PodDescriptor) (string, Kind) {
	if len(pod.OwnerReferences) > 0 {
		owner := pod.OwnerReferences[0]
		if owner.Kind == replicaSetKind {
			return DeploymentName(owner.Name), KindDeployment
		}
		return owner.Name, Kind(owner.Kind)
	}
	for _, label := range appLabels {
		if v := pod.Labels[label]; v != "" {
			return v, KindStandalone
		}
	}
	return StandaloneKey, KindStandalone
}

// DeploymentName strips the last hyphen-delimited segment of a ReplicaSet
// name. Names without a hyphen are returned verbatim.
//
// This is a heuristic: it assumes the last segment is the pod-template-hash.
func DeploymentName(replicaSet string) string {
	i := strings.LastIndex(replicaSet, "-")
	if i <= 0 {
		return replicaSet
	}
	return replicaSet[:i]
}
