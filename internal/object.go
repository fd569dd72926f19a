package internal

import (
	"errors"

	"github.com/manisharma/pod-log-streamer/internal/grouping"
)

var (
	// ErrDeploymentNotFound is returned when no pod group carries the requested name.
	ErrDeploymentNotFound = errors.New("deployment not found")
	// ErrWatchUnsupported is returned by WatchGroups when the pod directory cannot watch.
	ErrWatchUnsupported = errors.New("pod directory does not support watching")
)

// PodLogsOptions selects the logs of one pod. Nil Timestamps and TailLines
// fall back to the configured defaults.
type PodLogsOptions struct {
	ClusterName   string
	Namespace     string
	PodName       string
	ContainerName string
	Timestamps    *bool
	TailLines     *int
}

// DeploymentLogsOptions selects the logs of the pods grouped under DeploymentName.
type DeploymentLogsOptions struct {
	ClusterName    string
	Namespace      string
	DeploymentName string
	// Selector narrows the pods listed before grouping.
	Selector   string
	Timestamps *bool
	TailLines  *int
	MaxPods    int
}

type DeploymentLogs struct {
	Pods    []grouping.PodDescriptor `json:"pods"`
	Logs    map[string]string        `json:"logs"`
	Errors  map[string]string        `json:"errors"`
	Dropped int                      `json:"dropped"`
}

// PodError is the failed fetch of one pod.
type PodError struct {
	Pod     string
	Message string
}

func (e *PodError) Error() string {
	return e.Pod + ": " + e.Message
}
