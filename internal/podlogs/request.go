// Package podlogs fetches and streams the logs of a single pod container.
package podlogs

import (
	"net/url"
	"strconv"
)

// Request identifies one log fetch. A new Request for the same PodName
// supersedes any fetch still in flight for that pod.
type Request struct {
	ClusterName   string
	Namespace     string
	PodName       string
	ContainerName string
	Follow        bool
	Timestamps    bool
	TailLines     int
}

// Path is the pod log resource path, query included.
func (r Request) Path() string {
	q := url.Values{}
	q.Set("timestamps", strconv.FormatBool(r.Timestamps))
	q.Set("tailLines", strconv.Itoa(r.TailLines))
	if r.ContainerName != "" {
		q.Set("container", r.ContainerName)
	}
	if r.Follow {
		q.Set("follow", "true")
	}
	return "/api/v1/namespaces/" + url.PathEscape(r.Namespace) +
		"/pods/" + url.PathEscape(r.PodName) + "/log?" + q.Encode()
}

// State is a snapshot of one pod's fetch. An empty Err means no error.
type State struct {
	Logs    string `json:"logs"`
	Loading bool   `json:"loading"`
	Err     string `json:"error,omitempty"`
}

// EventKind names a transition of the fetch state machine.
type EventKind int

const (
	EventStarted EventKind = iota
	EventChunk
	EventCompleted
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventChunk:
		return "chunk"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after every applied transition. Chunk is
// only set for EventChunk.
type Event struct {
	Pod   string
	Kind  EventKind
	Chunk string
	State State
}
