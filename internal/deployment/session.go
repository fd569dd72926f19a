// Package deployment aggregates the logs of the pods backing one workload.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/podlogs"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
)

// DefaultMaxPods bounds a session when Config.MaxPods is not set.
const DefaultMaxPods = 10

// ErrUnknownPod is returned by FetchOne for pods outside the session.
var ErrUnknownPod = errors.New("pod is not part of this session")

type Config struct {
	ClusterName string
	Namespace   string
	Follow      bool
	Timestamps  bool
	TailLines   int
	MaxPods     int
}

// Snapshot is a point-in-time copy of every fetched pod's state, keyed by pod
// name. Errors only holds pods whose last fetch failed.
type Snapshot struct {
	LogsData map[string]string `json:"logs"`
	Loading  map[string]bool   `json:"loading"`
	Errors   map[string]string `json:"errors"`
}

// Session fetches the logs of at most MaxPods pods, each independently.
type Session struct {
	cfg     Config
	pods    []grouping.PodDescriptor
	index   map[string]int
	dropped int
	fetcher *podlogs.Fetcher
	logger  zerolog.Logger

	mu sync.Mutex
	// every fetch not yet known to be finished, superseded ones included
	handles map[*podlogs.Handle]struct{}
}

// NewSession keeps the first cfg.MaxPods pods in input order; the rest are
// never fetched. opts are passed to the underlying fetcher.
func NewSession(client proxy.Client, cfg Config, pods []grouping.PodDescriptor, logger zerolog.Logger, opts ...podlogs.Option) *Session {
	if cfg.MaxPods < 1 {
		cfg.MaxPods = DefaultMaxPods
	}
	kept := pods
	if len(kept) > cfg.MaxPods {
		kept = kept[:cfg.MaxPods]
	}
	s := &Session{
		cfg:     cfg,
		pods:    append([]grouping.PodDescriptor(nil), kept...),
		index:   make(map[string]int, len(kept)),
		dropped: len(pods) - len(kept),
		logger: logger.With().
			Str("cluster", cfg.ClusterName).
			Str("namespace", cfg.Namespace).
			Logger(),
		handles: make(map[*podlogs.Handle]struct{}, len(kept)),
	}
	for i, pod := range s.pods {
		s.index[pod.Name] = i
	}
	s.fetcher = podlogs.NewFetcher(client, s.logger, opts...)
	if s.dropped > 0 {
		s.logger.Debug().Int("maxPods", cfg.MaxPods).Int("dropped", s.dropped).Msg("pod set truncated")
	}
	return s
}

// Pods returns the bounded pod set in input order.
func (s *Session) Pods() []grouping.PodDescriptor {
	return append([]grouping.PodDescriptor(nil), s.pods...)
}

// Dropped is the number of input pods beyond MaxPods.
func (s *Session) Dropped() int { return s.dropped }

// FetchAll (re)starts a fetch for every pod. Fetches still in flight are
// superseded.
func (s *Session) FetchAll(ctx context.Context) {
	for _, pod := range s.pods {
		s.fetch(ctx, pod)
	}
}

// FetchOne (re)starts the fetch of a single pod.
func (s *Session) FetchOne(ctx context.Context, podName string) error {
	i, ok := s.index[podName]
	if !ok {
		return fmt.Errorf("%s: %w", podName, ErrUnknownPod)
	}
	s.fetch(ctx, s.pods[i])
	return nil
}

func (s *Session) fetch(ctx context.Context, pod grouping.PodDescriptor) {
	h := s.fetcher.Fetch(ctx, podlogs.Request{
		ClusterName:   s.cfg.ClusterName,
		Namespace:     s.cfg.Namespace,
		PodName:       pod.Name,
		ContainerName: pod.ContainerName,
		Follow:        s.cfg.Follow,
		Timestamps:    s.cfg.Timestamps,
		TailLines:     s.cfg.TailLines,
	})
	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()
}

// Cancel silently stops the pod's fetch.
func (s *Session) Cancel(podName string) {
	s.fetcher.Cancel(podName)
}

// Snapshot copies the state of every pod fetched so far.
func (s *Session) Snapshot() Snapshot {
	states := s.fetcher.States()
	snap := Snapshot{
		LogsData: make(map[string]string, len(states)),
		Loading:  make(map[string]bool, len(states)),
		Errors:   make(map[string]string),
	}
	for pod, st := range states {
		snap.LogsData[pod] = st.Logs
		snap.Loading[pod] = st.Loading
		if st.Err != "" {
			snap.Errors[pod] = st.Err
		}
	}
	return snap
}

// Wait blocks until every fetch started so far has finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	for _, h := range s.outstanding() {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close cancels every fetch and waits for them to let go of the network.
func (s *Session) Close() {
	s.fetcher.Close()
	for _, h := range s.outstanding() {
		<-h.Done()
	}
	s.logger.Debug().Msg("session closed")
}

// outstanding drops finished handles and returns the rest.
func (s *Session) outstanding() []*podlogs.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*podlogs.Handle, 0, len(s.handles))
	for h := range s.handles {
		select {
		case <-h.Done():
			delete(s.handles, h)
		default:
			out = append(out, h)
		}
	}
	return out
}

// Export writes the session's logs in session order.
func (s *Session) Export(w io.Writer) error {
	return Export(w, s.pods, s.Snapshot().LogsData)
}

// Export writes the logs of every pod in order, each under a header naming
// the pod and its status.
func Export(w io.Writer, pods []grouping.PodDescriptor, logs map[string]string) error {
	rule := strings.Repeat("=", 80)
	parts := make([]string, 0, len(pods))
	for _, pod := range pods {
		status := pod.Status
		if status == "" {
			status = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("%s\nPOD: %s\nSTATUS: %s\n%s\n\n%s\n\n", rule, pod.Name, status, rule, logs[pod.Name]))
	}
	_, err := io.WriteString(w, strings.Join(parts, "\n"))
	return err
}
