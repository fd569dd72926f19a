package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/manisharma/pod-log-streamer/internal/deployment"
	"github.com/manisharma/pod-log-streamer/internal/directory"
	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/podlogs"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/manisharma/pod-log-streamer/pkg/core/object"
	"github.com/rs/zerolog"
	"k8s.io/client-go/rest"
)

var serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Service is the log retrieval surface: pod logs, deployment logs and pod
// groups of the configured clusters.
type Service struct {
	cfg    object.Config
	client proxy.Client
	pods   directory.Lister
	logger zerolog.Logger
}

func NewService(cfg object.Config, client proxy.Client, pods directory.Lister, logger zerolog.Logger) *Service {
	return &Service{cfg: cfg, client: client, pods: pods, logger: logger}
}

// New wires the proxy client and pod directory the configured proxy mode calls for.
func New(cfg object.Config, logger zerolog.Logger) (*Service, error) {
	filter := directory.Filter{
		NamespacesToInclude: cfg.NamespacesToInclude.Items(),
		NamespacesToExclude: cfg.NamespacesToExclude.Items(),
		PodLabelsToInclude:  cfg.PodLabelsToInclude.Items(),
	}
	switch cfg.ProxyMode {
	case object.ProxyModeBackend:
		client, err := proxy.NewBackendClient(cfg.BackendURL, cfg.AuthToken, &http.Client{}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("backendURL", cfg.BackendURL).Msg("proxying through backend")
		return NewService(cfg, client, directory.NewProxy(client, filter, logger), logger), nil

	case object.ProxyModeNode:
		configs, err := nodeConfigs(cfg)
		if err != nil {
			return nil, err
		}
		clientsets, err := directory.Clientsets(configs)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("cluster", cfg.NodeCluster).Str("podLogDir", cfg.PodLogDir).Msg("serving kubelet log files")
		client := proxy.NewNodeClient(cfg.NodeCluster, cfg.PodLogDir, logger)
		return NewService(cfg, client, directory.NewKube(clientsets, filter, logger), logger), nil

	default:
		configs, err := proxy.RESTConfigs(cfg.Kubeconfig, cfg.Clusters)
		if err != nil {
			return nil, err
		}
		client, err := proxy.NewKubeClient(configs, logger)
		if err != nil {
			return nil, err
		}
		clientsets, err := directory.Clientsets(configs)
		if err != nil {
			return nil, err
		}
		logger.Info().Strs("clusters", client.Clusters()).Msg("talking to api servers")
		return NewService(cfg, client, directory.NewKube(clientsets, filter, logger), logger), nil
	}
}

// nodeConfigs prefers the in-cluster service account and falls back to the
// kubeconfig context mapped to the node's cluster.
func nodeConfigs(cfg object.Config) (map[string]*rest.Config, error) {
	if _, err := os.Stat(serviceAccountTokenPath); err == nil {
		rc, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		return map[string]*rest.Config{cfg.NodeCluster: rc}, nil
	}
	configs, err := proxy.RESTConfigs(cfg.Kubeconfig, cfg.Clusters)
	if err != nil {
		return nil, err
	}
	rc, ok := configs[cfg.NodeCluster]
	if !ok {
		return nil, fmt.Errorf("no kubeconfig context for node cluster %q", cfg.NodeCluster)
	}
	return map[string]*rest.Config{cfg.NodeCluster: rc}, nil
}

func (s *Service) request(opts PodLogsOptions, follow bool) podlogs.Request {
	return podlogs.Request{
		ClusterName:   opts.ClusterName,
		Namespace:     opts.Namespace,
		PodName:       opts.PodName,
		ContainerName: opts.ContainerName,
		Follow:        follow,
		Timestamps:    s.timestamps(opts.Timestamps),
		TailLines:     s.tailLines(opts.TailLines),
	}
}

func (s *Service) timestamps(v *bool) bool {
	if v != nil {
		return *v
	}
	return s.cfg.Timestamps
}

func (s *Service) tailLines(v *int) int {
	if v != nil {
		return *v
	}
	return s.cfg.TailLines
}

// GetPodLogs reads the pod's logs once.
func (s *Service) GetPodLogs(ctx context.Context, opts PodLogsOptions) (string, error) {
	f := podlogs.NewFetcher(s.client, s.logger)
	defer f.Close()
	st := f.Fetch(ctx, s.request(opts, false)).Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if st.Err != "" {
		return st.Logs, &PodError{Pod: opts.PodName, Message: st.Err}
	}
	return st.Logs, nil
}

// StreamPodLogs follows the pod's logs, handing every decoded chunk to onChunk
// in arrival order. It returns nil when the stream ends or ctx is cancelled.
func (s *Service) StreamPodLogs(ctx context.Context, opts PodLogsOptions, onChunk func(string)) error {
	f := podlogs.NewFetcher(s.client, s.logger, podlogs.WithObserver(func(ev podlogs.Event) {
		if ev.Kind == podlogs.EventChunk {
			onChunk(ev.Chunk)
		}
	}))
	defer f.Close()
	st := f.Fetch(ctx, s.request(opts, true)).Wait()
	if st.Err != "" {
		return &PodError{Pod: opts.PodName, Message: st.Err}
	}
	return nil
}

// session resolves the deployment's pods and opens a session over them.
func (s *Service) session(ctx context.Context, opts DeploymentLogsOptions, follow bool, fetchOpts ...podlogs.Option) (*deployment.Session, error) {
	pods, err := s.pods.Pods(ctx, opts.ClusterName, opts.Namespace, opts.Selector)
	if err != nil {
		return nil, err
	}
	group, ok := grouping.Build(pods)[opts.DeploymentName]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", opts.Namespace, opts.DeploymentName, ErrDeploymentNotFound)
	}
	maxPods := opts.MaxPods
	if maxPods < 1 {
		maxPods = s.cfg.MaxPods
	}
	cfg := deployment.Config{
		ClusterName: opts.ClusterName,
		Namespace:   opts.Namespace,
		Follow:      follow,
		Timestamps:  s.timestamps(opts.Timestamps),
		TailLines:   s.tailLines(opts.TailLines),
		MaxPods:     maxPods,
	}
	logger := s.logger.With().Str("deployment", opts.DeploymentName).Logger()
	return deployment.NewSession(s.client, cfg, group.Pods, logger, fetchOpts...), nil
}

// GetDeploymentLogs reads the logs of every pod of the deployment once. A pod
// that fails is reported in Errors without failing the others.
func (s *Service) GetDeploymentLogs(ctx context.Context, opts DeploymentLogsOptions) (*DeploymentLogs, error) {
	session, err := s.session(ctx, opts, false)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	session.FetchAll(ctx)
	if err := session.Wait(ctx); err != nil {
		return nil, err
	}
	snap := session.Snapshot()
	return &DeploymentLogs{
		Pods:    session.Pods(),
		Logs:    snap.LogsData,
		Errors:  snap.Errors,
		Dropped: session.Dropped(),
	}, nil
}

// StreamDeploymentLogs follows every pod of the deployment, handing chunks to
// onChunk as they arrive. Chunks of one pod keep their order; chunks of
// different pods interleave freely. It returns once every stream ended or ctx
// is cancelled, joining the errors of the pods that failed.
func (s *Service) StreamDeploymentLogs(ctx context.Context, opts DeploymentLogsOptions, onChunk func(pod, chunk string)) error {
	session, err := s.session(ctx, opts, true, podlogs.WithObserver(func(ev podlogs.Event) {
		if ev.Kind == podlogs.EventChunk {
			onChunk(ev.Pod, ev.Chunk)
		}
	}))
	if err != nil {
		return err
	}
	defer session.Close()

	session.FetchAll(ctx)
	if err := session.Wait(ctx); err != nil {
		return nil
	}
	var errs []error
	snap := session.Snapshot()
	for _, pod := range session.Pods() {
		if msg, ok := snap.Errors[pod.Name]; ok {
			errs = append(errs, &PodError{Pod: pod.Name, Message: msg})
		}
	}
	return errors.Join(errs...)
}

// Groups lists the pods of a namespace and groups them, ordered by key.
func (s *Service) Groups(ctx context.Context, cluster, namespace, selector string) ([]*grouping.Group, error) {
	pods, err := s.pods.Pods(ctx, cluster, namespace, selector)
	if err != nil {
		return nil, err
	}
	return grouping.Sorted(grouping.Build(pods)), nil
}

// WatchGroups regroups the namespace's pods on every change and hands the
// result to fn, until ctx is done.
func (s *Service) WatchGroups(ctx context.Context, cluster, namespace, selector string, fn func([]*grouping.Group)) error {
	w, ok := s.pods.(directory.Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, cluster, namespace, selector, func(pods []grouping.PodDescriptor) {
		fn(grouping.Sorted(grouping.Build(pods)))
	})
}
