package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
)

const resync = 5 * time.Minute

// Kube lists and watches pods through the Kubernetes API of each cluster.
type Kube struct {
	clients map[string]kubernetes.Interface
	filter  Filter
	logger  zerolog.Logger
}

func NewKube(clients map[string]kubernetes.Interface, filter Filter, logger zerolog.Logger) *Kube {
	return &Kube{clients: clients, filter: filter, logger: logger}
}

// Clientsets builds one clientset per cluster.
func Clientsets(configs map[string]*rest.Config) (map[string]kubernetes.Interface, error) {
	out := make(map[string]kubernetes.Interface, len(configs))
	for name, cfg := range configs {
		cs, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("clientset for cluster %s: %w", name, err)
		}
		out[name] = cs
	}
	return out, nil
}

// Clusters returns the configured cluster names, sorted.
func (k *Kube) Clusters() []string {
	out := make([]string, 0, len(k.clients))
	for name := range k.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (k *Kube) client(cluster string) (kubernetes.Interface, error) {
	cs, ok := k.clients[cluster]
	if !ok {
		return nil, fmt.Errorf("%s: %w", cluster, proxy.ErrUnknownCluster)
	}
	return cs, nil
}

func (k *Kube) Pods(ctx context.Context, cluster, namespace, selector string) ([]grouping.PodDescriptor, error) {
	cs, err := k.client(cluster)
	if err != nil {
		return nil, err
	}
	var (
		namespaces = k.filter.namespaces(namespace)
		opts       = metav1.ListOptions{LabelSelector: selector}
		podsMu     sync.Mutex
		pods       = make([]*corev1.Pod, 0, len(namespaces)*4)
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, ns := range namespaces {
		eg.Go(func() error {
			list, err := cs.CoreV1().Pods(ns).List(egCtx, opts)
			if err != nil {
				return fmt.Errorf("list pods in %q: %w", ns, err)
			}
			podsMu.Lock()
			for i := range list.Items {
				pods = append(pods, &list.Items[i])
			}
			podsMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := curate(k.filter, pods)
	k.logger.Debug().
		Str("cluster", cluster).
		Strs("namespaces", namespaces).
		Str("selector", selector).
		Int("listed", len(pods)).
		Int("curated", len(out)).
		Msg("pods listed")
	return out, nil
}

// Watch keeps an informer on the namespace's pods and hands fn the curated
// list after the initial sync and after every add, update or delete.
func (k *Kube) Watch(ctx context.Context, cluster, namespace, selector string, fn func([]grouping.PodDescriptor)) error {
	cs, err := k.client(cluster)
	if err != nil {
		return err
	}
	if _, err := labels.Parse(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	logger := k.logger.With().Str("cluster", cluster).Str("namespace", namespace).Str("selector", selector).Logger()

	var (
		factory = informers.NewSharedInformerFactoryWithOptions(cs, resync,
			informers.WithNamespace(namespace),
			informers.WithTweakListOptions(func(o *metav1.ListOptions) { o.LabelSelector = selector }),
		)
		informer = factory.Core().V1().Pods()
		changed  = make(chan struct{}, 1)
	)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	_, err = informer.Informer().AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) { notify() },
		UpdateFunc: func(oldObj, newObj any) {
			o, ok1 := oldObj.(*corev1.Pod)
			n, ok2 := newObj.(*corev1.Pod)
			if ok1 && ok2 && o.ResourceVersion == n.ResourceVersion {
				return
			}
			notify()
		},
		DeleteFunc: func(obj any) { notify() },
	})
	if err != nil {
		return fmt.Errorf("register pod event handler: %w", err)
	}

	factory.Start(ctx.Done())
	defer factory.Shutdown()
	if !cache.WaitForNamedCacheSync("pod_log_streamer", ctx.Done(), informer.Informer().HasSynced) {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pod informer cache did not sync")
	}
	logger.Info().Msg("informer cache synced, watching pods")

	for {
		pods, err := informer.Lister().List(labels.Everything())
		if err != nil {
			return fmt.Errorf("list cached pods: %w", err)
		}
		fn(curate(k.filter, pods))

		select {
		case <-ctx.Done():
			logger.Info().Msg("stopped watching pods")
			return nil
		case <-changed:
		}
	}
}
