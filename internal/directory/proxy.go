package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
)

// Proxy lists pods through a cluster proxy client, for deployments where
// only the proxy can reach the clusters.
type Proxy struct {
	client proxy.Client
	filter Filter
	logger zerolog.Logger
}

func NewProxy(client proxy.Client, filter Filter, logger zerolog.Logger) *Proxy {
	return &Proxy{client: client, filter: filter, logger: logger}
}

func (p *Proxy) Pods(ctx context.Context, cluster, namespace, selector string) ([]grouping.PodDescriptor, error) {
	var (
		namespaces = p.filter.namespaces(namespace)
		lists      = make([]*corev1.PodList, len(namespaces))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for i, ns := range namespaces {
		eg.Go(func() error {
			list, err := p.list(egCtx, cluster, ns, selector)
			if err != nil {
				return err
			}
			lists[i] = list
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	var pods []*corev1.Pod
	for _, list := range lists {
		for i := range list.Items {
			pods = append(pods, &list.Items[i])
		}
	}
	out := curate(p.filter, pods)
	p.logger.Debug().Str("cluster", cluster).Strs("namespaces", namespaces).Int("curated", len(out)).Msg("pods listed")
	return out, nil
}

func (p *Proxy) list(ctx context.Context, cluster, namespace, selector string) (*corev1.PodList, error) {
	path := "/api/v1/pods"
	if namespace != "" {
		path = "/api/v1/namespaces/" + url.PathEscape(namespace) + "/pods"
	}
	if selector != "" {
		path += "?" + url.Values{"labelSelector": {selector}}.Encode()
	}
	resp, err := p.client.Proxy(ctx, cluster, path)
	if err != nil {
		return nil, fmt.Errorf("list pods in %q: %w", namespace, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("list pods in %q: %s: %s", namespace, resp.Status, strings.TrimSpace(string(body)))
	}
	var list corev1.PodList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode pod list: %w", err)
	}
	return &list, nil
}
