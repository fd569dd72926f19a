package proxy

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type kubeCluster struct {
	baseURL    string
	httpClient *http.Client
}

// KubeClient talks to each cluster's API server directly, authenticated with
// the credentials of its kubeconfig context.
type KubeClient struct {
	clusters map[string]kubeCluster
	logger   zerolog.Logger
}

// RESTConfigs resolves one rest.Config per logical cluster. clusters maps a
// cluster name to a kubeconfig context; when empty every context is exposed
// under its own name.
func RESTConfigs(kubeconfigPath string, clusters map[string]string) (map[string]*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		expanded, err := homedir.Expand(kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("expand kubeconfig path: %w", err)
		}
		loadingRules.Precedence = []string{filepath.Clean(expanded)}
	}
	raw, err := loadingRules.Load()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	if len(clusters) == 0 {
		clusters = make(map[string]string, len(raw.Contexts))
		for name := range raw.Contexts {
			clusters[name] = name
		}
	}
	configs := make(map[string]*rest.Config, len(clusters))
	for name, contextName := range clusters {
		if _, ok := raw.Contexts[contextName]; !ok {
			return nil, fmt.Errorf("cluster %q: kubeconfig context %q not found", name, contextName)
		}
		cfg, err := clientcmd.NewNonInteractiveClientConfig(*raw, contextName, &clientcmd.ConfigOverrides{}, loadingRules).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("cluster %q: build rest config: %w", name, err)
		}
		rest.SetDefaultWarningHandler(rest.NoWarnings{})
		configs[name] = cfg
	}
	return configs, nil
}

// NewKubeClient builds an authenticated transport per cluster.
func NewKubeClient(configs map[string]*rest.Config, logger zerolog.Logger) (*KubeClient, error) {
	k := &KubeClient{clusters: make(map[string]kubeCluster, len(configs)), logger: logger}
	for name, cfg := range configs {
		u, _, err := rest.DefaultServerUrlFor(cfg)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: server url: %w", name, err)
		}
		// log streams outlive any request timeout
		streamCfg := rest.CopyConfig(cfg)
		streamCfg.Timeout = 0
		hc, err := rest.HTTPClientFor(streamCfg)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: http client: %w", name, err)
		}
		k.clusters[name] = kubeCluster{baseURL: strings.TrimRight(u.String(), "/"), httpClient: hc}
	}
	return k, nil
}

// Clusters lists the configured cluster names.
func (k *KubeClient) Clusters() []string {
	names := make([]string, 0, len(k.clusters))
	for name := range k.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (k *KubeClient) Proxy(ctx context.Context, clusterName, path string) (*http.Response, error) {
	c, ok := k.clusters[clusterName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCluster, clusterName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build cluster request: %w", err)
	}
	k.logger.Debug().Str("cluster", clusterName).Str("path", path).Msg("calling cluster api")
	return c.httpClient.Do(req)
}
