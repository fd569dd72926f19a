package object

const (
	ProxyModeKube    = "kube"
	ProxyModeBackend = "backend"
	ProxyModeNode    = "node"
)

type Config struct {
	// ProxyMode picks how cluster API calls are made: kube, backend or node.
	ProxyMode string `mapstructure:"proxyMode"`
	// Kubeconfig overrides the default kubeconfig loading rules.
	Kubeconfig string `mapstructure:"kubeconfig"`
	// Clusters maps a cluster name to a kubeconfig context. Empty exposes every context.
	Clusters    map[string]string `mapstructure:"clusters"`
	BackendURL  string            `mapstructure:"backendURL"`
	AuthToken   string            `mapstructure:"authToken"`
	NodeCluster string            `mapstructure:"nodeCluster"`
	PodLogDir   string            `mapstructure:"podLogDir"`

	NamespacesToInclude SliceFlag `mapstructure:"namespacesToInclude"`
	NamespacesToExclude SliceFlag `mapstructure:"namespacesToExclude"`
	PodLabelsToInclude  SliceFlag `mapstructure:"podLabelsToInclude"`

	TailLines  int    `mapstructure:"tailLines"`
	Timestamps bool   `mapstructure:"timestamps"`
	MaxPods    int    `mapstructure:"maxPods"`
	ListenAddr string `mapstructure:"listenAddr"`
	LogLevel   string `mapstructure:"logLevel"`
}

// Defaults returns a Config with every default applied.
func Defaults() Config {
	return Config{
		ProxyMode:   ProxyModeKube,
		NodeCluster: "local",
		PodLogDir:   "/var/log/pods",
		TailLines:   1000,
		Timestamps:  true,
		MaxPods:     10,
		ListenAddr:  ":8080",
		LogLevel:    "info",
	}
}
