package app

import (
	"fmt"
	"net/url"

	"github.com/manisharma/pod-log-streamer/internal"
	"github.com/manisharma/pod-log-streamer/pkg/core/object"
	"github.com/rs/zerolog"
)

// NewService validates config and wires the log retrieval service it describes.
func NewService(config object.Config, logger zerolog.Logger) (*internal.Service, error) {
	if err := validate(config); err != nil {
		return nil, err
	}
	return internal.New(config, logger)
}

func validate(config object.Config) error {
	switch config.ProxyMode {
	case object.ProxyModeKube, object.ProxyModeNode:
	case object.ProxyModeBackend:
		u, err := url.Parse(config.BackendURL)
		if err != nil {
			return fmt.Errorf("invalid backend URL, err: %s", err.Error())
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("invalid backend URL %q, scheme and host are required", config.BackendURL)
		}
	default:
		return fmt.Errorf("invalid proxy mode %q, only 'kube', 'backend' and 'node' are supported", config.ProxyMode)
	}
	if config.ProxyMode == object.ProxyModeNode {
		if config.NodeCluster == "" {
			return fmt.Errorf("node mode needs a cluster name")
		}
		if config.PodLogDir == "" {
			return fmt.Errorf("node mode needs a pod log directory")
		}
	}
	if config.TailLines < 0 {
		return fmt.Errorf("tailLines must not be negative")
	}
	if config.MaxPods < 1 {
		return fmt.Errorf("maxPods must be at least 1")
	}
	return nil
}
