// Package proxy forwards Kubernetes API requests to a named cluster.
//
// Implementations return the cluster's HTTP response as is, including non-2xx
// responses; only transport failures are returned as errors. The context is
// the request's abort signal and, for streamed bodies, bounds the body too.
package proxy

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnknownCluster is returned when no cluster is configured under the given name.
var ErrUnknownCluster = errors.New("unknown cluster")

// Client is the Cluster Proxy Client.
type Client interface {
	Proxy(ctx context.Context, clusterName, path string) (*http.Response, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, clusterName, path string) (*http.Response, error)

func (f Func) Proxy(ctx context.Context, clusterName, path string) (*http.Response, error) {
	return f(ctx, clusterName, path)
}
