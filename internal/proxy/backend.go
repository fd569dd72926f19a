package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// BackendClient forwards requests through a developer-portal backend that
// exposes every configured cluster under {baseURL}/clusters/{name}.
type BackendClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBackendClient validates baseURL and returns a client using httpClient,
// or http.DefaultClient when nil. Streams are long lived, so httpClient
// should not carry an overall timeout.
func NewBackendClient(baseURL, authToken string, httpClient *http.Client, logger zerolog.Logger) (*BackendClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme and host are required", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (b *BackendClient) Proxy(ctx context.Context, clusterName, path string) (*http.Response, error) {
	target := b.baseURL + "/clusters/" + url.PathEscape(clusterName) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Accept", "text/plain, */*")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}
	b.logger.Debug().Str("cluster", clusterName).Str("target", target).Msg("proxying request")
	return b.httpClient.Do(req)
}
