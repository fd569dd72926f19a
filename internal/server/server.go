// Package server exposes the log retrieval surface over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/manisharma/pod-log-streamer/internal"
	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
)

const apiRoot = "/api/v1/clusters/:cluster/namespaces/:namespace"

// Logs is the part of the service the server needs.
type Logs interface {
	GetPodLogs(ctx context.Context, opts internal.PodLogsOptions) (string, error)
	StreamPodLogs(ctx context.Context, opts internal.PodLogsOptions, onChunk func(string)) error
	GetDeploymentLogs(ctx context.Context, opts internal.DeploymentLogsOptions) (*internal.DeploymentLogs, error)
	Groups(ctx context.Context, cluster, namespace, selector string) ([]*grouping.Group, error)
}

func BuildServer(logs Logs, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(toHTTPError(err), c)
		logger.Debug().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}

	// logging for server-side latency.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			err := next(c)
			logger.Info().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(begin)).
				Msg("request served")
			return err
		}
	})

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET(apiRoot+"/pods/:pod/log", PodLogHandler(logs))
	e.GET(apiRoot+"/deployments/:deployment/logs", DeploymentLogsHandler(logs))
	e.GET(apiRoot+"/groups", GroupsHandler(logs))
	return e
}

// toHTTPError maps service errors onto status codes.
func toHTTPError(err error) error {
	var (
		he      *echo.HTTPError
		bindErr *echo.BindingError
		podErr  *internal.PodError
	)
	switch {
	case errors.As(err, &bindErr):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid value for "+bindErr.Field)
	case errors.As(err, &he):
		return he
	case errors.Is(err, internal.ErrDeploymentNotFound), errors.Is(err, proxy.ErrUnknownCluster):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &podErr):
		return echo.NewHTTPError(http.StatusBadGateway, podErr.Message)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
