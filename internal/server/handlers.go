package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/manisharma/pod-log-streamer/internal"
)

// optional binds the query parameters that are present; absent ones stay nil.
type optional struct {
	timestamps *bool
	tailLines  *int
}

func bindOptional(c echo.Context) (optional, error) {
	var (
		o          optional
		timestamps bool
		tailLines  int
		b          = echo.QueryParamsBinder(c)
	)
	if c.QueryParam("timestamps") != "" {
		b.Bool("timestamps", &timestamps)
		o.timestamps = &timestamps
	}
	if c.QueryParam("tailLines") != "" {
		b.Int("tailLines", &tailLines)
		o.tailLines = &tailLines
	}
	if err := b.BindError(); err != nil {
		return o, err
	}
	if o.tailLines != nil && *o.tailLines < 0 {
		return o, echo.NewHTTPError(http.StatusBadRequest, "tailLines must not be negative")
	}
	return o, nil
}

func PodLogHandler(logs Logs) echo.HandlerFunc {
	return func(c echo.Context) error {
		var follow bool
		if err := echo.QueryParamsBinder(c).Bool("follow", &follow).BindError(); err != nil {
			return err
		}
		o, err := bindOptional(c)
		if err != nil {
			return err
		}
		opts := internal.PodLogsOptions{
			ClusterName:   c.Param("cluster"),
			Namespace:     c.Param("namespace"),
			PodName:       c.Param("pod"),
			ContainerName: c.QueryParam("container"),
			Timestamps:    o.timestamps,
			TailLines:     o.tailLines,
		}
		ctx := c.Request().Context()

		if !follow {
			text, err := logs.GetPodLogs(ctx, opts)
			if err != nil {
				return err
			}
			return c.String(http.StatusOK, text)
		}

		resp := c.Response()
		started := false
		err = logs.StreamPodLogs(ctx, opts, func(chunk string) {
			if !started {
				resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
				resp.WriteHeader(http.StatusOK)
				started = true
			}
			resp.Write([]byte(chunk))
			resp.Flush()
		})
		if err != nil {
			// once committed the client only sees a truncated stream
			return err
		}
		if !started {
			return c.String(http.StatusOK, "")
		}
		return nil
	}
}

func DeploymentLogsHandler(logs Logs) echo.HandlerFunc {
	return func(c echo.Context) error {
		var maxPods int
		if err := echo.QueryParamsBinder(c).Int("maxPods", &maxPods).BindError(); err != nil {
			return err
		}
		o, err := bindOptional(c)
		if err != nil {
			return err
		}
		out, err := logs.GetDeploymentLogs(c.Request().Context(), internal.DeploymentLogsOptions{
			ClusterName:    c.Param("cluster"),
			Namespace:      c.Param("namespace"),
			DeploymentName: c.Param("deployment"),
			Selector:       c.QueryParam("selector"),
			Timestamps:     o.timestamps,
			TailLines:      o.tailLines,
			MaxPods:        maxPods,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	}
}

func GroupsHandler(logs Logs) echo.HandlerFunc {
	return func(c echo.Context) error {
		groups, err := logs.Groups(c.Request().Context(), c.Param("cluster"), c.Param("namespace"), c.QueryParam("selector"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, groups)
	}
}
