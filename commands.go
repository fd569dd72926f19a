package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/manisharma/pod-log-streamer/internal"
	"github.com/manisharma/pod-log-streamer/internal/deployment"
	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/render"
	"github.com/manisharma/pod-log-streamer/internal/server"
	"github.com/manisharma/pod-log-streamer/pkg/core/object"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type serviceFunc func() (*internal.Service, error)

// theme resolves --color into a terminal theme.
func theme(mode string) (render.Theme, error) {
	t := render.DefaultTheme()
	switch mode {
	case "auto":
	case "always":
		lipgloss.SetColorProfile(termenv.TrueColor)
	case "never":
		t.NoColor = true
	default:
		return t, fmt.Errorf("invalid color mode %q, only 'auto', 'always' and 'never' are supported", mode)
	}
	return t, nil
}

func logsCommand(service serviceFunc) *cobra.Command {
	var (
		container string
		follow    bool
		search    string
		color     string
	)
	cmd := &cobra.Command{
		Use:   "logs CLUSTER NAMESPACE POD",
		Short: "Print or follow the logs of a pod",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := theme(color)
			if err != nil {
				return err
			}
			svc, err := service()
			if err != nil {
				return err
			}
			opts := internal.PodLogsOptions{ClusterName: args[0], Namespace: args[1], PodName: args[2], ContainerName: container}
			out := cmd.OutOrStdout()

			if !follow {
				text, err := svc.GetPodLogs(cmd.Context(), opts)
				if err != nil {
					return err
				}
				fmt.Fprint(out, t.Lines(render.Render(text, search)))
				return nil
			}

			var lines render.Splitter
			err = svc.StreamPodLogs(cmd.Context(), opts, func(chunk string) {
				for _, line := range lines.Push(chunk) {
					fmt.Fprintln(out, t.Line(render.Render(line, search)[0]))
				}
			})
			if rest, ok := lines.Flush(); ok {
				fmt.Fprintln(out, t.Line(render.Render(rest, search)[0]))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&container, "container", "c", "", "container to read, required for pods with several containers")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new lines")
	cmd.Flags().StringVar(&search, "search", "", "highlight a case-insensitive search term")
	cmd.Flags().StringVar(&color, "color", "auto", "colorize output, eg: 'auto', 'always', 'never'")
	return cmd
}

// podPrefixes styles a "[pod] " prefix per pod, coloured by first appearance.
type podPrefixes struct {
	theme  render.Theme
	styles map[string]string
}

func (p *podPrefixes) of(pod string) string {
	if s, ok := p.styles[pod]; ok {
		return s
	}
	prefix := "[" + pod + "] "
	if !p.theme.NoColor {
		prefix = lipgloss.NewStyle().Foreground(render.PodColor(len(p.styles))).Render(prefix)
	}
	p.styles[pod] = prefix
	return prefix
}

// podLines splits the chunks of several pods into whole lines.
type podLines struct {
	splitters map[string]*render.Splitter
	order     []string
}

func newPodLines() *podLines {
	return &podLines{splitters: make(map[string]*render.Splitter)}
}

func (p *podLines) push(pod, chunk string, emit func(pod, line string)) {
	s, ok := p.splitters[pod]
	if !ok {
		s = &render.Splitter{}
		p.splitters[pod] = s
		p.order = append(p.order, pod)
	}
	for _, line := range s.Push(chunk) {
		emit(pod, line)
	}
}

// flush emits unterminated tails in the order pods first produced output.
func (p *podLines) flush(emit func(pod, line string)) {
	for _, pod := range p.order {
		if rest, ok := p.splitters[pod].Flush(); ok {
			emit(pod, rest)
		}
	}
}

func deploymentCommand(service serviceFunc) *cobra.Command {
	var (
		follow   bool
		selector string
		search   string
		color    string
		export   string
	)
	cmd := &cobra.Command{
		Use:   "deployment CLUSTER NAMESPACE NAME",
		Short: "Print or follow the logs of every pod of a deployment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := theme(color)
			if err != nil {
				return err
			}
			if follow && export != "" {
				return fmt.Errorf("--export cannot be combined with --follow")
			}
			svc, err := service()
			if err != nil {
				return err
			}
			opts := internal.DeploymentLogsOptions{ClusterName: args[0], Namespace: args[1], DeploymentName: args[2], Selector: selector}
			var (
				out      = cmd.OutOrStdout()
				prefixes = &podPrefixes{theme: t, styles: make(map[string]string)}
			)

			if follow {
				var (
					mu    sync.Mutex
					lines = newPodLines()
				)
				emit := func(pod, line string) {
					fmt.Fprintln(out, prefixes.of(pod)+t.Line(render.Render(line, search)[0]))
				}
				err := svc.StreamDeploymentLogs(cmd.Context(), opts, func(pod, chunk string) {
					mu.Lock()
					defer mu.Unlock()
					lines.push(pod, chunk, emit)
				})
				mu.Lock()
				lines.flush(emit)
				mu.Unlock()
				return err
			}

			logs, err := svc.GetDeploymentLogs(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, pod := range logs.Pods {
				prefix := prefixes.of(pod.Name)
				fmt.Fprintln(out, prefix+t.Status(pod.Status))
				if msg, ok := logs.Errors[pod.Name]; ok {
					fmt.Fprintln(cmd.ErrOrStderr(), prefix+msg)
					continue
				}
				text := strings.TrimSuffix(logs.Logs[pod.Name], "\n")
				if text == "" {
					continue
				}
				for _, line := range render.Render(text, search) {
					fmt.Fprintln(out, prefix+t.Line(line))
				}
			}
			if logs.Dropped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d more pods not shown, raise --maxPods to include them\n", logs.Dropped)
			}
			if export != "" {
				return writeExport(export, logs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new lines of every pod")
	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector narrowing the pods considered")
	cmd.Flags().StringVar(&search, "search", "", "highlight a case-insensitive search term")
	cmd.Flags().StringVar(&color, "color", "auto", "colorize output, eg: 'auto', 'always', 'never'")
	cmd.Flags().StringVar(&export, "export", "", "also write every pod's logs to this file")
	return cmd
}

func writeExport(path string, logs *internal.DeploymentLogs) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := deployment.Export(f, logs.Pods, logs.Logs); err != nil {
		f.Close()
		return fmt.Errorf("write export file: %w", err)
	}
	return f.Close()
}

func groupsCommand(service serviceFunc) *cobra.Command {
	var (
		selector string
		output   string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "groups CLUSTER NAMESPACE",
		Short: "Group the pods of a namespace by the workload that owns them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("invalid output %q, only 'table', 'json' and 'yaml' are supported", output)
			}
			svc, err := service()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if watch {
				var werr error
				err := svc.WatchGroups(cmd.Context(), args[0], args[1], selector, func(groups []*grouping.Group) {
					if werr == nil {
						werr = printGroups(out, output, groups)
					}
				})
				return errors.Join(err, werr)
			}
			groups, err := svc.Groups(cmd.Context(), args[0], args[1], selector)
			if err != nil {
				return err
			}
			return printGroups(out, output, groups)
		},
	}
	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector narrowing the pods considered")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format, eg: 'table', 'json', 'yaml'")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print the groups again whenever a pod changes")
	return cmd
}

func printGroups(w io.Writer, format string, groups []*grouping.Group) error {
	switch format {
	case "json":
		b, err := json.MarshalIndent(groups, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "yaml":
		b, err := yaml.Marshal(groups)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, "---\n"+string(b))
		return err
	default:
		rows := make([][]string, 0, len(groups))
		for _, g := range groups {
			names := make([]string, 0, len(g.Pods))
			for _, p := range g.Pods {
				names = append(names, p.Name)
			}
			rows = append(rows, []string{g.Key, string(g.Kind), strconv.Itoa(len(g.Pods)), strings.Join(names, ", ")})
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("GROUP", "KIND", "PODS", "NAMES").
			Rows(rows...)
		_, err := fmt.Fprintln(w, t.String())
		return err
	}
}

func serveCommand(config *object.Config, logger *zerolog.Logger, service serviceFunc) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pod logs, deployment logs and pod groups over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service()
			if err != nil {
				return err
			}
			addr := config.ListenAddr
			if cmd.Flags().Changed("listen") {
				addr = listen
			}
			e := server.BuildServer(svc, *logger)
			// follow streams end with the command
			e.Server.BaseContext = func(net.Listener) context.Context { return cmd.Context() }
			errs := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", addr).Msg("log server listening")
				if err := e.Start(addr); !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
				close(errs)
			}()

			select {
			case err := <-errs:
				return err
			case <-cmd.Context().Done():
			}
			// shutdown systems gracefully
			logger.Info().Msg("server interrupted, shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from listenAddr, ':8080')")
	return cmd
}
