package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manisharma/pod-log-streamer/internal"
	"github.com/manisharma/pod-log-streamer/pkg/core/app"
	"github.com/manisharma/pod-log-streamer/pkg/core/object"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var Build = "v0.0.0"

func main() {
	var (
		config object.Config
		v      = viper.New()
		logger zerolog.Logger
	)
	root := &cobra.Command{
		Use:           "pls",
		Short:         "Fetch, follow and group Kubernetes pod logs",
		Version:       Build,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if config, err = loadConfig(v, cmd.Root().PersistentFlags()); err != nil {
				return err
			}
			level, err := zerolog.ParseLevel(config.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q, err: %s", config.LogLevel, err.Error())
			}
			logger = zerolog.New(os.Stderr).Level(level).With().Str("app", "pls").Str("build", Build).Timestamp().Logger()
			return nil
		},
	}
	defaults := object.Defaults()
	fs := root.PersistentFlags()
	fs.String("config", "", "config file (default $PLS_CONFIG or ./pls.yaml)")
	fs.String("logLevel", defaults.LogLevel, "log level, eg: 'debug', 'info', 'warn', 'error'")
	fs.String("proxyMode", defaults.ProxyMode, "how clusters are reached, eg: 'kube', 'backend', 'node'")
	fs.String("kubeconfig", "", "kubeconfig to read cluster contexts from")
	fs.String("backendURL", "", "base URL of the kubernetes proxy backend, eg: 'https://portal.example.com/api/kubernetes/proxy'")
	fs.String("authToken", "", "bearer token for the proxy backend")
	fs.String("nodeCluster", defaults.NodeCluster, "cluster name served from local kubelet log files")
	fs.String("podLogDir", defaults.PodLogDir, "kubelet pod log directory")
	fs.Var(&config.NamespacesToInclude, "namespacesToInclude", "kubernetes namespaces to include pods from")
	fs.Var(&config.NamespacesToExclude, "namespacesToExclude", "kubernetes namespaces to exclude pods from")
	fs.Var(&config.PodLabelsToInclude, "podLabelsToInclude", "kubernetes pod labels (key=value) to include pods by")
	fs.Int("tailLines", defaults.TailLines, "default count of most recent lines to fetch")
	fs.Bool("timestamps", defaults.Timestamps, "prefix lines with their timestamp by default")
	fs.Int("maxPods", defaults.MaxPods, "default count of pods fetched per deployment")

	service := func() (*internal.Service, error) {
		return app.NewService(config, logger)
	}
	root.AddCommand(
		logsCommand(service),
		deploymentCommand(service),
		groupsCommand(service),
		serveCommand(&config, &logger, service),
	)

	ctx, cancel := interruptible()
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

// loadConfig layers flags over PLS_ environment variables over the config file.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet) (object.Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("PLS")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return object.Config{}, err
	}

	explicit := v.GetString("config")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("pls")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/pls")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || explicit != "" {
			return object.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	config := object.Defaults()
	if err := v.Unmarshal(&config); err != nil {
		return object.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

// interruptible is cancelled on the first interruption.
func interruptible() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	deathStream := make(chan os.Signal, 1)
	signal.Notify(deathStream, os.Interrupt, syscall.SIGABRT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case <-deathStream:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(deathStream)
	}()
	return ctx, cancel
}
