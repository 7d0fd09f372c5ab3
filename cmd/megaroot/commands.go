package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/megastructure/coordinator"
	"github.com/spf13/cobra"
)

var (
	configURL   string
	rootURL     string
	workers     int
	command     string
	directory   string
	host        string
	credentials string
	pipelineID  string
	definition  string
	logLevel    string

	rootCmd = &cobra.Command{
		Use:          "megaroot",
		Short:        "Coordinates daemons, identities, locks and build pipelines of a megastructure cluster",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Runs the root: status API, metrics and the daemon websocket endpoint",
		RunE:  runServe,
	}

	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Connects a daemon to a root and offers workers for pipeline runs",
		RunE:  runDaemon,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Runs a pipeline on the daemons connected to a root",
		RunE:  runPipeline,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "overrides the configured log level")

	serveCmd.Flags().StringVarP(&configURL, "config", "c", "", "configuration URL (yaml or json)")

	daemonCmd.Flags().StringVar(&rootURL, "root", "ws://localhost:4137/v1/connect", "root websocket URL")
	daemonCmd.Flags().IntVarP(&workers, "workers", "w", 4, "workers offered per pipeline run")
	daemonCmd.Flags().StringVar(&command, "exec", "", "command executing one task; MEGA_TASK and MEGA_FINGERPRINT are exported")
	daemonCmd.Flags().StringVar(&directory, "dir", "", "working directory of task commands")
	daemonCmd.Flags().StringVar(&host, "host", "", "run task commands on this host over SSH")
	daemonCmd.Flags().StringVar(&credentials, "credentials", "", "SSH credentials secret URL")
	_ = daemonCmd.MarkFlagRequired("exec")

	runCmd.Flags().StringVar(&rootURL, "root", "ws://localhost:4137/v1/connect", "root websocket URL")
	runCmd.Flags().StringVarP(&pipelineID, "pipeline", "p", "", "pipeline id")
	runCmd.Flags().StringVarP(&definition, "definition", "d", "", "pipeline definition URL sent with the run")
	_ = runCmd.MarkFlagRequired("pipeline")

	rootCmd.AddCommand(serveCmd, daemonCmd, runCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func logConfig(config coordinator.LogConfig) coordinator.LogConfig {
	if logLevel != "" {
		config.Level = logLevel
	}
	return config
}
