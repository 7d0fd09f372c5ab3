package main

import (
	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/service/executor"
	"github.com/megastructure/coordinator/service/network/ws"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger, err := logConfig(coordinator.DefaultConfig().Log).NewLogger()
	if err != nil {
		return err
	}

	config := executor.DefaultConfig()
	config.Command = command
	config.Directory = directory
	config.Host = host
	config.Credentials = credentials
	config.Sessions = workers
	exec, err := executor.New(config, executor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer exec.Close()

	daemon := coordinator.NewDaemon(
		coordinator.WithExecutor(exec),
		coordinator.WithWorkers(workers),
		coordinator.WithDaemonLogger(logger))
	conn, err := ws.Dial(ctx, rootURL, ws.WithHandler(daemon), ws.WithLogger(logger))
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %v", rootURL)
	}
	if err := daemon.Connect(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	defer daemon.Close()
	select {
	case <-ctx.Done():
		logger.Info("daemon stopping")
	case <-conn.Done():
		return errors.New("root closed the connection")
	}
	return nil
}
