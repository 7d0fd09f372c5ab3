package main

import (
	"context"

	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/service/status"
	"github.com/megastructure/coordinator/tracing"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/viant/afs"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	config := coordinator.DefaultConfig()
	if configURL != "" {
		loaded, err := coordinator.LoadConfig(ctx, configURL)
		if err != nil {
			return err
		}
		config = loaded
	}
	config.Log = logConfig(config.Log)
	logger, err := config.Log.NewLogger()
	if err != nil {
		return err
	}
	options := []coordinator.Option{
		coordinator.WithConfig(config),
		coordinator.WithLogger(logger),
		coordinator.WithFS(afs.New()),
	}
	if config.Tracing.Enabled {
		options = append(options, coordinator.WithTracing("megaroot", version, config.Tracing.Output))
		defer func() { _ = tracing.Shutdown(context.Background()) }()
	}
	root, err := coordinator.New(ctx, options...)
	if err != nil {
		return errors.Wrap(err, "failed to create root")
	}
	defer root.Close()
	return status.NewServer(root, logger).ListenAndServe(ctx)
}
