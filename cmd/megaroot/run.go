package main

import (
	"encoding/json"

	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/network/ws"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/viant/afs"
)

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger, err := logConfig(coordinator.DefaultConfig().Log).NewLogger()
	if err != nil {
		return err
	}
	configuration := pipeline.Configuration{PipelineID: pipelineID}
	if definition != "" {
		if configuration.Payload, err = afs.New().DownloadWithURL(ctx, definition); err != nil {
			return errors.Wrapf(err, "failed to read %v", definition)
		}
	}

	daemon := coordinator.NewDaemon(coordinator.WithDaemonLogger(logger))
	conn, err := ws.Dial(ctx, rootURL, ws.WithHandler(daemon), ws.WithLogger(logger))
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %v", rootURL)
	}
	if err := daemon.Connect(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	defer daemon.Close()

	result, err := daemon.RunPipeline(ctx, pipeline.ToolChain{}, configuration)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		return errors.Errorf("pipeline %v failed: %v", pipelineID, result.Message)
	}
	return nil
}
