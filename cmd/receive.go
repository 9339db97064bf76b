package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/camrelay/internal/config"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/pipeline"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/smazurov/camrelay/internal/session"
	"github.com/smazurov/camrelay/internal/version"
)

func (a *app) receiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive RTP/JPEG, transcode to H.264 and publish over SRT",
		Long: `Runs the receive pipeline: RTP/JPEG in on the receiver port, decoded, scaled, ` +
			`encoded with x264, muxed into MPEG-TS and pushed to the SRT server. ` +
			`With monitoring enabled, ingress bandwidth and decoded frame rate are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd, config.ScopeReceive); err != nil {
				return err
			}
			o := a.opts

			engine, err := pipeline.New(o.Engine, pipeline.Options{
				GstLaunch:       o.GstLaunch,
				EOSGrace:        o.EOSGrace,
				GracefulTimeout: o.GracefulTimeout,
				Logger:          logging.GetLogger("pipeline"),
			})
			if err != nil {
				return relayerr.Wrap(relayerr.InvalidConfig, "load", "cannot create pipeline engine", err)
			}

			logger := logging.GetLogger("receive").With("stream", o.StreamName)
			logger.Info("Starting receive command", "version", version.Get().String(), "engine", engine.Name(), "config", o.Config)

			ctx := cmd.Context()
			if missing := pipeline.CheckElements(ctx, pipeline.ReceiverElements()...); len(missing) > 0 {
				logger.Warn("Receive pipeline is likely to fail", "missing", missing)
			}

			t := a.startTelemetry(ctx, logger)
			defer t.close()

			receiver := session.NewReceiver(session.ReceiverConfig{
				Common: a.common(t),
				Pipeline: pipeline.ReceiverParams{
					Port:        o.ReceiverPort,
					Width:       o.OutputWidth,
					Height:      o.OutputHeight,
					Bitrate:     o.Bitrate,
					SpeedPreset: o.SpeedPreset,
					SrtHost:     o.SrtHost,
					SrtPort:     o.SrtPort,
					StreamName:  o.StreamName,
				},
				Engine: engine,
			})

			res := receiver.Run(ctx)
			a.exitCode = res.ExitCode
			logger.Info("Receive command exiting", "reason", res.Reason, "exit_code", res.ExitCode)
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags(), a.opts, config.ScopeReceive)
	return cmd
}
