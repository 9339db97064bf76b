package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/config"
	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/pipeline"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/smazurov/camrelay/internal/session"
	"github.com/smazurov/camrelay/internal/version"
)

func (a *app) streamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Capture, JPEG-encode and send frames over RTP",
		Long: `Opens the capture device, encodes every frame as JPEG and writes it into a ` +
			`gst-launch pipeline that packetises it as RTP and sends it to the receiver. ` +
			`Runs until SIGINT/SIGTERM, end of stream or a fatal error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd, config.ScopeStream); err != nil {
				return err
			}
			o := a.opts

			format, err := capture.ParsePixelFormat(o.CaptureFormat)
			if err != nil {
				return relayerr.Wrap(relayerr.InvalidConfig, "load", "bad capture format", err)
			}

			logger := logging.GetLogger("stream").With("stream", o.StreamName)
			logger.Info("Starting stream command", "version", version.Get().String(), "config", o.Config)

			ctx := cmd.Context()
			payload := pipeline.Payload(o.Payload)
			if missing := pipeline.CheckElements(ctx, pipeline.SenderElements(payload)...); len(missing) > 0 {
				logger.Warn("Encoder pipeline is likely to fail", "missing", missing)
			}

			t := a.startTelemetry(ctx, logger)
			defer t.close()

			detector := devices.NewDetector()
			sender := session.NewSender(session.SenderConfig{
				Common: a.common(t),
				Capture: capture.Config{
					Driver:     o.CaptureDriver,
					Device:     o.CaptureDevice,
					NameFilter: o.CaptureNameFilter,
					Format:     format,
					Width:      o.Width,
					Height:     o.Height,
					FPS:        o.Framerate,
					ImageDir:   o.CaptureImageDir,
					Loop:       true,
					Detector:   detector,
				},
				Quality: o.Quality,
				Pipeline: pipeline.SenderParams{
					Framerate:   o.Framerate,
					Host:        o.ReceiverHost,
					Port:        o.ReceiverPort,
					Payload:     payload,
					Bitrate:     o.Bitrate,
					SpeedPreset: o.SpeedPreset,
				},
				GstLaunch:       o.GstLaunch,
				EOSGrace:        o.EOSGrace,
				GracefulTimeout: o.GracefulTimeout,
				Detector:        detector,
			})

			res := sender.Run(ctx)
			a.exitCode = res.ExitCode
			logger.Info("Stream command exiting", "reason", res.Reason, "exit_code", res.ExitCode)
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags(), a.opts, config.ScopeStream)
	return cmd
}
