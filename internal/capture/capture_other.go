//go:build !linux

package capture

import (
	"context"

	"github.com/smazurov/camrelay/internal/relayerr"
)

func openWebcam(context.Context, Config) (Source, error) {
	return nil, relayerr.New(relayerr.DeviceUnavailable, "open", "the v4l2 driver requires linux")
}

func openMediaDevices(context.Context, Config) (Source, error) {
	return nil, relayerr.New(relayerr.DeviceUnavailable, "open", "the mediadevices driver requires linux")
}
