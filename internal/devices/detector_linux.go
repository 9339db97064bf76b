//go:build linux

package devices

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/pkg/linuxav/hotplug"
	"github.com/smazurov/camrelay/pkg/linuxav/v4l2"
)

type linuxDetector struct {
	logger *slog.Logger
}

func newDetector() DeviceDetector {
	return &linuxDetector{
		logger: logging.GetLogger("devices"),
	}
}

// FindDevices returns all currently available V4L2 capture devices.
func (d *linuxDetector) FindDevices() ([]DeviceInfo, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, len(found))
	for i, dev := range found {
		devices[i] = fromV4L2(dev)
	}
	d.logger.Debug("Scanned V4L2 devices", "count", len(devices))
	return devices, nil
}

func (d *linuxDetector) DescribeDevice(devicePath string) (DeviceInfo, error) {
	dev, err := v4l2.QueryCapability(devicePath)
	if err != nil {
		return DeviceInfo{}, err
	}
	if !dev.CanStream() {
		d.logger.Warn("Device does not advertise streaming I/O", "device", devicePath)
	}
	return fromV4L2(dev), nil
}

func (d *linuxDetector) GetDeviceFormats(devicePath string) ([]FormatInfo, error) {
	found, err := v4l2.GetFormats(devicePath)
	if err != nil {
		return nil, err
	}

	formats := make([]FormatInfo, len(found))
	for i, f := range found {
		formats[i] = FormatInfo{
			PixelFormat: f.PixelFormat,
			FormatName:  f.FormatName,
			Emulated:    f.Emulated,
		}
	}
	return formats, nil
}

func (d *linuxDetector) GetDeviceResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	found, err := v4l2.GetResolutions(devicePath, pixelFormat)
	if err != nil {
		return nil, err
	}

	resolutions := make([]Resolution, len(found))
	for i, r := range found {
		resolutions[i] = Resolution{Width: r.Width, Height: r.Height}
	}
	return resolutions, nil
}

func (d *linuxDetector) GetDeviceFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	found, err := v4l2.GetFramerates(devicePath, pixelFormat, width, height)
	if err != nil {
		return nil, err
	}

	framerates := make([]Framerate, len(found))
	for i, f := range found {
		framerates[i] = Framerate{Numerator: f.Numerator, Denominator: f.Denominator}
	}
	return framerates, nil
}

func (d *linuxDetector) SupportsMode(devicePath string, pixelFormat, width, height uint32, fps float64) (bool, error) {
	return v4l2.SupportsMode(devicePath, pixelFormat, width, height, fps)
}

// WatchRemoval listens on the kernel uevent socket for removal of devicePath.
func (d *linuxDetector) WatchRemoval(ctx context.Context, devicePath string) (<-chan struct{}, error) {
	mon, err := hotplug.NewMonitor()
	if err != nil {
		return nil, err
	}
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	removed := make(chan struct{})
	go func() {
		defer func() { _ = mon.Close() }()
		err := mon.WaitForRemoval(ctx, devicePath)
		switch {
		case err == nil:
			d.logger.Warn("Capture device removed", "device", devicePath)
			close(removed)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			d.logger.Warn("Hotplug monitor stopped", "device", devicePath, "error", err)
		}
	}()
	return removed, nil
}

func fromV4L2(dev v4l2.DeviceInfo) DeviceInfo {
	return DeviceInfo{
		DevicePath: dev.DevicePath,
		DeviceName: dev.DeviceName,
		DeviceID:   dev.DeviceID,
		Driver:     dev.Driver,
		Caps:       dev.Caps,
	}
}
