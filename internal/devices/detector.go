package devices

import (
	"context"
	"fmt"
	"strings"

	"github.com/smazurov/camrelay/internal/relayerr"
)

// DeviceInfo represents information about a V4L2 capture device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string
	Driver     string
	Caps       uint32
}

// FormatInfo represents information about a video format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a frame interval (Numerator/Denominator seconds).
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// DeviceDetector provides platform-specific device detection.
type DeviceDetector interface {
	// FindDevices returns all currently available capture devices
	FindDevices() ([]DeviceInfo, error)

	// DescribeDevice returns the device behind a single node
	DescribeDevice(devicePath string) (DeviceInfo, error)

	// GetDeviceFormats returns supported formats for a device
	GetDeviceFormats(devicePath string) ([]FormatInfo, error)

	// GetDeviceResolutions returns supported resolutions for a format
	GetDeviceResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error)

	// GetDeviceFramerates returns supported framerates for a resolution
	GetDeviceFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error)

	// SupportsMode reports whether a device can deliver the format, size and rate
	SupportsMode(devicePath string, pixelFormat, width, height uint32, fps float64) (bool, error)

	// WatchRemoval returns a channel closed when the device node disappears.
	// Platforms without hotplug support return a channel that never closes.
	WatchRemoval(ctx context.Context, devicePath string) (<-chan struct{}, error)
}

// NewDetector creates a platform-specific device detector.
func NewDetector() DeviceDetector {
	return newDetector()
}

// Criteria selects a capture device.
type Criteria struct {
	// Path pins a device node; when empty every capture device is scanned.
	Path string
	// NameFilter must be contained in the card name (case-insensitive).
	NameFilter  string
	PixelFormat uint32
	Width       uint32
	Height      uint32
	FPS         float64
}

func (c Criteria) String() string {
	return fmt.Sprintf("%s %dx%d@%g", FourCC(c.PixelFormat), c.Width, c.Height, c.FPS)
}

// Match returns the first device that satisfies c. Every failure is a
// DeviceUnavailable error so callers can exit before starting anything else.
func Match(d DeviceDetector, c Criteria) (DeviceInfo, error) {
	const op = "match_device"

	if c.Path != "" {
		path, err := ResolveDevicePath(c.Path)
		if err != nil {
			return DeviceInfo{}, relayerr.Wrap(relayerr.DeviceUnavailable, op, "device not found", err).With("device", c.Path)
		}
		info, err := d.DescribeDevice(path)
		if err != nil {
			return DeviceInfo{}, relayerr.Wrap(relayerr.DeviceUnavailable, op, "not a capture device", err).With("device", path)
		}
		if !nameMatches(info, c.NameFilter) {
			return DeviceInfo{}, relayerr.New(relayerr.DeviceUnavailable, op,
				fmt.Sprintf("device name %q does not contain %q", info.DeviceName, c.NameFilter)).With("device", path)
		}
		ok, err := d.SupportsMode(path, c.PixelFormat, c.Width, c.Height, c.FPS)
		if err != nil {
			return DeviceInfo{}, relayerr.Wrap(relayerr.DeviceUnavailable, op, "cannot query device modes", err).With("device", path)
		}
		if !ok {
			return DeviceInfo{}, relayerr.New(relayerr.DeviceUnavailable, op, "device rejects "+c.String()).With("device", path)
		}
		return info, nil
	}

	candidates, err := d.FindDevices()
	if err != nil {
		return DeviceInfo{}, relayerr.Wrap(relayerr.DeviceUnavailable, op, "device scan failed", err)
	}

	var rejected []string
	for _, info := range candidates {
		if !nameMatches(info, c.NameFilter) {
			continue
		}
		ok, err := d.SupportsMode(info.DevicePath, c.PixelFormat, c.Width, c.Height, c.FPS)
		if err != nil || !ok {
			rejected = append(rejected, info.DevicePath)
			continue
		}
		return info, nil
	}

	msg := "no capture device matches " + c.String()
	if c.NameFilter != "" {
		msg += fmt.Sprintf(" with name containing %q", c.NameFilter)
	}
	e := relayerr.New(relayerr.DeviceUnavailable, op, msg)
	if len(rejected) > 0 {
		e = e.With("rejected", strings.Join(rejected, ","))
	}
	return DeviceInfo{}, e
}

func nameMatches(info DeviceInfo, filter string) bool {
	return filter == "" || strings.Contains(strings.ToLower(info.DeviceName), strings.ToLower(filter))
}

// Report is a device with its format tree, as listed by the devices command.
type Report struct {
	Device  DeviceInfo
	Formats []FormatReport
}

// FormatReport lists the sizes and rates available for one pixel format.
type FormatReport struct {
	Format FormatInfo
	Modes  []ModeReport
}

// ModeReport is one size and its frame rates.
type ModeReport struct {
	Resolution Resolution
	Framerates []Framerate
}

// Describe walks every device's formats, sizes and rates. Query failures on a
// single device are reported as an empty format list rather than aborting.
func Describe(d DeviceDetector) ([]Report, error) {
	found, err := d.FindDevices()
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(found))
	for _, info := range found {
		report := Report{Device: info}
		formats, err := d.GetDeviceFormats(info.DevicePath)
		if err != nil {
			reports = append(reports, report)
			continue
		}
		for _, f := range formats {
			fr := FormatReport{Format: f}
			resolutions, _ := d.GetDeviceResolutions(info.DevicePath, f.PixelFormat)
			for _, res := range resolutions {
				rates, _ := d.GetDeviceFramerates(info.DevicePath, f.PixelFormat, res.Width, res.Height)
				fr.Modes = append(fr.Modes, ModeReport{Resolution: res, Framerates: rates})
			}
			report.Formats = append(report.Formats, fr)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// FourCC renders a V4L2 pixel format code.
func FourCC(format uint32) string {
	return string([]byte{byte(format), byte(format >> 8), byte(format >> 16), byte(format >> 24)})
}
