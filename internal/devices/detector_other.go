//go:build !linux

package devices

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("V4L2 capture devices are only available on linux")

type otherDetector struct{}

func newDetector() DeviceDetector {
	return otherDetector{}
}

func (otherDetector) FindDevices() ([]DeviceInfo, error) { return []DeviceInfo{}, nil }

func (otherDetector) DescribeDevice(string) (DeviceInfo, error) { return DeviceInfo{}, errUnsupported }

func (otherDetector) GetDeviceFormats(string) ([]FormatInfo, error) { return nil, errUnsupported }

func (otherDetector) GetDeviceResolutions(string, uint32) ([]Resolution, error) {
	return nil, errUnsupported
}

func (otherDetector) GetDeviceFramerates(string, uint32, uint32, uint32) ([]Framerate, error) {
	return nil, errUnsupported
}

func (otherDetector) SupportsMode(string, uint32, uint32, uint32, float64) (bool, error) {
	return false, errUnsupported
}

func (otherDetector) WatchRemoval(context.Context, string) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}
