package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/camrelay/internal/relayerr"
)

const pixYUYV = 0x56595559

type fakeDetector struct {
	devices []DeviceInfo
	modes   map[string]bool // devicePath -> supports requested mode
	scanErr error
}

func (f *fakeDetector) FindDevices() ([]DeviceInfo, error) { return f.devices, f.scanErr }

func (f *fakeDetector) DescribeDevice(path string) (DeviceInfo, error) {
	for _, d := range f.devices {
		if d.DevicePath == path {
			return d, nil
		}
	}
	return DeviceInfo{}, errors.New("no such device")
}

func (f *fakeDetector) GetDeviceFormats(string) ([]FormatInfo, error) {
	return []FormatInfo{{PixelFormat: pixYUYV, FormatName: "YUYV 4:2:2"}}, nil
}

func (f *fakeDetector) GetDeviceResolutions(string, uint32) ([]Resolution, error) {
	return []Resolution{{640, 480}, {1280, 720}}, nil
}

func (f *fakeDetector) GetDeviceFramerates(string, uint32, uint32, uint32) ([]Framerate, error) {
	return []Framerate{{1, 30}, {1, 15}}, nil
}

func (f *fakeDetector) SupportsMode(path string, _, _, _ uint32, _ float64) (bool, error) {
	return f.modes[path], nil
}

func (f *fakeDetector) WatchRemoval(context.Context, string) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}

func TestMatchScansByName(t *testing.T) {
	d := &fakeDetector{
		devices: []DeviceInfo{
			{DevicePath: "/dev/video0", DeviceName: "Integrated Webcam"},
			{DevicePath: "/dev/video2", DeviceName: "Intel(R) RealSense(TM) Depth Camera 435i RGB"},
		},
		modes: map[string]bool{"/dev/video0": true, "/dev/video2": true},
	}

	info, err := Match(d, Criteria{NameFilter: "realsense", PixelFormat: pixYUYV, Width: 1280, Height: 720, FPS: 30})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if info.DevicePath != "/dev/video2" {
		t.Errorf("Match() picked %s, want /dev/video2", info.DevicePath)
	}
}

func TestMatchUnsupportedResolution(t *testing.T) {
	d := &fakeDetector{
		devices: []DeviceInfo{{DevicePath: "/dev/video0", DeviceName: "RealSense"}},
		modes:   map[string]bool{"/dev/video0": false},
	}

	_, err := Match(d, Criteria{PixelFormat: pixYUYV, Width: 4096, Height: 2160, FPS: 30})
	if !errors.Is(err, relayerr.ErrDeviceUnavailable) {
		t.Fatalf("Match() error = %v, want DeviceUnavailable", err)
	}
	var re *relayerr.Error
	if errors.As(err, &re) && re.Context["rejected"] != "/dev/video0" {
		t.Errorf("rejected context = %v", re.Context["rejected"])
	}
}

func TestMatchNoDevices(t *testing.T) {
	_, err := Match(&fakeDetector{}, Criteria{NameFilter: "RealSense"})
	if !relayerr.IsCode(err, relayerr.DeviceUnavailable) {
		t.Errorf("Match() error = %v, want DeviceUnavailable", err)
	}

	_, err = Match(&fakeDetector{scanErr: errors.New("boom")}, Criteria{})
	if !relayerr.IsCode(err, relayerr.DeviceUnavailable) {
		t.Errorf("scan failure should be DeviceUnavailable, got %v", err)
	}
}

func TestMatchExplicitPath(t *testing.T) {
	node := filepath.Join(t.TempDir(), "video7")
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	d := &fakeDetector{
		devices: []DeviceInfo{{DevicePath: node, DeviceName: "Test Camera"}},
		modes:   map[string]bool{node: true},
	}

	if _, err := Match(d, Criteria{Path: node}); err != nil {
		t.Errorf("Match(path) error = %v", err)
	}
	if _, err := Match(d, Criteria{Path: node, NameFilter: "RealSense"}); !relayerr.IsCode(err, relayerr.DeviceUnavailable) {
		t.Errorf("name mismatch should be DeviceUnavailable, got %v", err)
	}
	if _, err := Match(d, Criteria{Path: filepath.Join(t.TempDir(), "missing")}); !relayerr.IsCode(err, relayerr.DeviceUnavailable) {
		t.Errorf("missing node should be DeviceUnavailable, got %v", err)
	}

	d.modes[node] = false
	if _, err := Match(d, Criteria{Path: node}); !relayerr.IsCode(err, relayerr.DeviceUnavailable) {
		t.Errorf("unsupported mode should be DeviceUnavailable, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	d := &fakeDetector{devices: []DeviceInfo{{DevicePath: "/dev/video0", DeviceName: "Cam"}}}

	reports, err := Describe(d)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(reports) != 1 || len(reports[0].Formats) != 1 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	modes := reports[0].Formats[0].Modes
	if len(modes) != 2 || len(modes[1].Framerates) != 2 {
		t.Errorf("unexpected modes: %+v", modes)
	}
	if modes[0].Framerates[0].FPS() != 30 {
		t.Errorf("FPS() = %v, want 30", modes[0].Framerates[0].FPS())
	}
}

func TestFourCC(t *testing.T) {
	if got := FourCC(pixYUYV); got != "YUYV" {
		t.Errorf("FourCC() = %q, want YUYV", got)
	}
}
