//go:build linux

package v4l2

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{name: "YUYV format", format: PixFmtYUYV, expected: "YUYV"},
		{name: "MJPEG format", format: PixFmtMJPEG, expected: "MJPG"},
		{name: "RGB24 format", format: PixFmtRGB24, expected: "RGB3"},
		{name: "GREY format", format: PixFmtGREY, expected: "GREY"},
		{name: "H264 format", format: PixFmtH264, expected: "H264"},
		{name: "null bytes", format: 0x00000000, expected: "\x00\x00\x00\x00"},
		{name: "mixed bytes", format: 0x01020304, expected: "\x04\x03\x02\x01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

func TestParseFourCCRoundTrip(t *testing.T) {
	for _, f := range []uint32{PixFmtYUYV, PixFmtMJPEG, PixFmtBGR24, PixFmtNV12} {
		if got := ParseFourCC(FormatFourCC(f)); got != f {
			t.Errorf("ParseFourCC(FormatFourCC(0x%08X)) = 0x%08X", f, got)
		}
	}
	if got := ParseFourCC("Y8"); FormatFourCC(got) != "Y8  " {
		t.Errorf("short names should be space padded, got %q", FormatFourCC(got))
	}
}

func TestFramerateFPS(t *testing.T) {
	tests := []struct {
		name        string
		framerate   Framerate
		expectedFPS float64
	}{
		{name: "60 fps (1/60)", framerate: Framerate{Numerator: 1, Denominator: 60}, expectedFPS: 60.0},
		{name: "30 fps (1/30)", framerate: Framerate{Numerator: 1, Denominator: 30}, expectedFPS: 30.0},
		{name: "29.97 fps (1001/30000)", framerate: Framerate{Numerator: 1001, Denominator: 30000}, expectedFPS: 30000.0 / 1001.0},
		{name: "zero numerator returns 0", framerate: Framerate{Numerator: 0, Denominator: 60}, expectedFPS: 0.0},
		{name: "zero denominator", framerate: Framerate{Numerator: 1, Denominator: 0}, expectedFPS: 0.0},
		{name: "large values", framerate: Framerate{Numerator: 1000000, Denominator: 60000000}, expectedFPS: 60.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.framerate.FPS()
			if math.Abs(result-tt.expectedFPS) > 0.001 {
				t.Errorf("Framerate{%d, %d}.FPS() = %f, want %f",
					tt.framerate.Numerator, tt.framerate.Denominator, result, tt.expectedFPS)
			}
		})
	}
}

func TestStepwiseContains(t *testing.T) {
	s := &v4l2FrmsizeStepwise{
		minWidth: 160, maxWidth: 1920, stepWidth: 16,
		minHeight: 120, maxHeight: 1080, stepHeight: 8,
	}

	tests := []struct {
		w, h uint32
		want bool
	}{
		{640, 480, true},
		{1920, 1080, true},
		{2560, 1440, false},
		{100, 100, false},
		{641, 480, false},
	}

	for _, tt := range tests {
		if got := stepwiseContains(s, tt.w, tt.h); got != tt.want {
			t.Errorf("stepwiseContains(%dx%d) = %v, want %v", tt.w, tt.h, got, tt.want)
		}
	}

	res := stepwiseResolutions(s)
	for _, r := range res {
		if r.Width > 1920 || r.Height > 1080 {
			t.Errorf("stepwiseResolutions returned %dx%d outside the range", r.Width, r.Height)
		}
	}
	if len(res) == 0 {
		t.Error("expected some common resolutions inside the range")
	}
}

func TestSizeInListDiscrete(t *testing.T) {
	sizes := []v4l2Frmsizeenum{
		{typ: v4l2FrmsizeTypeDiscrete, discrete: v4l2FrmsizeDiscrete{width: 640, height: 480}},
		{typ: v4l2FrmsizeTypeDiscrete, discrete: v4l2FrmsizeDiscrete{width: 1280, height: 720}},
	}
	if !sizeInList(sizes, 1280, 720) {
		t.Error("1280x720 should be listed")
	}
	if sizeInList(sizes, 1920, 1080) {
		t.Error("1920x1080 should not be listed")
	}
}

func TestHasFramerate(t *testing.T) {
	rates := []Framerate{{1, 30}, {1001, 30000}, {1, 15}}
	if !hasFramerate(rates, 30) {
		t.Error("30 fps should match")
	}
	if hasFramerate(rates, 60) {
		t.Error("60 fps should not match")
	}
}

func TestFindStableID(t *testing.T) {
	dir := t.TempDir()
	old := byIDDir
	byIDDir = dir
	t.Cleanup(func() { byIDDir = old })

	if err := os.Symlink("../../video2", filepath.Join(dir, "usb-Intel_RealSense-video-index0")); err != nil {
		t.Fatal(err)
	}

	if got := findStableID("video2", 0); got != "usb-Intel_RealSense-video-index0" {
		t.Errorf("findStableID() = %q", got)
	}
	if got := findStableID("video3", 0); got != "" {
		t.Errorf("findStableID(video3) = %q, want empty", got)
	}
}

func TestSyntheticID(t *testing.T) {
	if got := syntheticID("usb-0000:00:14.0-1", 2); got != "usb-0000:00:14.0-1-video-index2" {
		t.Errorf("syntheticID(usb) = %q", got)
	}
	if got := syntheticID("fe800000.isp", 0); got != "platform-fe800000.isp-video-index0" {
		t.Errorf("syntheticID(platform) = %q", got)
	}
}

func TestFindDevicesMissingSysfs(t *testing.T) {
	old := sysfsRoot
	sysfsRoot = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { sysfsRoot = old })

	devices, err := FindDevices()
	if err != nil {
		t.Fatalf("FindDevices() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("expected no devices, got %d", len(devices))
	}
}
