package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/shutdown"
)

func quietLogs(t *testing.T) {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(nil) })
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"config", "log-level", "log-format"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing persistent flag --%s", name)
		}
	}

	want := map[string][]string{
		"stream":  {"capture-device", "quality", "payload", "receiver-host", "monitoring-enabled"},
		"receive": {"srt-port", "engine", "output-width", "metrics-prometheus-addr"},
	}
	for use, flags := range want {
		sub, _, err := root.Find([]string{use})
		if err != nil || sub.Name() != use {
			t.Fatalf("subcommand %s not found: %v", use, err)
		}
		for _, f := range flags {
			if sub.Flags().Lookup(f) == nil {
				t.Errorf("%s: missing flag --%s", use, f)
			}
		}
	}

	receive, _, _ := root.Find([]string{"receive"})
	if receive.Flags().Lookup("capture-device") != nil {
		t.Error("receive must not carry capture flags")
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "camrelay ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecuteInvalidConfig(t *testing.T) {
	quietLogs(t)

	code := Execute(context.Background(), []string{
		"stream",
		"--config", filepath.Join(t.TempDir(), "none.toml"),
		"--payload", "vp9",
	})
	if code != shutdown.ExitFailure {
		t.Errorf("exit code = %d, want %d", code, shutdown.ExitFailure)
	}
}

func TestExecuteReportsSessionExitCode(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()

	code := Execute(context.Background(), []string{
		"stream",
		"--config", filepath.Join(dir, "none.toml"),
		"--capture-driver", "folder",
		"--capture-image-dir", filepath.Join(dir, "missing"),
		"--gst-launch", "true",
	})
	if code != shutdown.ExitDeviceUnavailable {
		t.Errorf("exit code = %d, want %d", code, shutdown.ExitDeviceUnavailable)
	}
}

func TestExecuteUnknownEngine(t *testing.T) {
	quietLogs(t)

	code := Execute(context.Background(), []string{
		"receive",
		"--config", filepath.Join(t.TempDir(), "none.toml"),
		"--engine", "ffmpeg",
	})
	if code != shutdown.ExitFailure {
		t.Errorf("exit code = %d, want %d", code, shutdown.ExitFailure)
	}
}

func TestPrintReports(t *testing.T) {
	var out bytes.Buffer
	printReports(&out, []devices.Report{{
		Device: devices.DeviceInfo{DevicePath: "/dev/video0", DeviceName: "HD Webcam", Driver: "uvcvideo"},
		Formats: []devices.FormatReport{{
			Format: devices.FormatInfo{PixelFormat: 0x56595559, FormatName: "YUYV 4:2:2"},
			Modes: []devices.ModeReport{{
				Resolution: devices.Resolution{Width: 640, Height: 480},
				Framerates: []devices.Framerate{{Numerator: 1, Denominator: 30}, {Numerator: 1, Denominator: 15}},
			}},
		}},
	}})

	got := out.String()
	for _, want := range []string{"/dev/video0\tHD Webcam (uvcvideo)", "YUYV\tYUYV 4:2:2", "640x480\t30 15 fps"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	out.Reset()
	printReports(&out, nil)
	if !strings.Contains(out.String(), "no capture devices") {
		t.Errorf("empty output = %q", out.String())
	}
}
