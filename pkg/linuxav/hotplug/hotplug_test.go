//go:build linux

package hotplug

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected *Event
	}{
		{name: "empty input", input: []byte{}},
		{name: "nil input", input: nil},
		{name: "no @ separator", input: []byte("invalid")},
		{name: "missing action", input: []byte("@/devices/foo")},
		{name: "only null bytes", input: []byte{0, 0, 0, 0}},
		{
			name:  "simple add event",
			input: []byte("add@/devices/pci0000:00/video0\x00SUBSYSTEM=video4linux\x00DEVNAME=video0\x00"),
			expected: &Event{
				Action:    "add",
				KObj:      "/devices/pci0000:00/video0",
				Subsystem: "video4linux",
				DevName:   "video0",
				Env:       map[string]string{"SUBSYSTEM": "video4linux", "DEVNAME": "video0"},
			},
		},
		{
			name:  "remove event with multiple properties",
			input: []byte("remove@/devices/usb/1-1\x00SUBSYSTEM=usb\x00DEVTYPE=usb_device\x00DEVPATH=/devices/usb/1-1\x00PRODUCT=1234/5678/0100\x00"),
			expected: &Event{
				Action:    "remove",
				KObj:      "/devices/usb/1-1",
				Subsystem: "usb",
				DevType:   "usb_device",
				DevPath:   "/devices/usb/1-1",
				Env: map[string]string{
					"SUBSYSTEM": "usb",
					"DEVTYPE":   "usb_device",
					"DEVPATH":   "/devices/usb/1-1",
					"PRODUCT":   "1234/5678/0100",
				},
			},
		},
		{
			name:  "key with equals in value",
			input: []byte("add@/dev/foo\x00KEY=val=ue\x00"),
			expected: &Event{
				Action: "add",
				KObj:   "/dev/foo",
				Env:    map[string]string{"KEY": "val=ue"},
			},
		},
		{
			name:  "event with trailing nulls",
			input: []byte("bind@/devices/foo\x00SUBSYSTEM=pci\x00\x00\x00"),
			expected: &Event{
				Action:    "bind",
				KObj:      "/devices/foo",
				Subsystem: "pci",
				Env:       map[string]string{"SUBSYSTEM": "pci"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseUEvent(tt.input)

			if tt.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %+v", result)
				}
				return
			}
			if result == nil {
				t.Fatalf("expected %+v, got nil", tt.expected)
			}

			if result.Action != tt.expected.Action {
				t.Errorf("Action: expected %q, got %q", tt.expected.Action, result.Action)
			}
			if result.KObj != tt.expected.KObj {
				t.Errorf("KObj: expected %q, got %q", tt.expected.KObj, result.KObj)
			}
			if result.Subsystem != tt.expected.Subsystem {
				t.Errorf("Subsystem: expected %q, got %q", tt.expected.Subsystem, result.Subsystem)
			}
			if result.DevType != tt.expected.DevType {
				t.Errorf("DevType: expected %q, got %q", tt.expected.DevType, result.DevType)
			}
			if result.DevName != tt.expected.DevName {
				t.Errorf("DevName: expected %q, got %q", tt.expected.DevName, result.DevName)
			}
			if result.DevPath != tt.expected.DevPath {
				t.Errorf("DevPath: expected %q, got %q", tt.expected.DevPath, result.DevPath)
			}
			if len(result.Env) != len(tt.expected.Env) {
				t.Errorf("Env length: expected %d, got %d", len(tt.expected.Env), len(result.Env))
			}
			for k, v := range tt.expected.Env {
				if result.Env[k] != v {
					t.Errorf("Env[%q]: expected %q, got %q", k, v, result.Env[k])
				}
			}
		})
	}
}

func TestEventRemoves(t *testing.T) {
	remove := Event{Action: ActionRemove, DevName: "video2"}
	add := Event{Action: ActionAdd, DevName: "video2"}

	if !remove.Removes("/dev/video2") {
		t.Error("remove of video2 should match /dev/video2")
	}
	if remove.Removes("/dev/video0") {
		t.Error("remove of video2 should not match /dev/video0")
	}
	if add.Removes("/dev/video2") {
		t.Error("add events never remove")
	}
	if (Event{Action: ActionRemove}).Removes("/dev/video2") {
		t.Error("events without a device name never match")
	}
}

func TestEventRemovesResolvesSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "usb-cam-video-index0")
	if err := os.Symlink("/dev/video2", link); err != nil {
		t.Fatal(err)
	}

	// EvalSymlinks fails when /dev/video2 does not exist; the raw path is used then.
	e := Event{Action: ActionRemove, DevName: "video2"}
	if _, err := os.Stat("/dev/video2"); err == nil && !e.Removes(link) {
		t.Error("symlinked device node should resolve to /dev/video2")
	}
}

func TestMonitorCloseTwice(t *testing.T) {
	m, err := NewMonitor()
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}

	if closeErr := m.Close(); closeErr != nil {
		t.Errorf("Close() error: %v", closeErr)
	}
	if closeErr := m.Close(); closeErr != nil {
		t.Errorf("second Close() error: %v", closeErr)
	}
}

func TestMonitorRunCancellation(t *testing.T) {
	m, err := NewMonitor()
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event, 10)
	if runErr := m.Run(ctx, events); !errors.Is(runErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", runErr)
	}
	if _, open := <-events; open {
		t.Error("events channel should be closed after Run returns")
	}
}

func TestWaitForRemovalCancelled(t *testing.T) {
	m, err := NewMonitor()
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if waitErr := m.WaitForRemoval(ctx, "/dev/video99"); !errors.Is(waitErr, context.Canceled) {
		t.Errorf("WaitForRemoval() = %v, want context.Canceled", waitErr)
	}
}

func TestMonitorConcurrentFilterAdd(t *testing.T) {
	m := &Monitor{filters: make(map[string]struct{})}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.AddSubsystemFilter(SubsystemVideo4Linux)
				m.AddSubsystemFilter(SubsystemUSB)
			}
		}()
	}
	wg.Wait()

	if !m.accepts(SubsystemVideo4Linux) || !m.accepts(SubsystemUSB) {
		t.Error("expected both filters to accept")
	}
	if m.accepts("sound") {
		t.Error("sound should be filtered out")
	}
	if !(&Monitor{filters: map[string]struct{}{}}).accepts("sound") {
		t.Error("a monitor without filters accepts everything")
	}
}
