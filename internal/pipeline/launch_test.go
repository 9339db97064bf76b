package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-gst-launch")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testEngine(t *testing.T, script string) *LaunchEngine {
	t.Helper()
	return NewLaunchEngine(Options{
		GstLaunch:       writeScript(t, script),
		EOSGrace:        200 * time.Millisecond,
		GracefulTimeout: time.Second,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func drain(t *testing.T, h Handle) []Message {
	t.Helper()
	var got []Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-h.Messages():
			if !ok {
				return got
			}
			got = append(got, m)
		case <-timeout:
			t.Fatal("message stream did not close")
		}
	}
}

func TestLaunchEngineEOS(t *testing.T) {
	e := testEngine(t, `echo "Setting pipeline to PLAYING ..."; echo 'Got EOS from element "pipeline0".'`)
	h, err := e.Launch(context.Background(), "fakesrc ! fakesink")
	if err != nil {
		t.Fatal(err)
	}
	defer h.SetState(StateNull)

	got := drain(t, h)
	if len(got) != 1 || got[0].Kind != MessageEOS {
		t.Errorf("messages = %+v", got)
	}
}

func TestLaunchEngineError(t *testing.T) {
	e := testEngine(t, `
echo 'ERROR: from element /GstPipeline:pipeline0/GstSRTSink:srtsink0: Failed to open SRT' >&2
echo 'Additional debug info:' >&2
echo 'gstsrtsink.c(198): start' >&2
exit 1`)
	h, err := e.Launch(context.Background(), "fakesrc ! srtsink")
	if err != nil {
		t.Fatal(err)
	}
	defer h.SetState(StateNull)

	got := drain(t, h)
	if len(got) != 1 {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].Kind != MessageError || got[0].Source != "srtsink0" || got[0].Debug != "gstsrtsink.c(198): start" {
		t.Errorf("message = %+v", got[0])
	}
}

func TestLaunchEngineExitWithoutEOSIsError(t *testing.T) {
	e := testEngine(t, "exit 3")
	h, err := e.Launch(context.Background(), "fakesrc ! fakesink")
	if err != nil {
		t.Fatal(err)
	}
	defer h.SetState(StateNull)

	got := drain(t, h)
	if len(got) != 1 || got[0].Kind != MessageError || !strings.Contains(got[0].Text, "code 3") {
		t.Errorf("messages = %+v", got)
	}
}

func TestLaunchEngineReceivesArguments(t *testing.T) {
	e := testEngine(t, `echo "ERROR: args $*" >&2; exit 1`)
	h, err := e.Launch(context.Background(), `srtsink uri="srt://h:1"`)
	if err != nil {
		t.Fatal(err)
	}
	defer h.SetState(StateNull)

	got := drain(t, h)
	if len(got) != 1 || got[0].Text != `args -m -e srtsink uri="srt://h:1"` {
		t.Errorf("messages = %+v", got)
	}
}

func TestLaunchEngineStop(t *testing.T) {
	e := testEngine(t, "exec sleep 30")
	h, err := e.Launch(context.Background(), "fakesrc ! fakesink")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState(PLAYING): %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = h.SetState(StateNull)
		_ = h.SetState(StateNull)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SetState(NULL) hung")
	}

	if got := drain(t, h); len(got) != 0 {
		t.Errorf("stopping must not report an error, got %+v", got)
	}
}

func TestLaunchEngineTapUnsupported(t *testing.T) {
	e := testEngine(t, "exec sleep 30")
	h, err := e.Launch(context.Background(), "fakesrc ! fakesink")
	if err != nil {
		t.Fatal(err)
	}
	defer h.SetState(StateNull)

	if err := h.Tap(ElementSource, func(int) {}); !errors.Is(err, ErrTapUnsupported) {
		t.Errorf("Tap() = %v, want ErrTapUnsupported", err)
	}
}

func TestLaunchEngineMissingBinary(t *testing.T) {
	e := NewLaunchEngine(Options{GstLaunch: filepath.Join(t.TempDir(), "missing")})
	if _, err := e.Launch(context.Background(), "fakesrc ! fakesink"); err == nil {
		t.Fatal("expected start failure")
	}
}

func TestNewEngine(t *testing.T) {
	if e, err := New("", Options{}); err != nil || e.Name() != EngineLaunch {
		t.Errorf("New(\"\") = %v, %v", e, err)
	}
	if _, err := New("bogus", Options{}); err == nil {
		t.Error("unknown engine should fail")
	}
}

func TestCheckElements(t *testing.T) {
	inspect := writeScript(t, `[ "$2" = "udpsrc" ]`)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	missing := checkElements(context.Background(), inspect, logger, "udpsrc", "srtsink")
	if len(missing) != 1 || missing[0] != "srtsink" {
		t.Errorf("missing = %v", missing)
	}
}
