//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"golang.org/x/sys/unix"

	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// webcamBuffers is the number of mmap buffers requested from the driver.
const webcamBuffers = 4

// webcamSource streams frames from a V4L2 device through memory-mapped buffers.
type webcamSource struct {
	lifecycle
	info   DeviceInfo
	logger *slog.Logger

	// mu serialises driver calls; Close waits for an in-flight wait to time out.
	mu  sync.Mutex
	cam *webcam.Webcam
	seq uint64
}

func openWebcam(_ context.Context, cfg Config) (*webcamSource, error) {
	const op = "open"

	if cfg.Format.FourCC() == 0 {
		return nil, relayerr.New(relayerr.DeviceUnavailable, op, "pixel format has no V4L2 equivalent").With("format", cfg.Format.String())
	}

	detector := cfg.Detector
	if detector == nil {
		detector = devices.NewDetector()
	}
	dev, err := devices.Match(detector, deviceCriteria(cfg))
	if err != nil {
		return nil, err
	}

	cam, err := webcam.Open(dev.DevicePath)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.DeviceUnavailable, op, "cannot open device", err).With("device", dev.DevicePath)
	}

	fail := func(msg string, cause error) (*webcamSource, error) {
		_ = cam.Close()
		return nil, relayerr.Wrap(relayerr.DeviceUnavailable, op, msg, cause).With("device", dev.DevicePath)
	}

	want := webcam.PixelFormat(cfg.Format.FourCC())
	got, w, h, err := cam.SetImageFormat(want, uint32(cfg.Width), uint32(cfg.Height))
	if err != nil {
		return fail("device rejected the pixel format", err)
	}
	if got != want || int(w) != cfg.Width || int(h) != cfg.Height {
		return fail("device rejected the requested mode",
			fmt.Errorf("asked for %s %dx%d, driver chose %s %dx%d",
				devices.FourCC(uint32(want)), cfg.Width, cfg.Height, devices.FourCC(uint32(got)), w, h))
	}
	if err := cam.SetFramerate(float32(cfg.FPS)); err != nil {
		return fail("device rejected the frame rate", err)
	}
	if err := cam.SetBufferCount(webcamBuffers); err != nil {
		return fail("cannot allocate capture buffers", err)
	}
	if err := cam.StartStreaming(); err != nil {
		return fail("cannot start streaming", err)
	}

	s := &webcamSource{
		cam:    cam,
		logger: logging.GetLogger("capture"),
		info: DeviceInfo{
			Driver: DriverV4L2,
			Path:   dev.DevicePath,
			Name:   dev.DeviceName,
			Format: cfg.Format,
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    float64(cfg.FPS),
		},
	}
	s.init()
	return s, nil
}

func (s *webcamSource) NextFrame() (Frame, error) {
	const op = "next_frame"

	if s.closed.Load() {
		return Frame{}, errClosed(op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return Frame{}, errClosed(op)
	}

	if err := s.cam.WaitForFrame(uint32(WaitTimeout / time.Second)); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return Frame{}, relayerr.New(relayerr.NoFrame, op, "timed out waiting for a frame")
		}
		return Frame{}, relayerr.Wrap(relayerr.CaptureFailed, op, "device wait failed", err).With("device", s.info.Path)
	}

	buf, err := s.cam.ReadFrame()
	if err != nil {
		return Frame{}, readFrameError(op, s.info.Path, err)
	}
	if len(buf) == 0 {
		return Frame{}, relayerr.New(relayerr.NoFrame, op, "empty read")
	}

	// the driver reuses its mmap buffers, the frame must own its bytes
	data := make([]byte, len(buf))
	copy(data, buf)
	s.seq++

	return Frame{
		Data:      data,
		Format:    s.info.Format,
		Width:     s.info.Width,
		Height:    s.info.Height,
		Timestamp: time.Now(),
		Seq:       s.seq,
	}, nil
}

// readFrameError classifies a dequeue failure. The device is opened
// non-blocking, so EAGAIN only means no buffer was ready yet.
func readFrameError(op, path string, err error) error {
	if errors.Is(err, unix.EAGAIN) {
		return relayerr.New(relayerr.NoFrame, op, "no buffer ready").With("device", path)
	}
	return relayerr.Wrap(relayerr.CaptureFailed, op, "device read failed", err).With("device", path)
}

func (s *webcamSource) Close() error {
	return s.shut(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		err := s.cam.Close()
		s.logger.Info("Capture device closed", "device", s.info.Path)
		return err
	})
}

func (s *webcamSource) Info() DeviceInfo {
	return s.info
}
