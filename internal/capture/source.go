package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// Driver names.
const (
	DriverV4L2         = "v4l2"
	DriverMediaDevices = "mediadevices"
	DriverTestSource   = "testsrc"
	DriverFolder       = "folder"
)

// Config selects and parameterises a capture backend.
type Config struct {
	Driver     string
	Device     string // device node or stable ID; empty scans
	NameFilter string // card name substring, e.g. "RealSense"
	Format     PixelFormat
	Width      int
	Height     int
	FPS        int

	// ImageDir is the directory the folder driver reads JPEGs from.
	ImageDir string
	// Loop replays the folder forever. When false the folder source ends
	// with io.EOF after the last image.
	Loop bool
	// Frames stops the test source after this many frames (0 = endless).
	Frames int

	// Detector overrides device discovery, mostly for tests.
	Detector devices.DeviceDetector
}

// WaitTimeout bounds a single blocking wait for a frame. A timeout is a
// NoFrame, so a closed or silent device never pins the capture loop.
const WaitTimeout = time.Second

// Open starts the configured backend. Every failure to find or configure a
// device is a DeviceUnavailable error.
func Open(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, relayerr.New(relayerr.DeviceUnavailable, "open", "capture size and frame rate must be positive").
			With("width", cfg.Width).With("height", cfg.Height).With("fps", cfg.FPS)
	}

	logger := logging.GetLogger("capture")

	var (
		src Source
		err error
	)
	switch cfg.Driver {
	case "", DriverV4L2:
		src, err = openWebcam(ctx, cfg)
	case DriverMediaDevices:
		src, err = openMediaDevices(ctx, cfg)
	case DriverTestSource:
		src, err = newTestSource(cfg), nil
	case DriverFolder:
		src, err = openFolder(ctx, cfg)
	default:
		err = relayerr.New(relayerr.DeviceUnavailable, "open", "unknown capture driver").With("driver", cfg.Driver)
	}
	if err != nil {
		if relayerr.CodeOf(err) == "" {
			err = relayerr.Wrap(relayerr.DeviceUnavailable, "open", "capture device unavailable", err)
		}
		return nil, err
	}

	logger.Info("Capture device opened", "device", src.Info().String())
	return src, nil
}

func deviceCriteria(cfg Config) devices.Criteria {
	return devices.Criteria{
		Path:        cfg.Device,
		NameFilter:  cfg.NameFilter,
		PixelFormat: cfg.Format.FourCC(),
		Width:       uint32(cfg.Width),
		Height:      uint32(cfg.Height),
		FPS:         float64(cfg.FPS),
	}
}

// lifecycle tracks the closed state shared by all sources.
type lifecycle struct {
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (l *lifecycle) init() {
	l.done = make(chan struct{})
}

// shut runs release once and reports its error; later calls return nil.
func (l *lifecycle) shut(release func() error) error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		if release != nil {
			err = release()
		}
	})
	return err
}

func errClosed(op string) error {
	return relayerr.Wrap(relayerr.CaptureFailed, op, "capture device closed", errSourceClosed)
}

var errSourceClosed = errors.New("source closed")

// pacer releases one tick per frame interval until done is closed.
type pacer struct {
	ticker *time.Ticker
	done   <-chan struct{}
}

func newPacer(fps int, done <-chan struct{}) *pacer {
	return &pacer{ticker: time.NewTicker(time.Second / time.Duration(fps)), done: done}
}

// wait returns false when the source was closed while waiting.
func (p *pacer) wait() bool {
	select {
	case <-p.ticker.C:
		return true
	case <-p.done:
		return false
	}
}

func (p *pacer) stop() {
	p.ticker.Stop()
}
