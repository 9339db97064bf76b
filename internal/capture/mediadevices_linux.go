//go:build linux

package capture

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"golang.org/x/image/draw"

	"github.com/smazurov/camrelay/internal/relayerr"
)

// mediaSource reads decoded images from a mediadevices video track and hands
// them out as RGBA frames.
type mediaSource struct {
	lifecycle
	info   DeviceInfo
	track  mediadevices.Track
	reader video.Reader

	mu  sync.Mutex
	seq uint64
}

func openMediaDevices(_ context.Context, cfg Config) (*mediaSource, error) {
	const op = "open"

	deviceID, label, err := pickMediaDevice(cfg)
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(deviceID)
			c.Width = prop.IntExact(cfg.Width)
			c.Height = prop.IntExact(cfg.Height)
			c.FrameRate = prop.FloatExact(float32(cfg.FPS))
			if ff, ok := mediaFrameFormat(cfg.Format); ok {
				c.FrameFormat = prop.FrameFormatExact(ff)
			}
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.DeviceUnavailable, op, "no camera satisfies the constraints", err).With("device", label)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, relayerr.New(relayerr.DeviceUnavailable, op, "camera produced no video track").With("device", label)
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, relayerr.New(relayerr.DeviceUnavailable, op, "unexpected track type").With("device", label)
	}

	s := &mediaSource{
		track:  videoTrack,
		reader: videoTrack.NewReader(false),
		info: DeviceInfo{
			Driver: DriverMediaDevices,
			Path:   deviceID,
			Name:   label,
			Format: FormatRGBA,
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    float64(cfg.FPS),
		},
	}
	s.init()
	return s, nil
}

// pickMediaDevice chooses a video input by node name or label substring.
func pickMediaDevice(cfg Config) (id, label string, err error) {
	wantNode := filepath.Base(cfg.Device)
	filter := strings.ToLower(cfg.NameFilter)

	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		lower := strings.ToLower(d.Label)
		if cfg.Device != "" && !strings.Contains(d.Label, wantNode) && d.DeviceID != cfg.Device {
			continue
		}
		if filter != "" && !strings.Contains(lower, filter) {
			continue
		}
		return d.DeviceID, d.Label, nil
	}
	return "", "", relayerr.New(relayerr.DeviceUnavailable, "open", "no video input matches").
		With("device", cfg.Device).With("name_filter", cfg.NameFilter)
}

func mediaFrameFormat(p PixelFormat) (frame.Format, bool) {
	switch p {
	case FormatYUYV:
		return frame.FormatYUY2, true
	case FormatMJPEG:
		return frame.FormatMJPEG, true
	}
	return "", false
}

func (s *mediaSource) NextFrame() (Frame, error) {
	const op = "next_frame"

	if s.closed.Load() {
		return Frame{}, errClosed(op)
	}

	img, release, err := s.reader.Read()
	if err != nil {
		if s.closed.Load() {
			return Frame{}, errClosed(op)
		}
		return Frame{}, relayerr.Wrap(relayerr.CaptureFailed, op, "camera read failed", err).With("device", s.info.Name)
	}
	if img == nil {
		if release != nil {
			release()
		}
		return Frame{}, relayerr.New(relayerr.NoFrame, op, "empty read")
	}

	rgba := toRGBA(img)
	if release != nil {
		release()
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	b := rgba.Bounds()
	return Frame{
		Data:      rgba.Pix,
		Format:    FormatRGBA,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: time.Now(),
		Seq:       seq,
	}, nil
}

// toRGBA copies img into a tightly packed RGBA buffer.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func (s *mediaSource) Close() error {
	return s.shut(s.track.Close)
}

func (s *mediaSource) Info() DeviceInfo {
	return s.info
}
