package capture

import (
	"io"
	"time"
)

// testSource generates a YUYV moving-bar pattern paced at the configured rate.
type testSource struct {
	lifecycle
	cfg   Config
	pace  *pacer
	seq   uint64
	frame []byte
}

func newTestSource(cfg Config) *testSource {
	s := &testSource{
		cfg:   cfg,
		frame: make([]byte, FormatYUYV.FrameSize(cfg.Width, cfg.Height)),
	}
	s.init()
	s.pace = newPacer(cfg.FPS, s.done)
	return s
}

func (s *testSource) NextFrame() (Frame, error) {
	if s.closed.Load() {
		return Frame{}, errClosed("next_frame")
	}
	if s.cfg.Frames > 0 && s.seq >= uint64(s.cfg.Frames) {
		return Frame{}, io.EOF
	}
	if !s.pace.wait() {
		return Frame{}, errClosed("next_frame")
	}

	s.paint()
	data := make([]byte, len(s.frame))
	copy(data, s.frame)
	s.seq++

	return Frame{
		Data:      data,
		Format:    FormatYUYV,
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Timestamp: time.Now(),
		Seq:       s.seq,
	}, nil
}

// paint draws a bright vertical bar that moves one step per frame over a grey field.
func (s *testSource) paint() {
	w, h := s.cfg.Width, s.cfg.Height
	barWidth := max(w/16, 2)
	barX := int(s.seq*4) % w

	for y := 0; y < h; y++ {
		row := s.frame[y*w*2 : (y+1)*w*2]
		for x := 0; x < w; x += 2 {
			luma := byte(96)
			if x >= barX && x < barX+barWidth {
				luma = 235
			}
			// Y0 U Y1 V
			row[x*2] = luma
			row[x*2+1] = 128
			if x+1 < w {
				row[x*2+2] = luma
				row[x*2+3] = 128
			}
		}
	}
}

func (s *testSource) Close() error {
	return s.shut(func() error {
		s.pace.stop()
		return nil
	})
}

func (s *testSource) Info() DeviceInfo {
	return DeviceInfo{
		Driver: DriverTestSource,
		Path:   "testsrc",
		Name:   "moving bar",
		Format: FormatYUYV,
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		FPS:    float64(s.cfg.FPS),
	}
}
