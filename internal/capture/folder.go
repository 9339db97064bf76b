package capture

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// folderDebounce coalesces bursts of directory events (an rsync, an editor save).
const folderDebounce = 250 * time.Millisecond

// folderSource replays the JPEG files of a directory as MJPEG frames. The
// directory is watched so images can be added or removed while streaming.
type folderSource struct {
	lifecycle
	cfg     Config
	pace    *pacer
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu    sync.Mutex
	files []string
	next  int
	seq   uint64
}

func openFolder(_ context.Context, cfg Config) (*folderSource, error) {
	info, err := os.Stat(cfg.ImageDir)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.DeviceUnavailable, "open", "image directory unavailable", err).With("dir", cfg.ImageDir)
	}
	if !info.IsDir() {
		return nil, relayerr.New(relayerr.DeviceUnavailable, "open", "image path is not a directory").With("dir", cfg.ImageDir)
	}

	s := &folderSource{
		cfg:    cfg,
		logger: logging.GetLogger("capture"),
	}
	s.init()
	s.pace = newPacer(cfg.FPS, s.done)

	if err := s.rescan(); err != nil {
		return nil, relayerr.Wrap(relayerr.DeviceUnavailable, "open", "cannot list image directory", err).With("dir", cfg.ImageDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("Folder watch unavailable, image list is fixed", "dir", cfg.ImageDir, "error", err)
		return s, nil
	}
	if err := watcher.Add(cfg.ImageDir); err != nil {
		_ = watcher.Close()
		s.logger.Warn("Folder watch unavailable, image list is fixed", "dir", cfg.ImageDir, "error", err)
		return s, nil
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

// watch rescans the directory after create, remove and rename events settle.
func (s *folderSource) watch() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 || !isJPEG(event.Name) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(folderDebounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := s.rescan(); err != nil {
				s.logger.Warn("Image directory rescan failed", "dir", s.cfg.ImageDir, "error", err)
				continue
			}
			s.mu.Lock()
			count := len(s.files)
			s.mu.Unlock()
			s.logger.Info("Image directory changed", "dir", s.cfg.ImageDir, "images", count)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Image directory watch error", "error", err)
		}
	}
}

func (s *folderSource) rescan() error {
	entries, err := os.ReadDir(s.cfg.ImageDir)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && isJPEG(e.Name()) {
			files = append(files, filepath.Join(s.cfg.ImageDir, e.Name()))
		}
	}
	sort.Strings(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	current := ""
	if s.next < len(s.files) {
		current = s.files[s.next]
	}
	s.files = files
	// keep the playback position on the file that was about to play
	switch {
	case current != "":
		s.next = sort.SearchStrings(files, current)
	case s.seq == 0:
		s.next = 0
	default:
		s.next = len(files)
	}
	return nil
}

func isJPEG(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// pick returns the next file to play, or "" with end=true when a non-looping
// folder is exhausted.
func (s *folderSource) pick() (path string, end bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.files) == 0 {
		return "", false
	}
	if s.next >= len(s.files) {
		if !s.cfg.Loop {
			return "", true
		}
		s.next = 0
	}
	path = s.files[s.next]
	s.next++
	return path, false
}

func (s *folderSource) NextFrame() (Frame, error) {
	if s.closed.Load() {
		return Frame{}, errClosed("next_frame")
	}
	if !s.pace.wait() {
		return Frame{}, errClosed("next_frame")
	}

	path, end := s.pick()
	if end {
		return Frame{}, io.EOF
	}
	if path == "" {
		return Frame{}, relayerr.New(relayerr.NoFrame, "next_frame", "image directory is empty").With("dir", s.cfg.ImageDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// removed between the scan and the read
		return Frame{}, relayerr.Wrap(relayerr.NoFrame, "next_frame", "image unreadable", err).With("file", path)
	}

	width, height := s.cfg.Width, s.cfg.Height
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return Frame{
		Data:      data,
		Format:    FormatMJPEG,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
		Seq:       seq,
	}, nil
}

func (s *folderSource) Close() error {
	return s.shut(func() error {
		s.pace.stop()
		if s.watcher != nil {
			return s.watcher.Close()
		}
		return nil
	})
}

func (s *folderSource) Info() DeviceInfo {
	return DeviceInfo{
		Driver: DriverFolder,
		Path:   s.cfg.ImageDir,
		Name:   "image folder",
		Format: FormatMJPEG,
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		FPS:    float64(s.cfg.FPS),
	}
}
