// Package capture turns a blocking capture device into a stream of frames.
//
// Every backend implements Source. NextFrame blocks until a frame is ready and
// reports NoFrame for transient empty reads, CaptureFailed when the device is
// gone or closed, and io.EOF when a finite source has nothing left.
package capture

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat is the layout of Frame.Data.
type PixelFormat int

// Supported pixel formats.
const (
	FormatYUYV PixelFormat = iota + 1
	FormatRGB24
	FormatBGR24
	FormatRGBA
	FormatGRAY8
	FormatMJPEG
)

var formatNames = map[PixelFormat]string{
	FormatYUYV:  "YUYV",
	FormatRGB24: "RGB24",
	FormatBGR24: "BGR24",
	FormatRGBA:  "RGBA",
	FormatGRAY8: "GRAY8",
	FormatMJPEG: "MJPEG",
}

func (p PixelFormat) String() string {
	if name, ok := formatNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// ParsePixelFormat accepts the format names used in configuration.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YUYV", "YUY2", "YUYV422":
		return FormatYUYV, nil
	case "RGB24", "RGB", "RGB3":
		return FormatRGB24, nil
	case "BGR24", "BGR", "BGR3":
		return FormatBGR24, nil
	case "RGBA":
		return FormatRGBA, nil
	case "GRAY8", "GREY", "GRAY", "Y8":
		return FormatGRAY8, nil
	case "MJPEG", "MJPG", "JPEG":
		return FormatMJPEG, nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// BytesPerPixel returns the fixed pixel size, or 0 for compressed formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case FormatYUYV:
		return 2
	case FormatRGB24, FormatBGR24:
		return 3
	case FormatRGBA:
		return 4
	case FormatGRAY8:
		return 1
	}
	return 0
}

// Compressed reports whether frames in this format have no fixed length.
func (p PixelFormat) Compressed() bool {
	return p == FormatMJPEG
}

// FrameSize is the exact byte length of an uncompressed frame.
func (p PixelFormat) FrameSize(width, height int) int {
	return width * height * p.BytesPerPixel()
}

// FourCC returns the V4L2 fourcc for the format, or 0 when V4L2 has no
// equivalent capture format.
func (p PixelFormat) FourCC() uint32 {
	switch p {
	case FormatYUYV:
		return 0x56595559 // YUYV
	case FormatRGB24:
		return 0x33424752 // RGB3
	case FormatBGR24:
		return 0x33524742 // BGR3
	case FormatGRAY8:
		return 0x59455247 // GREY
	case FormatMJPEG:
		return 0x47504A4D // MJPG
	}
	return 0
}

// Frame is one captured image. The capture loop owns it until it is encoded.
type Frame struct {
	Data      []byte
	Format    PixelFormat
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// DeviceInfo describes the device a Source is reading from.
type DeviceInfo struct {
	Driver string
	Path   string
	Name   string
	Format PixelFormat
	Width  int
	Height int
	FPS    float64
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s %s (%s) %s %dx%d@%g", d.Driver, d.Path, d.Name, d.Format, d.Width, d.Height, d.FPS)
}

// Source produces frames from one device.
type Source interface {
	// NextFrame blocks until the next frame is available.
	NextFrame() (Frame, error)
	// Close releases the device. Calls after the first are no-ops.
	Close() error
	// Info returns the negotiated device parameters.
	Info() DeviceInfo
}
