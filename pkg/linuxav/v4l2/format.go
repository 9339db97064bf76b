//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GetFormats returns all supported pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   v4l2BufTypeVideoCapture,
		}

		if ioctlErr := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); ioctlErr != nil {
			if errors.Is(ioctlErr, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, ioctlErr)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&v4l2FmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// GetResolutions returns all supported resolutions for a device and pixel format.
// Stepwise and continuous ranges are reported as the common sizes they contain.
func GetResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	sizes, err := enumFrameSizes(devicePath, pixelFormat)
	if err != nil {
		return nil, err
	}

	var resolutions []Resolution
	for _, size := range sizes {
		if size.typ == v4l2FrmsizeTypeDiscrete {
			resolutions = append(resolutions, Resolution{Width: size.discrete.width, Height: size.discrete.height})
			continue
		}
		return append(resolutions, stepwiseResolutions(size.stepwise())...), nil
	}
	return resolutions, nil
}

// GetFramerates returns all supported framerates for a device, format, and resolution.
func GetFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	var framerates []Framerate

	for i := uint32(0); ; i++ {
		frmival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixelFormat,
			width:       width,
			height:      height,
		}

		if ioctlErr := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); ioctlErr != nil {
			if errors.Is(ioctlErr, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, ioctlErr)
		}

		switch frmival.typ {
		case v4l2FrmivalTypeDiscrete:
			framerates = append(framerates, Framerate{
				Numerator:   frmival.discrete.numerator,
				Denominator: frmival.discrete.denominator,
			})
		case v4l2FrmivalTypeContinuous, v4l2FrmivalTypeStepwise:
			return append(framerates, commonFramerates()...), nil
		}
	}

	return framerates, nil
}

// SupportsMode reports whether the device can capture pixelFormat at
// width x height and fps. Drivers that do not enumerate intervals are
// assumed to accept any rate for a supported size.
func SupportsMode(devicePath string, pixelFormat, width, height uint32, fps float64) (bool, error) {
	formats, err := GetFormats(devicePath)
	if err != nil {
		return false, err
	}
	if !hasFormat(formats, pixelFormat) {
		return false, nil
	}

	sizes, err := enumFrameSizes(devicePath, pixelFormat)
	if err != nil {
		return false, err
	}
	if len(sizes) > 0 && !sizeInList(sizes, width, height) {
		return false, nil
	}

	framerates, err := GetFramerates(devicePath, pixelFormat, width, height)
	if err != nil {
		return false, err
	}
	return len(framerates) == 0 || hasFramerate(framerates, fps), nil
}

func enumFrameSizes(devicePath string, pixelFormat uint32) ([]v4l2Frmsizeenum, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	var sizes []v4l2Frmsizeenum
	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{
			index:       i,
			pixelFormat: pixelFormat,
		}

		if ioctlErr := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); ioctlErr != nil {
			if errors.Is(ioctlErr, unix.EINVAL) {
				break
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(ioctlErr, unix.ENOTTY) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, ioctlErr)
		}

		sizes = append(sizes, frmsize)
		if frmsize.typ != v4l2FrmsizeTypeDiscrete {
			break // only one stepwise entry
		}
	}
	return sizes, nil
}

func hasFormat(formats []FormatInfo, pixelFormat uint32) bool {
	for _, f := range formats {
		if f.PixelFormat == pixelFormat {
			return true
		}
	}
	return false
}

func sizeInList(sizes []v4l2Frmsizeenum, width, height uint32) bool {
	for i := range sizes {
		size := &sizes[i]
		if size.typ == v4l2FrmsizeTypeDiscrete {
			if size.discrete.width == width && size.discrete.height == height {
				return true
			}
			continue
		}
		if stepwiseContains(size.stepwise(), width, height) {
			return true
		}
	}
	return false
}

func stepwiseContains(s *v4l2FrmsizeStepwise, width, height uint32) bool {
	if width < s.minWidth || width > s.maxWidth || height < s.minHeight || height > s.maxHeight {
		return false
	}
	if s.stepWidth > 1 && (width-s.minWidth)%s.stepWidth != 0 {
		return false
	}
	if s.stepHeight > 1 && (height-s.minHeight)%s.stepHeight != 0 {
		return false
	}
	return true
}

func hasFramerate(framerates []Framerate, fps float64) bool {
	for _, f := range framerates {
		if math.Abs(f.FPS()-fps) < 0.5 {
			return true
		}
	}
	return false
}

// stepwiseResolutions returns common resolutions within a stepwise range.
func stepwiseResolutions(s *v4l2FrmsizeStepwise) []Resolution {
	common := [][2]uint32{
		{320, 240},  // QVGA
		{640, 480},  // VGA
		{800, 600},  // SVGA
		{1024, 768}, // XGA
		{1280, 720}, // HD
		{1280, 960},
		{1280, 1024}, // SXGA
		{1920, 1080}, // Full HD
		{1920, 1200}, // WUXGA
		{2560, 1440}, // QHD
		{3840, 2160}, // 4K UHD
	}

	var resolutions []Resolution
	for _, res := range common {
		if stepwiseContains(s, res[0], res[1]) {
			resolutions = append(resolutions, Resolution{Width: res[0], Height: res[1]})
		}
	}
	return resolutions
}

func commonFramerates() []Framerate {
	return []Framerate{
		{1, 60},
		{1, 50},
		{1, 30},
		{1, 25},
		{1, 20},
		{1, 15},
		{1, 10},
		{1, 5},
	}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// ParseFourCC is the inverse of FormatFourCC. Names shorter than four
// characters are padded with spaces, as V4L2 does.
func ParseFourCC(name string) uint32 {
	b := []byte((name + "    ")[:4])
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
