// Package codec compresses captured frames into self-delimited JPEG images.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// DefaultQuality matches the sender's historical JPEG quality.
const DefaultQuality = 85

// EncodedFrame is one complete JPEG image (SOI through EOI).
type EncodedFrame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// ClampQuality limits q to the JPEG range [1, 100].
func ClampQuality(q int) int {
	return min(max(q, 1), 100)
}

// Encode converts a raw frame into a JPEG. MJPEG frames pass through after a
// marker check. The only failure is a frame whose size does not match its
// declared format.
func Encode(f capture.Frame, quality int) (EncodedFrame, error) {
	const op = "encode"

	if f.Width <= 0 || f.Height <= 0 {
		return EncodedFrame{}, relayerr.New(relayerr.EncodeFailed, op, "frame dimensions must be positive").
			With("width", f.Width).With("height", f.Height).With("seq", f.Seq)
	}

	if f.Format.Compressed() {
		if !isJPEG(f.Data) {
			return EncodedFrame{}, relayerr.New(relayerr.EncodeFailed, op, "MJPEG frame does not start with an SOI marker").With("seq", f.Seq)
		}
		return EncodedFrame{Data: f.Data, Seq: f.Seq, Timestamp: f.Timestamp}, nil
	}

	if want := f.Format.FrameSize(f.Width, f.Height); want == 0 || len(f.Data) != want {
		return EncodedFrame{}, relayerr.New(relayerr.EncodeFailed, op,
			fmt.Sprintf("%s frame %dx%d has %d bytes, want %d", f.Format, f.Width, f.Height, len(f.Data), want)).With("seq", f.Seq)
	}

	img := toImage(f)

	var buf bytes.Buffer
	buf.Grow(len(f.Data) / 8)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return EncodedFrame{}, relayerr.Wrap(relayerr.EncodeFailed, op, "jpeg encoder failed", err).With("seq", f.Seq)
	}

	return EncodedFrame{Data: buf.Bytes(), Seq: f.Seq, Timestamp: f.Timestamp}, nil
}

func isJPEG(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
}

// toImage wraps or converts the frame buffer. The length has already been checked.
func toImage(f capture.Frame) image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case capture.FormatGRAY8:
		return &image.Gray{Pix: f.Data, Stride: f.Width, Rect: rect}

	case capture.FormatRGBA:
		return &image.RGBA{Pix: f.Data, Stride: f.Width * 4, Rect: rect}

	case capture.FormatRGB24, capture.FormatBGR24:
		img := image.NewRGBA(rect)
		r, b := 0, 2
		if f.Format == capture.FormatBGR24 {
			r, b = 2, 0
		}
		for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
			img.Pix[j] = f.Data[i+r]
			img.Pix[j+1] = f.Data[i+1]
			img.Pix[j+2] = f.Data[i+b]
			img.Pix[j+3] = 0xFF
		}
		return img

	default: // YUYV
		return yuyvToYCbCr(f.Data, f.Width, f.Height)
	}
}

// yuyvToYCbCr unpacks packed 4:2:2 into planar YCbCr without colour conversion.
// An odd final column reuses the chroma of its pair.
func yuyvToYCbCr(data []byte, width, height int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	cw := (width + 1) / 2

	for y := 0; y < height; y++ {
		row := data[y*width*2 : (y+1)*width*2]
		yRow := img.Y[y*img.YStride:]
		cRow := y * img.CStride
		for x := 0; x < width; x++ {
			yRow[x] = row[x*2]
		}
		for cx := 0; cx < cw; cx++ {
			base := cx * 4
			if base+3 >= len(row) {
				if cx == 0 {
					img.Cb[cRow], img.Cr[cRow] = 128, 128
					break
				}
				base = (cx - 1) * 4
			}
			img.Cb[cRow+cx] = row[base+1]
			img.Cr[cRow+cx] = row[base+3]
		}
	}
	return img
}
