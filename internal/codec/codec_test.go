package codec

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/relayerr"
)

func TestClampQuality(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, 1}, {0, 1}, {1, 1}, {85, 85}, {100, 100}, {250, 100},
	}
	for _, tt := range tests {
		if got := ClampQuality(tt.in); got != tt.want {
			t.Errorf("ClampQuality(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func frame(format capture.PixelFormat, w, h int) capture.Frame {
	data := make([]byte, format.FrameSize(w, h))
	for i := range data {
		data[i] = byte(i * 7)
	}
	return capture.Frame{Data: data, Format: format, Width: w, Height: h, Seq: 42, Timestamp: time.Unix(100, 0)}
}

func TestEncodeFormats(t *testing.T) {
	formats := []capture.PixelFormat{
		capture.FormatYUYV,
		capture.FormatRGB24,
		capture.FormatBGR24,
		capture.FormatRGBA,
		capture.FormatGRAY8,
	}

	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			enc, err := Encode(frame(format, 64, 32), 90)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if enc.Seq != 42 || !enc.Timestamp.Equal(time.Unix(100, 0)) {
				t.Errorf("metadata not carried: seq=%d ts=%v", enc.Seq, enc.Timestamp)
			}

			data := enc.Data
			if data[0] != 0xFF || data[1] != 0xD8 || data[len(data)-2] != 0xFF || data[len(data)-1] != 0xD9 {
				t.Error("output is not a single SOI..EOI JPEG")
			}

			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("output does not decode: %v", err)
			}
			if cfg.Width != 64 || cfg.Height != 32 {
				t.Errorf("decoded size %dx%d, want 64x32", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestEncodeOutOfRangeQuality(t *testing.T) {
	for _, q := range []int{0, -1, 1000} {
		if _, err := Encode(frame(capture.FormatYUYV, 16, 16), q); err != nil {
			t.Errorf("Encode(quality=%d) error = %v", q, err)
		}
	}
}

func TestEncodeLengthMismatch(t *testing.T) {
	f := frame(capture.FormatYUYV, 16, 16)
	f.Data = f.Data[:len(f.Data)-1]

	_, err := Encode(f, 85)
	if !relayerr.IsCode(err, relayerr.EncodeFailed) {
		t.Errorf("Encode() = %v, want EncodeFailed", err)
	}
}

func TestEncodeBadDimensions(t *testing.T) {
	f := frame(capture.FormatGRAY8, 4, 4)
	f.Width = 0

	if _, err := Encode(f, 85); !relayerr.IsCode(err, relayerr.EncodeFailed) {
		t.Errorf("Encode() = %v, want EncodeFailed", err)
	}
}

func TestEncodeMJPEGPassthrough(t *testing.T) {
	raw, err := Encode(frame(capture.FormatGRAY8, 8, 8), 85)
	if err != nil {
		t.Fatal(err)
	}

	in := capture.Frame{Data: raw.Data, Format: capture.FormatMJPEG, Width: 8, Height: 8, Seq: 3}
	out, err := Encode(in, 10)
	if err != nil {
		t.Fatalf("Encode(MJPEG) error = %v", err)
	}
	if !bytes.Equal(out.Data, raw.Data) {
		t.Error("MJPEG frames must pass through unchanged")
	}

	in.Data = []byte{0x00, 0x01, 0x02}
	if _, err := Encode(in, 85); !relayerr.IsCode(err, relayerr.EncodeFailed) {
		t.Errorf("garbage MJPEG = %v, want EncodeFailed", err)
	}
}

func TestYUYVKeepsLuma(t *testing.T) {
	// Y0 U Y1 V for a 2x1 image
	img := yuyvToYCbCr([]byte{10, 100, 20, 200}, 2, 1)
	if img.Y[0] != 10 || img.Y[1] != 20 {
		t.Errorf("luma = %v", img.Y[:2])
	}
	if img.Cb[0] != 100 || img.Cr[0] != 200 {
		t.Errorf("chroma = %d/%d", img.Cb[0], img.Cr[0])
	}
}
