package pipeline

import (
	"context"
	"os/exec"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
)

// DefaultGstInspect is the gst-inspect binary looked up on PATH.
const DefaultGstInspect = "gst-inspect-1.0"

// CheckElements reports which elements gst-inspect-1.0 cannot find. Missing
// elements are logged as warnings; a missing gst-inspect marks every element
// missing.
func CheckElements(ctx context.Context, names ...string) []string {
	return checkElements(ctx, DefaultGstInspect, logging.GetLogger("pipeline"), names...)
}

func checkElements(ctx context.Context, inspect string, logger logging.Logger, names ...string) []string {
	var missing []string
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := exec.CommandContext(cctx, inspect, "--exists", name).Run()
		cancel()
		if err != nil {
			missing = append(missing, name)
			logger.Warn("GStreamer element not available", "element", name, "error", err)
		}
	}
	return missing
}

// SenderElements lists the elements a sender description needs.
func SenderElements(p Payload) []string {
	elems := []string{"fdsrc", "jpegparse", "queue", "udpsink"}
	if p == PayloadH264 {
		return append(elems, "jpegdec", "videoconvert", "x264enc", "rtph264pay")
	}
	return append(elems, "rtpjpegpay")
}

// ReceiverElements lists the elements the receiver description needs.
func ReceiverElements() []string {
	return []string{
		"udpsrc", "rtpjpegdepay", "jpegdec", "videoconvert", "videoscale",
		"x264enc", "h264parse", "mpegtsmux", "srtsink",
	}
}
