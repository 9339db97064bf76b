package pipeline

import (
	"fmt"
	"strings"
)

// Payload selects how the sender packs frames onto RTP.
type Payload string

// Sender payloads.
const (
	PayloadJPEG Payload = "jpeg"
	PayloadH264 Payload = "h264"
)

// Element names the receiver taps attach to.
const (
	ElementSource  = "source"
	ElementDecoder = "jpeg_decoder"
	ElementEncoder = "encoder"
)

// SenderParams describes the sender pipeline fed through stdin.
type SenderParams struct {
	Framerate   int
	Host        string
	Port        int
	Payload     Payload
	Bitrate     int // kbit/s, h264 only
	SpeedPreset string
}

// SenderDescription returns the gst-launch description that reads
// concatenated JPEG images from fd 0 and sends them as RTP over UDP.
func SenderDescription(p SenderParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "fdsrc fd=0 do-timestamp=true ! image/jpeg,framerate=%d/1 ! jpegparse ! queue ! ", p.Framerate)

	switch p.Payload {
	case PayloadH264:
		preset := p.SpeedPreset
		if preset == "" {
			preset = "superfast"
		}
		fmt.Fprintf(&b, "jpegdec ! videoconvert ! x264enc tune=zerolatency bitrate=%d speed-preset=%s ! rtph264pay ! ", p.Bitrate, preset)
	default:
		b.WriteString("rtpjpegpay ! ")
	}

	fmt.Fprintf(&b, "udpsink host=%s port=%d sync=false", p.Host, p.Port)
	return b.String()
}

// ReceiverParams describes the receive/transcode/publish pipeline.
type ReceiverParams struct {
	// Address restricts udpsrc to one local address; empty listens on all.
	Address     string
	Port        int
	Width       int
	Height      int
	Bitrate     int
	SpeedPreset string
	SrtHost     string
	SrtPort     int
	StreamName  string
}

// ReceiverDescription returns the description that receives RTP/JPEG,
// transcodes to H.264 and publishes MPEG-TS over SRT.
func ReceiverDescription(p ReceiverParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "udpsrc name=%s port=%d ", ElementSource, p.Port)
	if p.Address != "" {
		fmt.Fprintf(&b, "address=%s ", p.Address)
	}
	b.WriteString("! application/x-rtp,encoding-name=JPEG,payload=26 ! rtpjpegdepay ! ")
	fmt.Fprintf(&b, "jpegdec name=%s ! videoconvert ! videoscale ! ", ElementDecoder)
	fmt.Fprintf(&b, "video/x-raw,width=%d,height=%d ! ", p.Width, p.Height)
	fmt.Fprintf(&b, "x264enc name=%s bitrate=%d speed-preset=%s key-int-max=10 bframes=0 tune=zerolatency ! ", ElementEncoder, p.Bitrate, p.SpeedPreset)
	b.WriteString("h264parse ! mpegtsmux alignment=7 ! ")
	fmt.Fprintf(&b, `srtsink uri="srt://%s:%d?streamid=publish:%s" sync=false`, p.SrtHost, p.SrtPort, p.StreamName)
	return b.String()
}

// LaunchArgs splits a description into gst-launch arguments. Whitespace
// separates arguments except inside double quotes; the quotes are kept so
// gst-launch sees quoted property values intact.
func LaunchArgs(description string) []string {
	var args []string
	var cur strings.Builder
	inQuotes := false

	for _, r := range description {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}
