package config

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/spf13/pflag"
)

// Scopes select which command a field's flag is registered on.
const (
	ScopeRoot    = "root"
	ScopeAll     = "all"
	ScopeStream  = "stream"
	ScopeReceive = "receive"
)

// Options for the CLI - flat structure with toml mapping. Read once at
// startup and treated as immutable afterwards.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"camrelay.toml" scope:"root"`

	// Stream identity
	StreamName string `help:"Stream name used for metrics and the SRT stream id" default:"my_stream" toml:"stream.name" env:"STREAM_NAME" scope:"all"`

	// Capture settings
	CaptureDriver     string `help:"Capture backend (v4l2, mediadevices, testsrc, folder)" default:"v4l2" toml:"capture.driver" env:"CAPTURE_DRIVER" scope:"stream"`
	CaptureDevice     string `help:"Capture device path; empty scans all devices" toml:"capture.device" env:"CAPTURE_DEVICE" scope:"stream"`
	CaptureNameFilter string `help:"Substring the device card name must contain (e.g. RealSense)" toml:"capture.name_filter" env:"CAPTURE_NAME_FILTER" scope:"stream"`
	CaptureFormat     string `help:"Pixel format (YUYV, MJPEG, RGB24, BGR24, GRAY8)" default:"YUYV" toml:"capture.format" env:"CAPTURE_FORMAT" scope:"stream"`
	CaptureImageDir   string `help:"Image directory for the folder driver" toml:"capture.image_dir" env:"CAPTURE_IMAGE_DIR" scope:"stream"`
	Width             int    `help:"Capture width" default:"1280" toml:"capture.width" env:"WIDTH" scope:"stream"`
	Height            int    `help:"Capture height" default:"720" toml:"capture.height" env:"HEIGHT" scope:"stream"`
	Framerate         int    `help:"Capture frame rate" default:"30" toml:"capture.framerate" env:"FRAMERATE" scope:"stream"`

	// Encode settings
	Quality     int    `help:"JPEG quality (1-100, clamped)" default:"85" toml:"encode.quality" env:"QUALITY" scope:"stream"`
	Payload     string `help:"Sender RTP payload (jpeg, h264)" default:"jpeg" toml:"encode.payload" env:"PAYLOAD" scope:"stream"`
	Bitrate     int    `help:"H.264 bitrate in kbit/s" default:"2000" toml:"encode.bitrate" env:"BITRATE" scope:"all"`
	SpeedPreset string `help:"x264 speed preset" default:"medium" toml:"encode.speed_preset" env:"SPEED_PRESET" scope:"all"`

	// Network settings
	ReceiverHost string `help:"Receiver host the sender transmits to" default:"127.0.0.1" toml:"network.receiver_host" env:"RECEIVER_IP" scope:"stream"`
	ReceiverPort int    `help:"Receiver UDP port" default:"5554" toml:"network.receiver_port" env:"RECEIVER_PORT" scope:"all"`
	SrtHost      string `help:"SRT server host" default:"127.0.0.1" toml:"network.srt_host" env:"SRT_IP" scope:"receive"`
	SrtPort      int    `help:"SRT server port" default:"8890" toml:"network.srt_port" env:"SRT_PORT" scope:"receive"`
	OutputWidth  int    `help:"Transcoded output width" default:"640" toml:"receive.width" env:"OUTPUT_WIDTH" scope:"receive"`
	OutputHeight int    `help:"Transcoded output height" default:"480" toml:"receive.height" env:"OUTPUT_HEIGHT" scope:"receive"`

	// Pipeline engine settings
	Engine          string        `help:"Pipeline engine (launch, gst)" default:"launch" toml:"pipeline.engine" env:"PIPELINE_ENGINE" scope:"receive"`
	GstLaunch       string        `help:"gst-launch binary" default:"gst-launch-1.0" toml:"pipeline.gst_launch" env:"GST_LAUNCH" scope:"all"`
	EOSGrace        time.Duration `help:"Time the subprocess gets to drain after end of stream before SIGINT" default:"2s" toml:"pipeline.eos_grace" env:"EOS_GRACE" scope:"all"`
	GracefulTimeout time.Duration `help:"Time the subprocess gets to exit before it is killed" default:"5s" toml:"pipeline.graceful_timeout" env:"GRACEFUL_TIMEOUT" scope:"all"`

	// Monitoring settings
	MonitoringEnabled bool          `help:"Enable bandwidth and frame rate probes" default:"false" toml:"monitoring.enabled" env:"ENABLE_MONITORING" scope:"all"`
	MonitoringWindow  time.Duration `help:"Probe window length" default:"1s" toml:"monitoring.window" env:"MONITORING_WINDOW" scope:"all"`
	MonitoringHistory int           `help:"Number of windows in the rolling average" default:"5" toml:"monitoring.history" env:"MONITORING_HISTORY" scope:"all"`

	// Metrics export settings
	MetricsPrometheusAddr string `help:"Serve Prometheus metrics on this address (empty disables)" toml:"metrics.prometheus_addr" env:"METRICS_PROMETHEUS_ADDR" scope:"all"`
	MetricsNatsURL        string `help:"Publish metrics to this NATS server (empty disables)" toml:"metrics.nats_url" env:"METRICS_NATS_URL" scope:"all"`
	MetricsNatsUser       string `help:"NATS user" toml:"metrics.nats_user" env:"METRICS_NATS_USER" scope:"all"`
	MetricsNatsPassword   string `help:"NATS password" toml:"metrics.nats_password" env:"METRICS_NATS_PASSWORD" scope:"all"`
	MetricsNatsToken      string `help:"NATS token" toml:"metrics.nats_token" env:"METRICS_NATS_TOKEN" scope:"all"`
	MetricsNatsEmbedded   bool   `help:"Run an embedded NATS server and publish metrics to it" default:"false" toml:"metrics.nats_embedded" env:"METRICS_NATS_EMBEDDED" scope:"all"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" flag:"log-level" toml:"logging.level" env:"LOGGING_LEVEL" scope:"root"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" flag:"log-format" toml:"logging.format" env:"LOGGING_FORMAT" scope:"root"`
}

// Defaults returns Options populated from the default tags.
func Defaults() *Options {
	opts := &Options{}
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if def, ok := t.Field(i).Tag.Lookup("default"); ok {
			_ = setFieldValueFromString(v.Field(i), def)
		}
	}
	return opts
}

// RegisterFlags binds one flag per Options field in scope to fs, using the
// help, short and default tags. Flag values write straight into opts.
// Fields scoped "all" go on every subcommand; "root" fields only on the
// root's persistent set.
func RegisterFlags(fs *pflag.FlagSet, opts *Options, scope string) {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldScope := field.Tag.Get("scope")
		if fieldScope != scope && (fieldScope != ScopeAll || scope == ScopeRoot) {
			continue
		}

		name := flagName(field)
		short := field.Tag.Get("short")
		help := field.Tag.Get("help")
		def := field.Tag.Get("default")
		ptr := v.Field(i).Addr().Interface()

		switch p := ptr.(type) {
		case *string:
			fs.StringVarP(p, name, short, def, help)
		case *int:
			n, _ := strconv.Atoi(def)
			fs.IntVarP(p, name, short, n, help)
		case *bool:
			b, _ := strconv.ParseBool(def)
			fs.BoolVarP(p, name, short, b, help)
		case *time.Duration:
			d, _ := time.ParseDuration(def)
			fs.DurationVarP(p, name, short, d, help)
		}
	}
}

// Validate checks the values a session depends on.
func (o *Options) Validate(scope string) error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(o.StreamName != "" && !strings.ContainsAny(o.StreamName, " .*>"), "stream name %q must be non-empty without spaces, dots or wildcards", o.StreamName)
	check(o.MonitoringWindow > 0, "monitoring window must be positive")
	check(o.EOSGrace > 0, "eos grace must be positive")
	check(o.GracefulTimeout > 0, "graceful timeout must be positive")
	check(validPort(o.ReceiverPort), "receiver port %d out of range", o.ReceiverPort)

	switch scope {
	case ScopeStream:
		check(o.Width > 0 && o.Height > 0, "capture size %dx%d must be positive", o.Width, o.Height)
		check(o.Framerate > 0, "frame rate must be positive")
		check(o.Payload == "jpeg" || o.Payload == "h264", "payload %q must be jpeg or h264", o.Payload)
		check(net.ParseIP(o.ReceiverHost) != nil || o.ReceiverHost == "localhost", "receiver host %q is not an IP address", o.ReceiverHost)
		if o.CaptureDriver == "folder" {
			check(o.CaptureImageDir != "", "folder driver needs an image directory")
		}
	case ScopeReceive:
		check(o.OutputWidth > 0 && o.OutputHeight > 0, "output size %dx%d must be positive", o.OutputWidth, o.OutputHeight)
		check(validPort(o.SrtPort), "SRT port %d out of range", o.SrtPort)
		check(o.Engine == "launch" || o.Engine == "gst", "engine %q must be launch or gst", o.Engine)
		check(o.Bitrate > 0, "bitrate must be positive")
	}

	if len(problems) > 0 {
		return relayerr.New(relayerr.InvalidConfig, "validate", strings.Join(problems, "; "))
	}
	return nil
}

// LoggingConfig converts the logging options for logging.Initialize.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:   o.LoggingLevel,
		Format:  o.LoggingFormat,
		Modules: LoadLoggingModules(o.Config),
	}
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
