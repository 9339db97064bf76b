package events

// Event type constants for kelindar/event.
const (
	TypeSessionState uint32 = iota + 1
	TypeObservation
	TypePipelineMessage
	TypeDevice
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateEvent is published on every coordinator transition.
type SessionStateEvent struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream"`
	State     string `json:"state"`            // running, stopping, stopped
	Reason    string `json:"reason,omitempty"` // signal, end_of_stream, bridge_broken, ...
	Error     string `json:"error,omitempty"`
	ExitCode  int    `json:"exit_code"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for SessionStateEvent.
func (e SessionStateEvent) Type() uint32 { return TypeSessionState }

// ObservationEvent carries one probe window result.
type ObservationEvent struct {
	Stream           string  `json:"stream"`
	Probe            string  `json:"probe"`
	NoData           bool    `json:"no_data"`
	Bytes            int64   `json:"bytes"`
	Frames           int64   `json:"frames"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	BandwidthMbps    float64 `json:"bandwidth_mbps"`
	Rate             float64 `json:"rate"`
	AvgFrameBytes    float64 `json:"avg_frame_bytes"`
	AvgBandwidthMbps float64 `json:"avg_bandwidth_mbps"`
	AvgRate          float64 `json:"avg_rate"`
	Timestamp        string  `json:"timestamp"`
}

// Type returns the event type identifier for ObservationEvent.
func (e ObservationEvent) Type() uint32 { return TypeObservation }

// PipelineMessageEvent mirrors a bus message from the pipeline engine.
type PipelineMessageEvent struct {
	Stream    string `json:"stream"`
	Kind      string `json:"kind"` // eos, error, warning
	Source    string `json:"source,omitempty"`
	Text      string `json:"text,omitempty"`
	Debug     string `json:"debug,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for PipelineMessageEvent.
func (e PipelineMessageEvent) Type() uint32 { return TypePipelineMessage }

// DeviceEvent represents a capture device hotplug event.
type DeviceEvent struct {
	Action     string `json:"action"` // add, remove
	DevicePath string `json:"device_path"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for DeviceEvent.
func (e DeviceEvent) Type() uint32 { return TypeDevice }
