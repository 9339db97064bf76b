package nats

import (
	"encoding/json"
	"fmt"
)

// SubjectStreamsPrefix roots every subject the relay publishes on.
const SubjectStreamsPrefix = "camrelay.streams"

// SubjectStreamMetrics returns the subject for a stream's metrics.
func SubjectStreamMetrics(stream string) string {
	return fmt.Sprintf("%s.%s.metrics", SubjectStreamsPrefix, stream)
}

// SubjectStreamState returns the subject for a stream's state changes.
func SubjectStreamState(stream string) string {
	return fmt.Sprintf("%s.%s.state", SubjectStreamsPrefix, stream)
}

// MetricsMessage carries one probe value.
type MetricsMessage struct {
	Stream    string  `json:"stream"`
	Timestamp string  `json:"timestamp"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
}

// Marshal serializes the message to JSON.
func (m MetricsMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// StateMessage carries a session state transition.
type StateMessage struct {
	Stream    string `json:"stream"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

// Marshal serializes the message to JSON.
func (m StateMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetrics deserializes a MetricsMessage from JSON.
func UnmarshalMetrics(data []byte) (MetricsMessage, error) {
	var m MetricsMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalState deserializes a StateMessage from JSON.
func UnmarshalState(data []byte) (StateMessage, error) {
	var m StateMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
