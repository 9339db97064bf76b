// Package nats publishes relay metrics and session state over NATS and can
// host an embedded NATS server for single-box setups.
//
// # Subject Hierarchy
//
//	camrelay.streams.{stream}.metrics   # one message per probe value
//	camrelay.streams.{stream}.state     # session state transitions
//
// Messaging is fire-and-forget core NATS (no JetStream). The publisher
// degrades gracefully: when the server is unreachable the relay keeps
// running and every Export returns an error the probe logs and drops.
//
// # Debugging with nats CLI
//
// Monitor everything a relay publishes:
//
//	nats sub "camrelay.streams.>"
//
// Monitor one stream's metrics, pretty-printed:
//
//	nats sub "camrelay.streams.my_stream.metrics" | jq .
//
// # Message Formats
//
// MetricsMessage (camrelay.streams.{stream}.metrics):
//
//	{
//	  "stream": "my_stream",
//	  "timestamp": "2024-01-01T12:00:00Z",
//	  "name": "ingress_bandwidth_mbps",
//	  "value": 4.8
//	}
//
// StateMessage (camrelay.streams.{stream}.state):
//
//	{
//	  "stream": "my_stream",
//	  "session_id": "6f1c...",
//	  "timestamp": "2024-01-01T12:00:00Z",
//	  "state": "stopping",
//	  "reason": "bridge_broken"
//	}
package nats
