// Package bridge owns the external encoder subprocess of a relay session.
//
// A Handle wraps one running process:
//   - stdin is the byte-stream sink; Write delivers one encoded frame
//   - stdout and stderr are streamed line by line through a LogParser
//   - a write to a process that has gone away is BridgeBroken, never a crash
//   - Stop closes stdin, sends SIGINT, and escalates to SIGKILL after a timeout
//
// Example:
//
//	h, err := bridge.Start(ctx, bridge.Config{
//	    Command: "gst-launch-1.0 -e fdsrc fd=0 ! jpegparse ! rtpjpegpay ! udpsink host=10.0.0.2 port=5554",
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Stop()
//	err = h.Write(jpegBytes)
package bridge
