//go:build !gst

package pipeline

import "errors"

func newGstEngine(Options) (Engine, error) {
	return nil, errors.New("gst engine not available: rebuild with -tags gst")
}
