package stream

import "errors"

// Registry operation errors. Builder rejections from the gst package are
// wrapped and returned unchanged so callers can match them with errors.Is.
var (
	ErrInvalidDevice    = errors.New("invalid device")
	ErrInvalidMountPath = errors.New("invalid mount path")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidPort      = errors.New("invalid port")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrTooManyStreams   = errors.New("stream id space exhausted")
)
