//go:build !linux

package v4l2

import "fmt"

// IoctlReader reports every device as unavailable on platforms without V4L2.
type IoctlReader struct{}

// NewIoctlReader returns a Reader that always fails with ErrDeviceUnavailable.
func NewIoctlReader() *IoctlReader {
	return &IoctlReader{}
}

// Capabilities always fails.
func (r *IoctlReader) Capabilities(path string) (Capabilities, error) {
	return Capabilities{}, fmt.Errorf("%w: %s: V4L2 requires linux", ErrDeviceUnavailable, path)
}

// Formats always fails.
func (r *IoctlReader) Formats(path string) ([]PixelFormat, error) {
	return nil, fmt.Errorf("%w: %s: V4L2 requires linux", ErrDeviceUnavailable, path)
}

// FrameSize always fails.
func (r *IoctlReader) FrameSize(path string) (uint32, uint32, error) {
	return 0, 0, fmt.Errorf("%w: %s: V4L2 requires linux", ErrDeviceUnavailable, path)
}
