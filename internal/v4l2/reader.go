package v4l2

import "errors"

// Errors returned by Reader implementations.
var (
	// ErrDeviceUnavailable means the device node could not be opened.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrDeviceQueryFailed means the device opened but an ioctl was rejected.
	ErrDeviceQueryFailed = errors.New("device query failed")
)

// Reader queries a capture device. Implementations never cache; every call
// reflects the device as it is now.
type Reader interface {
	// Capabilities returns the device capability set.
	Capabilities(path string) (Capabilities, error)
	// Formats returns the pixel formats the device emits, in driver order.
	Formats(path string) ([]PixelFormat, error)
	// FrameSize returns the currently configured capture width and height.
	FrameSize(path string) (width, height uint32, err error)
}
