// Package testutil provides fake capture devices and media servers for tests.
package testutil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// FakeDevice is the state a FakeReader reports for one device path.
type FakeDevice struct {
	Caps    v4l2.Capabilities
	Formats []v4l2.PixelFormat
	Width   uint32
	Height  uint32

	CapsErr    error
	FormatsErr error
	SizeErr    error
}

// FakeReader is an in-memory v4l2.Reader. It is safe for concurrent use and
// may be reconfigured while in use to simulate devices changing under load.
type FakeReader struct {
	mu      sync.Mutex
	devices map[string]FakeDevice
	queries int
}

// NewFakeReader returns a reader with no devices.
func NewFakeReader() *FakeReader {
	return &FakeReader{devices: make(map[string]FakeDevice)}
}

// Set installs or replaces the device at path.
func (r *FakeReader) Set(path string, d FakeDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[path] = d
}

// Remove drops the device at path, as if it were unplugged.
func (r *FakeReader) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, path)
}

// Paths returns the configured device paths in no particular order.
func (r *FakeReader) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.devices))
	for p := range r.devices {
		paths = append(paths, p)
	}
	return paths
}

// Queries returns the number of reader calls made so far.
func (r *FakeReader) Queries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries
}

func (r *FakeReader) lookup(path string) (FakeDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	d, ok := r.devices[path]
	if !ok {
		return FakeDevice{}, fmt.Errorf("%w: %s", v4l2.ErrDeviceUnavailable, path)
	}
	return d, nil
}

// Capabilities implements v4l2.Reader.
func (r *FakeReader) Capabilities(path string) (v4l2.Capabilities, error) {
	d, err := r.lookup(path)
	if err != nil {
		return v4l2.Capabilities{}, err
	}
	if d.CapsErr != nil {
		return v4l2.Capabilities{}, d.CapsErr
	}
	return d.Caps, nil
}

// Formats implements v4l2.Reader.
func (r *FakeReader) Formats(path string) ([]v4l2.PixelFormat, error) {
	d, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	if d.FormatsErr != nil {
		return nil, d.FormatsErr
	}
	return append([]v4l2.PixelFormat(nil), d.Formats...), nil
}

// FrameSize implements v4l2.Reader.
func (r *FakeReader) FrameSize(path string) (uint32, uint32, error) {
	d, err := r.lookup(path)
	if err != nil {
		return 0, 0, err
	}
	if d.SizeErr != nil {
		return 0, 0, d.SizeErr
	}
	return d.Width, d.Height, nil
}

// USBCamera is a typical UVC webcam offering MJPG and YUYV.
func USBCamera() FakeDevice {
	return FakeDevice{
		Caps: v4l2.Capabilities{
			Driver:  "uvcvideo",
			Card:    "HD USB Camera",
			BusInfo: "usb-0000:00:14.0-1",
			Version: 6<<16 | 1<<8,
			Flags:   v4l2.CapVideoCapture | v4l2.CapStreaming,
		},
		Formats: []v4l2.PixelFormat{v4l2.PixelFormatYUYV, v4l2.PixelFormatMJPG},
		Width:   1280,
		Height:  720,
	}
}

// CSICamera is a raw sensor pipeline offering only converted formats.
func CSICamera() FakeDevice {
	return FakeDevice{
		Caps: v4l2.Capabilities{
			Driver: "unicam",
			Card:   "unicam",
			Flags:  v4l2.CapVideoCapture | v4l2.CapStreaming | v4l2.CapReadWrite,
		},
		Formats: []v4l2.PixelFormat{
			v4l2.MustParsePixelFormat("RGB3"),
			v4l2.PixelFormatYUYV,
			v4l2.MustParsePixelFormat("UYVY"),
		},
		Width:  1920,
		Height: 1080,
	}
}

// MetadataNode is a capture node without streaming support, like the second
// node a UVC camera exposes.
func MetadataNode() FakeDevice {
	return FakeDevice{
		Caps: v4l2.Capabilities{
			Driver: "uvcvideo",
			Card:   "HD USB Camera",
			Flags:  v4l2.CapReadWrite,
		},
		Formats: []v4l2.PixelFormat{v4l2.MustParsePixelFormat("UVCH")},
	}
}
