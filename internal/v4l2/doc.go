// Package v4l2 queries Video4Linux2 capture devices without cgo.
//
// It covers the small part of the V4L2 API that stream composition needs:
// the capability bitmask (VIDIOC_QUERYCAP), the list of pixel formats a
// device can emit (VIDIOC_ENUM_FMT) and the frame geometry currently
// configured on it (VIDIOC_G_FMT).
//
// # Devices
//
// An Enumerator globs device nodes, drops blacklisted names and orders the
// result by ordinal so that /dev/video2 sorts before /dev/video10:
//
//	e := v4l2.NewEnumerator("/dev/video*", []string{"video1"})
//	devices, err := e.Devices()
//
// # Capabilities
//
// Reader is the query interface; IoctlReader is the kernel implementation.
// Nothing is cached, each call opens the device and issues fresh ioctls:
//
//	r := v4l2.NewIoctlReader()
//	caps, err := r.Capabilities("/dev/video0")
//	if caps.Has(v4l2.CapStreaming) {
//	    formats, _ := r.Formats("/dev/video0")
//	}
package v4l2
