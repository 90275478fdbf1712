//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	bufTypeVideoCapture = 1
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2FmtDesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelFormat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	bytesPerLine uint32
	sizeImage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format. The kernel union contains pointers,
// so it is pointer-aligned: 208 bytes on 64-bit, 204 on 32-bit.
type v4l2Format struct {
	typ uint32
	fmt struct {
		_   [0]uintptr
		raw [200]byte
	}
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | uintptr('V')<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

var (
	vidiocQueryCap = ioc(iocRead, 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt  = ioc(iocRead|iocWrite, 2, unsafe.Sizeof(v4l2FmtDesc{}))
	vidiocGFmt     = ioc(iocRead|iocWrite, 4, unsafe.Sizeof(v4l2Format{}))
)

// IoctlReader reads device state through V4L2 ioctls.
type IoctlReader struct{}

// NewIoctlReader returns a Reader backed by the kernel.
func NewIoctlReader() *IoctlReader {
	return &IoctlReader{}
}

// Capabilities issues VIDIOC_QUERYCAP.
func (r *IoctlReader) Capabilities(path string) (Capabilities, error) {
	var caps Capabilities
	err := withDevice(path, func(fd int) error {
		var c v4l2Capability
		if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&c)); err != nil {
			return fmt.Errorf("%w: VIDIOC_QUERYCAP on %s: %w", ErrDeviceQueryFailed, path, err)
		}
		caps = Capabilities{
			Driver:  cString(c.driver[:]),
			Card:    cString(c.card[:]),
			BusInfo: cString(c.busInfo[:]),
			Version: c.version,
			Flags:   CapabilityFlag(c.capabilities),
		}
		return nil
	})
	return caps, err
}

// Formats issues VIDIOC_ENUM_FMT with increasing indices until the driver
// answers EINVAL, which marks the end of the list.
func (r *IoctlReader) Formats(path string) ([]PixelFormat, error) {
	var formats []PixelFormat
	err := withDevice(path, func(fd int) error {
		for index := uint32(0); ; index++ {
			desc := v4l2FmtDesc{index: index, typ: bufTypeVideoCapture}
			err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc))
			if errors.Is(err, unix.EINVAL) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: VIDIOC_ENUM_FMT[%d] on %s: %w", ErrDeviceQueryFailed, index, path, err)
			}
			if desc.pixelFormat != 0 {
				formats = append(formats, PixelFormat(desc.pixelFormat))
			}
		}
	})
	return formats, err
}

// FrameSize issues VIDIOC_G_FMT for the capture buffer type.
func (r *IoctlReader) FrameSize(path string) (uint32, uint32, error) {
	var width, height uint32
	err := withDevice(path, func(fd int) error {
		f := v4l2Format{typ: bufTypeVideoCapture}
		if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
			return fmt.Errorf("%w: VIDIOC_G_FMT on %s: %w", ErrDeviceQueryFailed, path, err)
		}
		pix := (*v4l2PixFormat)(unsafe.Pointer(&f.fmt.raw[0]))
		width, height = pix.width, pix.height
		return nil
	})
	return width, height, err
}

func withDevice(path string, fn func(fd int) error) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrDeviceUnavailable, path, err)
	}
	defer unix.Close(fd)
	return fn(fd)
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
