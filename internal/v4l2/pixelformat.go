package v4l2

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPixelFormat is returned when a textual FourCC cannot be packed.
var ErrInvalidPixelFormat = errors.New("invalid pixel format")

// PixelFormat is a V4L2 FourCC packed little-endian into 32 bits, exactly as
// the kernel reports it in v4l2_fmtdesc.pixelformat.
type PixelFormat uint32

// Frequently referenced formats.
var (
	PixelFormatMJPG = MustParsePixelFormat("MJPG")
	PixelFormatYUYV = MustParsePixelFormat("YUYV")
	PixelFormatH264 = MustParsePixelFormat("H264")
	PixelFormatNV12 = MustParsePixelFormat("NV12")
	PixelFormatGREY = MustParsePixelFormat("GREY")
)

// ParsePixelFormat packs a 1-4 character ASCII code. Codes shorter than four
// characters are padded with spaces, so "Y10" and "Y10 " are the same format.
func ParsePixelFormat(s string) (PixelFormat, error) {
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("%w: %q must be 1-4 characters", ErrInvalidPixelFormat, s)
	}

	var b [4]byte
	for i := range b {
		if i >= len(s) {
			b[i] = ' '
			continue
		}
		if s[i] < 0x20 || s[i] > 0x7e {
			return 0, fmt.Errorf("%w: %q contains non-printable characters", ErrInvalidPixelFormat, s)
		}
		b[i] = s[i]
	}

	return PixelFormat(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), nil
}

// MustParsePixelFormat is ParsePixelFormat for package-level literals.
func MustParsePixelFormat(s string) PixelFormat {
	f, err := ParsePixelFormat(s)
	if err != nil {
		panic(err)
	}
	return f
}

// String unpacks the code into its textual form with trailing space padding removed.
func (f PixelFormat) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.TrimRight(string(b), " ")
}

// MarshalText implements encoding.TextMarshaler.
func (f PixelFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *PixelFormat) UnmarshalText(text []byte) error {
	parsed, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
