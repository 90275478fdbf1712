// Package formats maps V4L2 pixel formats to the GStreamer stages that turn
// captured samples into an RTP payload.
//
// Every format a capture device might report has an entry. Entries with no
// stages are known to exist but cannot be streamed.
package formats

import "github.com/jmylchreest/camstreamd/internal/v4l2"

// Profile is the GStreamer fragment for one pixel format. Any field may be empty.
type Profile struct {
	Caps      string `json:"caps,omitempty"`
	Converter string `json:"converter,omitempty"`
	Encoder   string `json:"encoder,omitempty"`
	Payloader string `json:"payloader,omitempty"`
}

// Streamable reports whether the profile names at least one stage.
func (p Profile) Streamable() bool {
	return p.Caps != "" || p.Converter != "" || p.Encoder != "" || p.Payloader != ""
}

// Passthrough reports whether the profile can stream without a colour conversion stage.
func (p Profile) Passthrough() bool {
	return p.Streamable() && p.Converter == ""
}

const (
	videoConvert = "videoconvert"
	jpegEnc      = "jpegenc"
	x264Enc      = "x264enc"
	rtpJPEGPay   = "rtpjpegpay"
	rtpH264Pay   = "rtph264pay"
	rtpDVPay     = "rtpdvpay"
	rtpMP4VPay   = "rtpmp4vpay"
)

func rawToJPEG(format string) Profile {
	return Profile{
		Caps:      "video/x-raw, format=" + format,
		Converter: videoConvert,
		Encoder:   jpegEnc,
		Payloader: rtpJPEGPay,
	}
}

func rawToH264(format string) Profile {
	return Profile{
		Caps:      "video/x-raw, format=" + format,
		Encoder:   x264Enc,
		Payloader: rtpH264Pay,
	}
}

var table = map[string]Profile{
	// RGB formats
	"RGB1": {}, "R444": {}, "RGB0": {}, "RGBP": {}, "RGBQ": {}, "RGBR": {},
	"BGR3": {}, "RGB3": {}, "BGR4": {}, "RGB4": {},

	// Grey formats
	"GREY": rawToJPEG("GREY8"),
	"Y10":  {},
	"Y16":  rawToJPEG("GREY16_LE"),

	// Palette formats
	"PAL8": {},

	// Luminance+Chrominance formats
	"YVU9": rawToJPEG("YVU9"),
	"YV12": rawToJPEG("YV12"),
	"YUYV": rawToJPEG("YUY2"),
	"YYUV": {},
	"YVYU": rawToJPEG("YVYU"),
	"UYVY": rawToJPEG("UYVY"),
	"VYUY": {},
	"422P": rawToJPEG("Y42B"),
	"411P": rawToJPEG("Y41B"),
	"Y41P": rawToJPEG("Y41B"),
	"Y444": {}, "YUVO": {}, "YUVP": {}, "YUV4": {}, "YUV9": {}, "YU12": {},
	"HI24": {}, "HM12": {},

	// Two planes, one luminance and one chrominance
	"NV12": rawToH264("NV12"),
	"NV21": rawToH264("NV21"),
	"NV16": rawToH264("NV16"),
	"NV61": rawToH264("NV61"),

	// Bayer formats
	"BA81": {}, "GBRG": {}, "GRBG": {}, "RGGB": {},
	"BG10": {}, "GB10": {}, "BA10": {}, "RG10": {}, "BD10": {}, "BYR2": {},

	// Compressed formats
	"MJPG": {Caps: "image/jpeg", Payloader: rtpJPEGPay},
	"JPEG": {Caps: "image/jpeg", Payloader: rtpJPEGPay},
	"dvsd": {Caps: "video/x-dv", Payloader: rtpDVPay},
	"MPEG": {Caps: "video/mpeg", Payloader: rtpMP4VPay},

	// Vendor-specific formats
	"CPIA": {}, "WNVA": {}, "S910": {}, "S920": {}, "PWC1": {}, "PWC2": {},
	"E625": {}, "S501": {}, "S505": {}, "S508": {}, "S561": {}, "P207": {},
	"M310": {}, "SONX": {}, "905C": {}, "PJPG": {}, "0511": {}, "0518": {},
	"S680": {},
}

var byCode = func() map[v4l2.PixelFormat]Profile {
	m := make(map[v4l2.PixelFormat]Profile, len(table))
	for code, p := range table {
		m[v4l2.MustParsePixelFormat(code)] = p
	}
	return m
}()

// Lookup returns the profile for f. ok is false for formats absent from the catalog.
func Lookup(f v4l2.PixelFormat) (p Profile, ok bool) {
	p, ok = byCode[f]
	return p, ok
}

// Codes returns every catalog format.
func Codes() []v4l2.PixelFormat {
	codes := make([]v4l2.PixelFormat, 0, len(byCode))
	for f := range byCode {
		codes = append(codes, f)
	}
	return codes
}

// Select picks the format to stream from a device's format list. The first
// passthrough format wins. Failing that, the first streamable format in device
// order is used. ok is false when no format is streamable.
func Select(available []v4l2.PixelFormat) (f v4l2.PixelFormat, ok bool) {
	var fallback v4l2.PixelFormat
	haveFallback := false

	for _, candidate := range available {
		p, known := Lookup(candidate)
		if !known || !p.Streamable() {
			continue
		}
		if p.Passthrough() {
			return candidate, true
		}
		if !haveFallback {
			fallback, haveFallback = candidate, true
		}
	}

	return fallback, haveFallback
}
