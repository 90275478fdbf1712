package formats

import (
	"testing"

	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pf(s string) v4l2.PixelFormat { return v4l2.MustParsePixelFormat(s) }

func TestLookup(t *testing.T) {
	tests := []struct {
		code     string
		expected Profile
	}{
		{"MJPG", Profile{Caps: "image/jpeg", Payloader: "rtpjpegpay"}},
		{"YUYV", Profile{Caps: "video/x-raw, format=YUY2", Converter: "videoconvert", Encoder: "jpegenc", Payloader: "rtpjpegpay"}},
		{"GREY", Profile{Caps: "video/x-raw, format=GREY8", Converter: "videoconvert", Encoder: "jpegenc", Payloader: "rtpjpegpay"}},
		{"NV12", Profile{Caps: "video/x-raw, format=NV12", Encoder: "x264enc", Payloader: "rtph264pay"}},
		{"dvsd", Profile{Caps: "video/x-dv", Payloader: "rtpdvpay"}},
		{"MPEG", Profile{Caps: "video/mpeg", Payloader: "rtpmp4vpay"}},
		{"RGB3", Profile{}},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p, ok := Lookup(pf(tt.code))
			require.True(t, ok)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestLookup_Absent(t *testing.T) {
	_, ok := Lookup(pf("H264"))
	assert.False(t, ok)
}

func TestProfile_Streamable(t *testing.T) {
	assert.False(t, Profile{}.Streamable())
	assert.True(t, Profile{Payloader: "rtpjpegpay"}.Streamable())

	assert.False(t, Profile{}.Passthrough())
	assert.True(t, Profile{Caps: "image/jpeg"}.Passthrough())
	assert.False(t, Profile{Caps: "video/x-raw", Converter: "videoconvert"}.Passthrough())
}

func TestCodes_RoundTrip(t *testing.T) {
	codes := Codes()
	require.Len(t, codes, len(table))

	for _, code := range codes {
		again, err := v4l2.ParsePixelFormat(code.String())
		require.NoError(t, err, code.String())
		assert.Equal(t, code, again)
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		formats  []string
		expected string
		ok       bool
	}{
		{"passthrough preferred over converter", []string{"YUYV", "MJPG"}, "MJPG", true},
		{"mjpg beats nv12", []string{"MJPG", "NV12"}, "MJPG", true},
		{"nv12 needs no converter", []string{"YUYV", "NV12", "MJPG"}, "NV12", true},
		{"first usable when all convert", []string{"RGB3", "YUYV", "UYVY"}, "YUYV", true},
		{"unknown and unsupported skipped", []string{"H264", "RGB3", "GREY"}, "GREY", true},
		{"nothing streamable", []string{"RGB3", "BA81", "H264"}, "", false},
		{"empty list", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formats := make([]v4l2.PixelFormat, len(tt.formats))
			for i, s := range tt.formats {
				formats[i] = pf(s)
			}

			f, ok := Select(formats)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, f.String())
			}
		})
	}
}
