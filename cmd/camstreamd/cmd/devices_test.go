package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/testutil"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeReader() *testutil.FakeReader {
	r := testutil.NewFakeReader()
	r.Set("/dev/video0", testutil.USBCamera())
	r.Set("/dev/video1", testutil.MetadataNode())
	return r
}

func TestDescribeDevices(t *testing.T) {
	devices := []v4l2.Device{
		v4l2.NewDevice("/dev/video0"),
		v4l2.NewDevice("/dev/video1"),
		v4l2.NewDevice("/dev/video7"),
	}

	reports := describeDevices(fakeReader(), devices)
	require.Len(t, reports, 3)

	usb := reports[0]
	assert.Equal(t, "uvcvideo", usb.Driver)
	assert.True(t, usb.Streaming)
	assert.Equal(t, []string{"YUYV", "MJPG"}, usb.Formats)
	assert.Equal(t, "MJPG", usb.Preferred)
	assert.Equal(t, uint32(1280), usb.Width)

	assert.False(t, reports[1].Streaming)
	assert.Empty(t, reports[1].Preferred)

	assert.NotEmpty(t, reports[2].Error)
	assert.Equal(t, "video7", reports[2].Name)
}

func TestPrintDevices(t *testing.T) {
	reports := describeDevices(fakeReader(), []v4l2.Device{
		v4l2.NewDevice("/dev/video0"),
		v4l2.NewDevice("/dev/video1"),
	})

	var buf bytes.Buffer
	require.NoError(t, printDevices(&buf, reports))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "DEVICE"))
	assert.Contains(t, lines[1], "YUYV,MJPG")
	assert.Contains(t, lines[1], "1280x720")
	assert.Contains(t, lines[2], "/dev/video1")
}

func TestBuildPipeline(t *testing.T) {
	reader := fakeReader()

	t.Run("auto-selected format", func(t *testing.T) {
		p, err := buildPipeline(reader, "/dev/video0", "", 0, 0)
		require.NoError(t, err)
		assert.Contains(t, p.String(), "rtpjpegpay")
		assert.NotContains(t, p.String(), "videoconvert")
	})

	t.Run("explicit format and size", func(t *testing.T) {
		p, err := buildPipeline(reader, "/dev/video0", "YUYV", 640, 480)
		require.NoError(t, err)
		assert.Contains(t, p.String(), "width=640, height=480")
		assert.Contains(t, p.String(), "videoconvert")
	})

	t.Run("format not offered", func(t *testing.T) {
		_, err := buildPipeline(reader, "/dev/video0", "H264", 0, 0)
		assert.ErrorIs(t, err, gst.ErrFormatUnavailable)
	})

	t.Run("nothing streamable", func(t *testing.T) {
		_, err := buildPipeline(reader, "/dev/video1", "", 0, 0)
		assert.ErrorIs(t, err, gst.ErrFormatUnsupported)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := buildPipeline(reader, "/dev/video0", "TOOLONG", 0, 0)
		assert.ErrorIs(t, err, v4l2.ErrInvalidPixelFormat)
	})
}
