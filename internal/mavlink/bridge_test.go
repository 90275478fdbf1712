package mavlink

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/minimal"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/stream/streamtest"
	"github.com/jmylchreest/camstreamd/internal/testutil"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usbCam = "/dev/video0"
	csiCam = "/dev/video2"

	ourSystem = 7
)

type fakeLink struct {
	in chan Inbound
	ip net.IP

	mu     sync.Mutex
	sent   []message.Message
	closed bool
}

func newFakeLink(ip net.IP) *fakeLink {
	return &fakeLink{in: make(chan Inbound, 16), ip: ip}
}

func (l *fakeLink) Messages() <-chan Inbound { return l.in }

func (l *fakeLink) Send(msg message.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, msg)
	return nil
}

func (l *fakeLink) LocalIP() net.IP { return l.ip }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// replies returns sent messages other than heartbeats.
func (l *fakeLink) replies() []message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []message.Message
	for _, m := range l.sent {
		if _, ok := m.(*minimal.MessageHeartbeat); !ok {
			out = append(out, m)
		}
	}
	return out
}

func (l *fakeLink) heartbeats() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, m := range l.sent {
		if _, ok := m.(*minimal.MessageHeartbeat); ok {
			n++
		}
	}
	return n
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type bridgeFixture struct {
	*streamtest.Fixture
	bridge *Bridge
	link   *fakeLink
}

func newBridgeFixture(t *testing.T, policy string) *bridgeFixture {
	t.Helper()

	f := streamtest.NewFixture(map[string]testutil.FakeDevice{
		usbCam: testutil.USBCamera(),
		csiCam: testutil.CSICamera(),
	})
	link := newFakeLink(net.ParseIP("10.0.0.5"))
	b := NewBridge(f.Registry, func() (Link, error) { return link, nil }, Options{
		SystemID:         ourSystem,
		LivenessInterval: 10 * time.Millisecond,
		MountPathPolicy:  policy,
	}, streamtest.DiscardLogger())
	require.NoError(t, b.Connect())

	return &bridgeFixture{Fixture: f, bridge: b, link: link}
}

func (f *bridgeFixture) addStreams(t *testing.T) {
	t.Helper()
	_, err := f.Registry.Add(usbCam, v4l2.PixelFormatMJPG, "/front", 0, 0)
	require.NoError(t, err)
	_, err = f.Registry.Add(csiCam, v4l2.PixelFormatYUYV, "/rear", 0, 0)
	require.NoError(t, err)
}

func TestBridge_ConnectFailure(t *testing.T) {
	f := streamtest.NewFixture(nil)
	b := NewBridge(f.Registry, func() (Link, error) {
		return nil, errors.New("no such device")
	}, Options{SystemID: 1}, streamtest.DiscardLogger())

	err := b.Connect()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportConnectFailed)
	assert.Equal(t, StateDisconnected, b.State())
}

func TestBridge_RunRequiresConnect(t *testing.T) {
	f := streamtest.NewFixture(nil)
	b := NewBridge(f.Registry, nil, Options{}, streamtest.DiscardLogger())

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disconnected")
}

func TestBridge_Lifecycle(t *testing.T) {
	f := newBridgeFixture(t, config.MountPathPreserve)
	assert.Equal(t, StateConnected, f.bridge.State())

	assert.Error(t, f.bridge.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bridge.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.bridge.State() == StateRunning }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return f.link.heartbeats() >= 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.True(t, f.link.isClosed())
	assert.Equal(t, StateDisconnected, f.bridge.State())
}

func TestBridge_StopsWhenLinkCloses(t *testing.T) {
	f := newBridgeFixture(t, config.MountPathPreserve)

	done := make(chan error, 1)
	go func() { done <- f.bridge.Run(context.Background()) }()

	close(f.link.in)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_DispatchesInOrder(t *testing.T) {
	f := newBridgeFixture(t, config.MountPathPreserve)
	f.addStreams(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.bridge.Run(ctx)

	f.link.in <- Inbound{Message: &MessageStreamListQuery{CameraID: 2}, SystemID: 255}
	f.link.in <- Inbound{Message: &MessageStreamListQuery{CameraID: 1}, SystemID: 255}

	assert.Eventually(t, func() bool { return len(f.link.replies()) == 2 }, time.Second, time.Millisecond)
	replies := f.link.replies()
	assert.Equal(t, uint8(2), replies[0].(*MessageStreamURI).CameraID)
	assert.Equal(t, uint8(1), replies[1].(*MessageStreamURI).CameraID)
}

func TestHeartbeat(t *testing.T) {
	hb := heartbeat()
	assert.Equal(t, minimal.MAV_TYPE_GENERIC, hb.Type)
	assert.Equal(t, minimal.MAV_AUTOPILOT_INVALID, hb.Autopilot)
	assert.Equal(t, minimal.MAV_STATE_ACTIVE, hb.SystemStatus)
	assert.Equal(t, uint8(3), hb.MavlinkVersion)
}

func TestStreamListQuery(t *testing.T) {
	t.Run("all streams", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageStreamListQuery{}})

		replies := f.link.replies()
		require.Len(t, replies, 2)
		assert.Equal(t, &MessageStreamURI{CameraID: 1, Name: "video0", URI: "rtsp://10.0.0.5:8554/front"}, replies[0])
		assert.Equal(t, &MessageStreamURI{CameraID: 2, Name: "video2", URI: "rtsp://10.0.0.5:8554/rear"}, replies[1])
	})

	t.Run("filtered by camera id", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageStreamListQuery{CameraID: 2}})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		assert.Equal(t, "rtsp://10.0.0.5:8554/rear", replies[0].(*MessageStreamURI).URI)
	})

	t.Run("unknown camera id", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageStreamListQuery{CameraID: 9}})
		assert.Empty(t, f.link.replies())
	})

	t.Run("falls back to registry address", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.link.ip = nil
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageStreamListQuery{CameraID: 1}})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		assert.Equal(t, "rtsp://0.0.0.0:8554/front", replies[0].(*MessageStreamURI).URI)
	})

	t.Run("no streams", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)

		f.bridge.handle(Inbound{Message: &MessageStreamListQuery{}})
		assert.Empty(t, f.link.replies())
	})
}

func TestTargetSystemFilter(t *testing.T) {
	tests := []struct {
		name    string
		target  uint8
		replies int
	}{
		{"broadcast", 0, 2},
		{"addressed to us", ourSystem, 2},
		{"addressed elsewhere", ourSystem + 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t, config.MountPathPreserve)
			f.addStreams(t)

			f.bridge.handle(Inbound{Message: &MessageStreamListQuery{TargetSystem: tt.target}})
			assert.Len(t, f.link.replies(), tt.replies)
		})
	}
}

func TestStreamSettingsQuery(t *testing.T) {
	t.Run("first match only", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageStreamSettingsQuery{}})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		settings := replies[0].(*MessageStreamSettings)

		want := &MessageStreamSettings{
			Capabilities: uint32(v4l2.CapVideoCapture | v4l2.CapStreaming),
			Format:       uint32(v4l2.PixelFormatMJPG),
			Width:        1280,
			Height:       720,
			CameraID:     1,
			Name:         "video0",
			URI:          "rtsp://10.0.0.5:8554/front",
		}
		want.Formats[0] = uint32(v4l2.PixelFormatYUYV)
		want.Formats[1] = uint32(v4l2.PixelFormatMJPG)
		assert.Equal(t, want, settings)
	})

	t.Run("by camera id", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageStreamSettingsQuery{CameraID: 2}})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		settings := replies[0].(*MessageStreamSettings)
		assert.Equal(t, uint8(2), settings.CameraID)
		assert.Equal(t, uint16(1920), settings.Width)
		assert.Equal(t, uint16(1080), settings.Height)
		assert.Equal(t, uint32(v4l2.MustParsePixelFormat("RGB3")), settings.Formats[0])
		assert.Zero(t, settings.Formats[3])
	})

	t.Run("truncates to twenty formats", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)

		dev := testutil.USBCamera()
		for i := 0; i < 23; i++ {
			dev.Formats = append(dev.Formats, v4l2.PixelFormat(0x30303030+uint32(i)))
		}
		f.Reader.Set(usbCam, dev)
		_, err := f.Registry.Add(usbCam, v4l2.PixelFormatMJPG, "/front", 0, 0)
		require.NoError(t, err)

		f.bridge.handle(Inbound{Message: &MessageStreamSettingsQuery{CameraID: 1}})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		settings := replies[0].(*MessageStreamSettings)
		assert.Equal(t, uint32(dev.Formats[19]), settings.Formats[19])
		for _, code := range settings.Formats {
			assert.NotZero(t, code)
		}
	})

	unavailable := []struct {
		name   string
		mutate func(d *testutil.FakeDevice)
	}{
		{"capabilities unreadable", func(d *testutil.FakeDevice) { d.CapsErr = testutil.ErrInjected }},
		{"formats unreadable", func(d *testutil.FakeDevice) { d.FormatsErr = testutil.ErrInjected }},
		{"no formats", func(d *testutil.FakeDevice) { d.Formats = nil }},
		{"frame size unreadable", func(d *testutil.FakeDevice) { d.SizeErr = testutil.ErrInjected }},
	}
	for _, tt := range unavailable {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t, config.MountPathPreserve)
			f.addStreams(t)

			dev := testutil.USBCamera()
			tt.mutate(&dev)
			f.Reader.Set(usbCam, dev)

			// The first match fails and the scan stops there.
			f.bridge.handle(Inbound{Message: &MessageStreamSettingsQuery{}})
			assert.Empty(t, f.link.replies())
		})
	}
}

func TestSetStreamSettings(t *testing.T) {
	t.Run("format zero keeps current", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageSetStreamSettings{CameraID: 1, Width: 640, Height: 480}})

		d, ok := f.Registry.StreamByID(1)
		require.True(t, ok)
		assert.Equal(t, v4l2.PixelFormatMJPG, d.Format)
		assert.Equal(t, uint32(640), d.Width)
		assert.Equal(t, uint32(480), d.Height)
		assert.Empty(t, f.link.replies())
	})

	t.Run("new format", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageSetStreamSettings{CameraID: 1, Format: uint32(v4l2.PixelFormatYUYV)}})

		d, _ := f.Registry.StreamByID(1)
		assert.Equal(t, v4l2.PixelFormatYUYV, d.Format)
		assert.Contains(t, f.Server.Calls(), "remount /front /front")
	})

	t.Run("size needs both dimensions", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageSetStreamSettings{CameraID: 1, Width: 640}})

		d, _ := f.Registry.StreamByID(1)
		assert.Zero(t, d.Width)
		assert.Zero(t, d.Height)
	})

	t.Run("preserve ignores requested mount path", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageSetStreamSettings{CameraID: 1, MountPath: "/elsewhere"}})

		d, _ := f.Registry.StreamByID(1)
		assert.Equal(t, "/front", d.MountPath)
	})

	t.Run("adopt takes requested mount path", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathAdopt)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageSetStreamSettings{CameraID: 1, MountPath: "/elsewhere"}})

		d, _ := f.Registry.StreamByID(1)
		assert.Equal(t, "/elsewhere", d.MountPath)
		assert.Equal(t, uint8(1), d.ID)
		assert.Contains(t, f.Server.Calls(), "remount /front /elsewhere")
	})

	t.Run("adopt keeps path when none requested", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathAdopt)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: &MessageSetStreamSettings{CameraID: 1}})

		d, _ := f.Registry.StreamByID(1)
		assert.Equal(t, "/front", d.MountPath)
	})

	ignored := []struct {
		name string
		msg  *MessageSetStreamSettings
	}{
		{"camera id required", &MessageSetStreamSettings{Format: uint32(v4l2.PixelFormatYUYV)}},
		{"unknown camera", &MessageSetStreamSettings{CameraID: 9, Format: uint32(v4l2.PixelFormatYUYV)}},
		{"other system", &MessageSetStreamSettings{TargetSystem: ourSystem + 1, CameraID: 1, Format: uint32(v4l2.PixelFormatYUYV)}},
		{"unsupported format", &MessageSetStreamSettings{CameraID: 1, Format: uint32(v4l2.MustParsePixelFormat("UYVY"))}},
	}
	for _, tt := range ignored {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t, config.MountPathPreserve)
			f.addStreams(t)

			f.bridge.handle(Inbound{Message: tt.msg})

			d, _ := f.Registry.StreamByID(1)
			assert.Equal(t, v4l2.PixelFormatMJPG, d.Format)
			for _, call := range f.Server.Calls() {
				assert.False(t, strings.HasPrefix(call, "remount"), call)
			}
		})
	}
}

type panickingRegistry struct {
	Registry
}

func (panickingRegistry) Streams() []stream.Descriptor {
	panic("boom")
}

func TestHandleSafely_RecoversFromPanic(t *testing.T) {
	f := newBridgeFixture(t, config.MountPathPreserve)
	f.bridge.registry = panickingRegistry{Registry: f.Registry}

	assert.NotPanics(t, func() {
		f.bridge.handleSafely(Inbound{Message: &MessageStreamListQuery{}})
	})
}

func TestHandle_IgnoresUnknownMessages(t *testing.T) {
	f := newBridgeFixture(t, config.MountPathPreserve)

	f.bridge.handle(Inbound{Message: &minimal.MessageHeartbeat{}})
	f.bridge.handle(Inbound{})
	assert.Empty(t, f.link.replies())
}

func cameraInfoRequest(target, component uint8, cameraID float32) *common.MessageCommandLong {
	return &common.MessageCommandLong{
		TargetSystem:    target,
		TargetComponent: component,
		Command:         common.MAV_CMD_REQUEST_CAMERA_INFORMATION,
		Param1:          1,
		Param2:          cameraID,
	}
}

func nameOf(b [32]uint8) string {
	return strings.TrimRight(string(b[:]), "\x00")
}

func TestCameraInformationRequest(t *testing.T) {
	t.Run("all cameras", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: cameraInfoRequest(ourSystem, cameraComponent, 0)})

		replies := f.link.replies()
		require.Len(t, replies, 3)

		front := replies[0].(*common.MessageCameraInformation)
		assert.Equal(t, uint8(1), front.CameraDeviceId)
		assert.Equal(t, "uvcvideo", nameOf(front.VendorName))
		assert.Equal(t, "HD USB Camera", nameOf(front.ModelName))
		assert.Equal(t, uint16(1280), front.ResolutionH)
		assert.Equal(t, uint16(720), front.ResolutionV)
		assert.NotZero(t, front.Flags&common.CAMERA_CAP_FLAGS_HAS_VIDEO_STREAM)

		assert.Equal(t, uint8(2), replies[1].(*common.MessageCameraInformation).CameraDeviceId)
		assert.Equal(t, &common.MessageCommandAck{
			Command: common.MAV_CMD_REQUEST_CAMERA_INFORMATION,
			Result:  common.MAV_RESULT_ACCEPTED,
		}, replies[2])
	})

	t.Run("one camera uses requested size", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)
		_, err := f.Registry.Mutate("/rear", v4l2.PixelFormatYUYV, "", 640, 480)
		require.NoError(t, err)

		f.bridge.handle(Inbound{Message: cameraInfoRequest(0, 0, 2)})

		replies := f.link.replies()
		require.Len(t, replies, 2)
		rear := replies[0].(*common.MessageCameraInformation)
		assert.Equal(t, uint8(2), rear.CameraDeviceId)
		assert.Equal(t, uint16(640), rear.ResolutionH)
		assert.Equal(t, uint16(480), rear.ResolutionV)
	})

	t.Run("unknown camera is denied", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: cameraInfoRequest(ourSystem, cameraComponent, 9)})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		assert.Equal(t, common.MAV_RESULT_DENIED, replies[0].(*common.MessageCommandAck).Result)
	})

	t.Run("other system or component is ignored", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)
		f.addStreams(t)

		f.bridge.handle(Inbound{Message: cameraInfoRequest(ourSystem+1, cameraComponent, 0)})
		f.bridge.handle(Inbound{Message: cameraInfoRequest(ourSystem, 1, 0)})
		assert.Empty(t, f.link.replies())
	})

	t.Run("other commands are unsupported", func(t *testing.T) {
		f := newBridgeFixture(t, config.MountPathPreserve)

		f.bridge.handle(Inbound{Message: &common.MessageCommandLong{
			TargetSystem: ourSystem,
			Command:      common.MAV_CMD_REQUEST_MESSAGE,
		}})

		replies := f.link.replies()
		require.Len(t, replies, 1)
		assert.Equal(t, common.MAV_RESULT_UNSUPPORTED, replies[0].(*common.MessageCommandAck).Result)
	})
}

func TestDialect_UniqueIDs(t *testing.T) {
	seen := make(map[uint32]bool)
	for _, m := range Dialect.Messages {
		assert.False(t, seen[m.GetID()], "duplicate id %d", m.GetID())
		seen[m.GetID()] = true
	}
	assert.Len(t, seen, 9)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
