package discovery_test

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/discovery"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/stream/streamtest"
	"github.com/jmylchreest/camstreamd/internal/testutil"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usbCam = "/dev/video0"

type fakeAnnouncement struct {
	owner    *fakeAnnouncer
	instance string
}

func (a *fakeAnnouncement) Shutdown() {
	a.owner.mu.Lock()
	defer a.owner.mu.Unlock()
	a.owner.events = append(a.owner.events, "withdraw "+a.instance)
}

type fakeAnnouncer struct {
	mu     sync.Mutex
	events []string
	text   map[string][]string
	fail   bool
}

func newFakeAnnouncer() *fakeAnnouncer {
	return &fakeAnnouncer{text: make(map[string][]string)}
}

func (f *fakeAnnouncer) Announce(instance string, port int, text []string) (discovery.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, testutil.ErrInjected
	}
	f.events = append(f.events, fmt.Sprintf("announce %s:%d", instance, port))
	f.text[instance] = text
	return &fakeAnnouncement{owner: f, instance: instance}, nil
}

func (f *fakeAnnouncer) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "stream0", discovery.InstanceName("/stream0"))
	assert.Equal(t, "cams-front", discovery.InstanceName("/cams/front"))
}

func TestPublisher_FollowsRegistry(t *testing.T) {
	f := streamtest.NewFixture(map[string]testutil.FakeDevice{usbCam: testutil.USBCamera()})
	announcer := newFakeAnnouncer()
	pub := discovery.NewPublisher(announcer, f.Registry.Port, streamtest.DiscardLogger())
	f.Registry.WithObserver(pub)

	d, err := f.Registry.Add(usbCam, v4l2.PixelFormatMJPG, "/front", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"path=/front",
		fmt.Sprintf("id=%d", d.ID),
		"device=" + usbCam,
		"format=MJPG",
	}, announcer.text["front"])

	_, err = f.Registry.Mutate("/front", v4l2.PixelFormatYUYV, "/rear", 0, 0)
	require.NoError(t, err)
	require.NoError(t, f.Registry.SetPort(9554))
	require.NoError(t, f.Registry.Remove("/rear"))

	assert.Equal(t, []string{
		"announce front:8554",
		"withdraw front",
		"announce rear:8554",
		"withdraw rear",
		"announce rear:9554",
		"withdraw rear",
	}, announcer.Events())
	assert.Empty(t, pub.Announced())
}

func TestPublisher_FailedRebindKeepsAnnouncements(t *testing.T) {
	f := streamtest.NewFixture(map[string]testutil.FakeDevice{usbCam: testutil.USBCamera()})
	announcer := newFakeAnnouncer()
	pub := discovery.NewPublisher(announcer, f.Registry.Port, streamtest.DiscardLogger())
	f.Registry.WithObserver(pub)

	_, err := f.Registry.Add(usbCam, v4l2.PixelFormatMJPG, "/front", 0, 0)
	require.NoError(t, err)

	f.Server.Fail["attach"] = true
	require.Error(t, f.Registry.SetPort(9000))

	assert.Equal(t, []string{"announce front:8554"}, announcer.Events())
	assert.Equal(t, []string{"/front"}, pub.Announced())
}

func TestPublisher_AnnounceFailure(t *testing.T) {
	announcer := newFakeAnnouncer()
	announcer.fail = true
	pub := discovery.NewPublisher(announcer, func() int { return 8554 }, streamtest.DiscardLogger())

	pub.StreamAdded(stream.Descriptor{ID: 1, MountPath: "/front", Format: v4l2.PixelFormatMJPG})
	assert.Empty(t, pub.Announced())

	// A later endpoint change retries the stream.
	announcer.fail = false
	pub.EndpointChanged("0.0.0.0", 9554)
	assert.Equal(t, []string{"/front"}, pub.Announced())
}

func TestPublisher_Close(t *testing.T) {
	announcer := newFakeAnnouncer()
	pub := discovery.NewPublisher(announcer, func() int { return 8554 }, streamtest.DiscardLogger())

	pub.StreamAdded(stream.Descriptor{ID: 1, MountPath: "/a", Format: v4l2.PixelFormatMJPG})
	pub.StreamAdded(stream.Descriptor{ID: 2, MountPath: "/b", Format: v4l2.PixelFormatMJPG})
	pub.Close()
	pub.StreamAdded(stream.Descriptor{ID: 3, MountPath: "/c", Format: v4l2.PixelFormatMJPG})

	events := announcer.Events()
	sort.Strings(events)
	assert.Equal(t, []string{
		"announce a:8554",
		"announce b:8554",
		"withdraw a",
		"withdraw b",
	}, events)
	assert.Empty(t, pub.Announced())
}

func TestNewZeroconfAnnouncer_UnknownInterface(t *testing.T) {
	_, err := discovery.NewZeroconfAnnouncer(config.DiscoveryConfig{
		ServiceType: "_rtsp._udp",
		Domain:      "local.",
		Interfaces:  []string{"camstreamd-missing0"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camstreamd-missing0")
}
