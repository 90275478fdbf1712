package cmd

import (
	"context"
	"testing"

	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/database"
	"github.com/jmylchreest/camstreamd/internal/models"
	"github.com/jmylchreest/camstreamd/internal/scheduler"
	"github.com/jmylchreest/camstreamd/internal/stream/streamtest"
	"github.com/jmylchreest/camstreamd/internal/testutil"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFixture() *streamtest.Fixture {
	return streamtest.NewFixture(map[string]testutil.FakeDevice{
		"/dev/video0": testutil.USBCamera(),
		"/dev/video2": testutil.CSICamera(),
	})
}

func TestPublishStatic(t *testing.T) {
	fx := newTestFixture()

	n := publishStatic(fx.Registry, []config.StaticStream{
		{Device: "/dev/video0", Format: "MJPG", MountPath: "/front", Width: 640, Height: 480},
		{Device: "/dev/video9", Format: "MJPG", MountPath: "/missing"},
		{Device: "/dev/video2", Format: "TOOLONG", MountPath: "/bad"},
		{Device: "/dev/video2", Format: "YUYV", MountPath: "/front"},
	}, streamtest.DiscardLogger())

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"/front"}, fx.Registry.MountPaths())

	d, ok := fx.Registry.Stream("/front")
	require.True(t, ok)
	assert.Equal(t, uint32(640), d.Width)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: database.DriverSQLite, DSN: ":memory:", LogLevel: "silent"}, streamtest.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestPublishStreams_OrderAndPersistence(t *testing.T) {
	fx := newTestFixture()
	db := openTestDB(t)

	saved := &models.StreamRecord{Device: "/dev/video0", Format: "YUYV", MountPath: "/stream0", Width: 320, Height: 240}
	require.NoError(t, db.DB.Create(saved).Error)

	cfg := &config.Config{
		Devices: config.DevicesConfig{AutoPublish: true},
		Streams: config.StreamsConfig{
			Persist: true,
			Static:  []config.StaticStream{{Device: "/dev/video2", Format: "UYVY", MountPath: "/belly"}},
		},
	}

	require.NoError(t, publishStreams(context.Background(), cfg, fx.Registry, db, streamtest.DiscardLogger()))

	// Static mounts do not claim their device from auto-publish.
	assert.Equal(t, []string{"/belly", "/stream0", "/stream2"}, fx.Registry.MountPaths())

	restored, ok := fx.Registry.Stream("/stream0")
	require.True(t, ok)
	assert.Equal(t, v4l2.PixelFormatYUYV, restored.Format)
	assert.Equal(t, uint32(320), restored.Width)

	require.NoError(t, fx.Registry.Remove("/belly"))

	var count int64
	require.NoError(t, db.DB.Model(&models.StreamRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "runtime removal is persisted, startup streams are not")
}

func TestPublishStreams_WithoutPersistence(t *testing.T) {
	fx := newTestFixture()
	cfg := &config.Config{Devices: config.DevicesConfig{AutoPublish: false}}

	require.NoError(t, publishStreams(context.Background(), cfg, fx.Registry, nil, streamtest.DiscardLogger()))
	assert.Empty(t, fx.Registry.Streams())
}

func TestScheduleRescan(t *testing.T) {
	fx := newTestFixture()
	sched := scheduler.New(streamtest.DiscardLogger())

	require.NoError(t, scheduleRescan(sched, "@every 1h", fx.Registry, streamtest.DiscardLogger()))
	assert.Equal(t, 1, sched.Jobs())
	assert.Error(t, scheduleRescan(scheduler.New(streamtest.DiscardLogger()), "whenever", fx.Registry, streamtest.DiscardLogger()))

	_, err := fx.Registry.AutoPublish()
	require.NoError(t, err)
	require.Len(t, fx.Registry.Streams(), 2)

	fx.Reader.Set("/dev/video4", testutil.USBCamera())
	require.NoError(t, rescanJob(fx.Registry, streamtest.DiscardLogger())(context.Background()))
	assert.Equal(t, []string{"/stream0", "/stream2", "/stream4"}, fx.Registry.MountPaths())
}

func TestNewDiscoveryPublisher_UnknownInterface(t *testing.T) {
	fx := newTestFixture()
	_, err := newDiscoveryPublisher(config.DiscoveryConfig{
		Enabled:     true,
		ServiceType: "_rtsp._udp",
		Domain:      "local.",
		Interfaces:  []string{"camstreamd-missing0"},
	}, fx.Registry, streamtest.DiscardLogger())
	require.Error(t, err)
}
