package service

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/camstreamd/internal/models"
	"github.com/jmylchreest/camstreamd/internal/repository"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/stream/streamtest"
	"github.com/jmylchreest/camstreamd/internal/testutil"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRecordRepo(t *testing.T) repository.StreamRecordRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.StreamRecord{}))
	return repository.NewStreamRecordRepository(db)
}

func newPersistenceFixture(t *testing.T) (*PersistenceService, repository.StreamRecordRepository, *streamtest.Fixture) {
	t.Helper()

	repo := setupRecordRepo(t)
	svc := NewPersistenceService(repo).WithLogger(streamtest.DiscardLogger())
	fx := streamtest.NewFixture(map[string]testutil.FakeDevice{
		"/dev/video0": testutil.USBCamera(),
		"/dev/video2": testutil.CSICamera(),
	})
	fx.Registry.WithObserver(svc)
	return svc, repo, fx
}

func listMounts(t *testing.T, repo repository.StreamRecordRepository) []string {
	t.Helper()
	records, err := repo.List(context.Background())
	require.NoError(t, err)
	mounts := make([]string, 0, len(records))
	for _, r := range records {
		mounts = append(mounts, r.MountPath)
	}
	return mounts
}

func TestPersistenceService_TracksRegistryChanges(t *testing.T) {
	_, repo, fx := newPersistenceFixture(t)
	ctx := context.Background()

	_, err := fx.Registry.Add("/dev/video0", v4l2.PixelFormatYUYV, "/front", 1280, 720)
	require.NoError(t, err)

	rec, err := repo.GetByMountPath(ctx, "/front")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/dev/video0", rec.Device)
	assert.Equal(t, "YUYV", rec.Format)
	assert.Equal(t, uint32(1280), rec.Width)
	id := rec.ID

	_, err = fx.Registry.Mutate("/front", v4l2.PixelFormatMJPG, "/nose", 640, 480)
	require.NoError(t, err)

	assert.Equal(t, []string{"/nose"}, listMounts(t, repo))
	rec, err = repo.GetByMountPath(ctx, "/nose")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "MJPG", rec.Format)
	assert.Equal(t, uint32(480), rec.Height)

	require.NoError(t, fx.Registry.Remove("/nose"))
	assert.Empty(t, listMounts(t, repo))
}

func TestPersistenceService_FailedOperationsAreNotSaved(t *testing.T) {
	_, repo, fx := newPersistenceFixture(t)

	_, err := fx.Registry.Add("/dev/video9", v4l2.PixelFormatYUYV, "/ghost", 0, 0)
	require.Error(t, err)
	assert.Empty(t, listMounts(t, repo))
}

func TestPersistenceService_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("adds stored streams", func(t *testing.T) {
		svc, repo, fx := newPersistenceFixture(t)
		require.NoError(t, repo.Create(ctx, &models.StreamRecord{Device: "/dev/video2", Format: "RGB3", MountPath: "/rear"}))

		result, err := svc.Restore(ctx, fx.Registry)
		require.NoError(t, err)
		assert.Equal(t, RestoreResult{Added: 1}, result)

		d, ok := fx.Registry.Stream("/rear")
		require.True(t, ok)
		assert.Equal(t, "RGB3", d.Format.String())
		assert.Equal(t, []string{"/rear"}, listMounts(t, repo))
	})

	t.Run("updates an already published mount", func(t *testing.T) {
		svc, repo, fx := newPersistenceFixture(t)
		published, err := fx.Registry.AutoPublish()
		require.NoError(t, err)
		require.NotEmpty(t, published)

		mount := stream.AutoMountPath("/dev/video0")
		require.NoError(t, repo.Replace(ctx, mount, &models.StreamRecord{
			Device: "/dev/video0", Format: "MJPG", MountPath: mount, Width: 640, Height: 480,
		}))

		result, err := svc.Restore(ctx, fx.Registry)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Added)
		assert.GreaterOrEqual(t, result.Updated, 1)

		d, ok := fx.Registry.Stream(mount)
		require.True(t, ok)
		assert.Equal(t, v4l2.PixelFormatMJPG, d.Format)
		assert.Equal(t, uint32(640), d.Width)
	})

	t.Run("skips records that cannot be applied", func(t *testing.T) {
		svc, repo, fx := newPersistenceFixture(t)
		require.NoError(t, repo.Create(ctx, &models.StreamRecord{Device: "/dev/video7", Format: "YUYV", MountPath: "/gone"}))
		require.NoError(t, repo.Create(ctx, &models.StreamRecord{Device: "/dev/video0", Format: "YUYV", MountPath: "/front"}))

		result, err := svc.Restore(ctx, fx.Registry)
		require.NoError(t, err)
		assert.Equal(t, RestoreResult{Added: 1, Skipped: 1}, result)

		// The unusable record is kept for a later start.
		assert.ElementsMatch(t, []string{"/gone", "/front"}, listMounts(t, repo))
	})

	t.Run("cancelled context", func(t *testing.T) {
		svc, repo, fx := newPersistenceFixture(t)
		require.NoError(t, repo.Create(ctx, &models.StreamRecord{Device: "/dev/video0", Format: "YUYV", MountPath: "/front"}))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.Restore(cancelled, fx.Registry)
		assert.Error(t, err)
	})
}

func TestRecordFor(t *testing.T) {
	rec := recordFor(stream.Descriptor{
		Device:    "/dev/video0",
		Format:    v4l2.PixelFormatH264,
		MountPath: "/front",
		Width:     1920,
		Height:    1080,
	})
	assert.Equal(t, "H264", rec.Format)
	assert.Equal(t, "/front", rec.MountPath)
	assert.NoError(t, rec.Validate())
}
