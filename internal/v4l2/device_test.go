package v4l2

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevice(t *testing.T) {
	tests := []struct {
		path    string
		ordinal int
		name    string
	}{
		{"/dev/video0", 0, "video0"},
		{"/dev/video12", 12, "video12"},
		{"/dev/v4l/by-id/cam", -1, "v4l/by-id/cam"},
		{"/tmp/video3", 3, "/tmp/video3"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d := NewDevice(tt.path)
			assert.Equal(t, tt.path, d.Path)
			assert.Equal(t, tt.ordinal, d.Ordinal)
			assert.Equal(t, tt.name, d.Name)
		})
	}
}

func makeNodes(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}
	return dir
}

func TestEnumerator_SortsByOrdinal(t *testing.T) {
	dir := makeNodes(t, "video10", "video2", "video0")

	paths, err := NewEnumerator(filepath.Join(dir, "video*"), nil).Paths()
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "video0"),
		filepath.Join(dir, "video2"),
		filepath.Join(dir, "video10"),
	}, paths)
}

func TestEnumerator_Blacklist(t *testing.T) {
	dir := makeNodes(t, "video0", "video1", "video2")

	devices, err := NewEnumerator(filepath.Join(dir, "video*"), []string{"video1"}).Devices()
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, 0, devices[0].Ordinal)
	assert.Equal(t, 2, devices[1].Ordinal)
}

func TestEnumerator_NoMatches(t *testing.T) {
	devices, err := NewEnumerator(filepath.Join(t.TempDir(), "video*"), nil).Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestEnumerator_BadPattern(t *testing.T) {
	_, err := NewEnumerator("[", nil).Devices()
	assert.Error(t, err)
}

func TestIoctlReader_MissingDevice(t *testing.T) {
	r := NewIoctlReader()
	missing := filepath.Join(t.TempDir(), "video99")

	_, err := r.Capabilities(missing)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = r.Formats(missing)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, _, err = r.FrameSize(missing)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
