package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withVersion(t *testing.T, v, commit string) {
	t.Helper()
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })
	Version, Commit = v, commit
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	t.Run("without commit", func(t *testing.T) {
		withVersion(t, "1.2.3", "unknown")
		s := String()
		assert.Contains(t, s, "camstreamd version 1.2.3")
		assert.NotContains(t, s, "commit:")
	})

	t.Run("with commit", func(t *testing.T) {
		withVersion(t, "1.2.3", "0123456789abcdef")
		assert.Contains(t, String(), "commit: 01234567")
	})
}

func TestShort(t *testing.T) {
	withVersion(t, "1.0.0", "unknown")
	assert.Equal(t, "1.0.0", Short())

	withVersion(t, "1.0.0", "deadbeefcafe")
	assert.Equal(t, "1.0.0 (deadbeef)", Short())
}

func TestJSON(t *testing.T) {
	withVersion(t, "2.0.0", "unknown")

	data, err := JSON()
	require.NoError(t, err)

	var info Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "unknown", info.Commit)
}
