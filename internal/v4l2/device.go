package v4l2

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Device is an enumerated capture device node.
type Device struct {
	Path    string `json:"path"`
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
}

// NewDevice derives the ordinal and display name from a device path.
// The ordinal is the trailing decimal suffix (/dev/video3 -> 3), or -1 if
// there is none. The name is the path relative to /dev.
func NewDevice(path string) Device {
	return Device{
		Path:    path,
		Ordinal: ordinalOf(path),
		Name:    strings.TrimPrefix(path, "/dev/"),
	}
}

func ordinalOf(path string) int {
	base := filepath.Base(path)
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return -1
	}
	n, err := strconv.Atoi(base[i:])
	if err != nil {
		return -1
	}
	return n
}

// Enumerator lists device nodes matching a glob pattern.
type Enumerator struct {
	pattern   string
	blacklist []string
}

// NewEnumerator creates an Enumerator. Blacklist entries are matched against
// the base name of each node (e.g. "video1").
func NewEnumerator(pattern string, blacklist []string) *Enumerator {
	return &Enumerator{pattern: pattern, blacklist: slices.Clone(blacklist)}
}

// Devices globs the pattern afresh and returns devices sorted by ordinal.
func (e *Enumerator) Devices() ([]Device, error) {
	matches, err := filepath.Glob(e.pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", e.pattern, err)
	}

	devices := make([]Device, 0, len(matches))
	for _, m := range matches {
		if slices.Contains(e.blacklist, filepath.Base(m)) {
			continue
		}
		devices = append(devices, NewDevice(m))
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Ordinal != devices[j].Ordinal {
			return devices[i].Ordinal < devices[j].Ordinal
		}
		return devices[i].Path < devices[j].Path
	})
	return devices, nil
}

// Paths is Devices reduced to the device paths.
func (e *Enumerator) Paths() ([]string, error) {
	devices, err := e.Devices()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(devices))
	for i, d := range devices {
		paths[i] = d.Path
	}
	return paths, nil
}
