package streamtest

import (
	"sort"

	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

func sortByOrdinal(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		oi, oj := v4l2.NewDevice(paths[i]).Ordinal, v4l2.NewDevice(paths[j]).Ordinal
		if oi != oj {
			return oi < oj
		}
		return paths[i] < paths[j]
	})
}
