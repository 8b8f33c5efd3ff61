package backend

import (
	"strconv"
	"strings"
)

// CompareVersions compares two dotted numeric version strings (e.g.
// "1.2.10" vs "1.3.0"), returning -1, 0, or 1. Non-numeric components
// compare as 0, so malformed versions degrade to equality rather than a
// panic.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
