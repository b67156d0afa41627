// Package util provides byte-size constants and formatting shared across
// depotdl's engine and CLI packages.
package util

import "strconv"

// Size constants for byte calculations.
const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
	TiB = 1 << 40
)

var sizeUnits = []struct {
	limit int64
	name  string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// Sizeify renders a byte count against its largest fitting binary unit,
// with one decimal place; counts under 1 KiB render as plain bytes.
func Sizeify(n int64) string {
	for _, u := range sizeUnits {
		if n >= u.limit {
			return strconv.FormatFloat(float64(n)/float64(u.limit), 'f', 1, 64) + " " + u.name
		}
	}
	return strconv.FormatInt(n, 10) + " B"
}
