package config

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"clipvault/internal/clip"
)

var sizePattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?|\.[0-9]+)\s*([A-Za-z]*)$`)

// binaryUnits maps the accepted suffixes (lowercased) to the IEC spelling
// humanize understands. KB, MB, GB and TB are powers of 1024 here, which is
// what operators mean when they write "500MB" for a disk budget.
var binaryUnits = map[string]string{
	"":    "B",
	"b":   "B",
	"k":   "KiB",
	"kb":  "KiB",
	"kib": "KiB",
	"m":   "MiB",
	"mb":  "MiB",
	"mib": "MiB",
	"g":   "GiB",
	"gb":  "GiB",
	"gib": "GiB",
	"t":   "TiB",
	"tb":  "TiB",
	"tib": "TiB",
}

// ParseSize converts a human-readable size ("1GB", "500mb", "1.5KB", "1024B")
// to an exact byte count. Errors wrap clip.ErrConfig.
func ParseSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: invalid size %q", clip.ErrConfig, s)
	}

	unit, ok := binaryUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("%w: unknown size unit %q in %q", clip.ErrConfig, m[2], s)
	}

	n, err := humanize.ParseBytes(m[1] + " " + unit)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q: %v", clip.ErrConfig, s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: size %q overflows", clip.ErrConfig, s)
	}
	return int64(n), nil
}

// FormatSize renders a byte count for logs and CLI output.
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
