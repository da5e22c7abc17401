package cache

import (
	"hash/fnv"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
)

// Fingerprint hashes the tail of series (at least windowBars bars, so
// every window-sized computation over the tail is covered) into a rolling
// checksum. extra lets callers fold in additional
// contributing inputs (e.g. a config version string).
func Fingerprint(series bar.BarSeries, windowBars int, extra ...string) uint64 {
	h := fnv.New64a()
	n := series.Len()
	start := n - windowBars
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		b := series.Bars[i]
		writeDecimal(h, b.Close)
		writeDecimal(h, b.High)
		writeDecimal(h, b.Low)
		h.Write([]byte(strconv.FormatInt(b.Timestamp.Unix(), 10)))
	}
	for _, e := range extra {
		h.Write([]byte(e))
	}
	return h.Sum64()
}

func writeDecimal(h interface{ Write([]byte) (int, error) }, d decimal.Decimal) {
	h.Write([]byte(d.String()))
}

// Key builds a deterministic cache key from a kind discriminator and the
// components that uniquely identify the computation.
func Key(kind string, fingerprint uint64, parts ...string) string {
	key := kind + ":" + strconv.FormatUint(fingerprint, 16)
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
