package datasource

import (
	"math"
	"strconv"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/gtime"
)

// ─── QUERY WINDOW SHAPING ─────────────────────────────────────────────────────

// safeResolution caps how many samples a single range query may ask the
// upstream for. Anything beyond this is invisible on a dashboard panel
// anyway and just burns Prometheus CPU.
const safeResolution = 11000

// defaultAnnotationStep is used for annotation range queries when the
// annotation definition does not carry its own step.
const defaultAnnotationStep = 60 * time.Second

// adjustInterval widens interval (seconds) so that the start..end range never
// produces more than safeResolution points. The user-supplied minimum interval
// and the panel's interval factor both push the result up, never down.
func adjustInterval(interval, minInterval, rangeSeconds float64, intervalFactor float64) float64 {
	if intervalFactor < 1 {
		intervalFactor = 1
	}
	safeInterval := rangeSeconds / safeResolution
	if safeInterval > 1 {
		safeInterval = math.Ceil(safeInterval)
	}
	return math.Max(math.Max(interval*intervalFactor, minInterval*intervalFactor), safeInterval)
}

// alignRange snaps start and end (epoch seconds) down onto the step grid, so
// that two refreshes of the same panel hit the same sample timestamps and the
// upstream's query cache actually gets a chance to work. utcOffsetSec shifts
// the grid so that day-sized steps align to the dashboard's timezone midnight
// rather than UTC midnight.
//
// The grid is the step itself, fractional steps included, so with a zero
// offset each aligned bound is the largest multiple of step that does not
// exceed the original bound.
func alignRange(start, end int64, stepSeconds float64, utcOffsetSec int64) (float64, float64) {
	if stepSeconds <= 0 {
		return float64(start), float64(end)
	}
	offset := float64(utcOffsetSec)
	alignedStart := math.Floor((float64(start)+offset)/stepSeconds)*stepSeconds - offset
	alignedEnd := math.Floor((float64(end)+offset)/stepSeconds)*stepSeconds - offset
	return alignedStart, alignedEnd
}

// parseIntervalSeconds understands both plain Go durations ("30s", "1h30m")
// and the Grafana calendar units gtime adds on top ("1d", "1w", "1M", "1y").
// Empty input parses to zero.
func parseIntervalSeconds(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := gtime.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

// formatStep renders a step value the way the Prometheus HTTP API expects it:
// fractional seconds without a unit suffix, no trailing zeroes.
func formatStep(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
