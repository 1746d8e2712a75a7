// Package series turns raw sample sequences into plottable chart series:
// per-kind value derivation, cumulative-counter rate conversion, display
// unit selection and axis bounds.
package series

import (
	"github.com/rs/zerolog/log"

	"github.com/statview/statview/internal/models"
)

const (
	unitPercent = "%"
	unitBps     = "B/s"
	unitKBps    = "KB/s"
	unitMBps    = "MB/s"

	kib = 1024
	mib = 1024 * 1024

	// axisHeadroom leaves room above the observed peak so the plotted line
	// is not clipped at the top edge.
	axisHeadroom = 1.2

	// timePadFraction widens the time axis beyond the first and last sample.
	timePadFraction = 0.02
)

// Transform derives the chart series for one metric kind from a sample
// sequence. Records arrive newest-first, as the history store returns them;
// they are reversed to ascending time order before any per-point work.
// Empty input yields an empty series list and the kind's default axis.
func Transform(records []models.SampleRecord, kind models.MetricKind) models.TransformResult {
	if len(records) == 0 {
		return models.TransformResult{Series: []models.Series{}, Divisor: 1, AxisMax: 1}
	}

	asc := reverse(records)

	switch kind {
	case models.MetricCPU:
		return percentSeries(asc, "CPU", func(r models.SampleRecord) float64 {
			return r.CPUPercent
		})
	case models.MetricMemory:
		return percentSeries(asc, "Memory", func(r models.SampleRecord) float64 {
			return usageRatio(r.MemUsedGB, r.MemTotalGB)
		})
	case models.MetricDisk:
		return percentSeries(asc, "Disk", func(r models.SampleRecord) float64 {
			return usageRatio(r.DiskUsedGB, r.DiskTotalGB)
		})
	case models.MetricNetworkIngress:
		return rateSeries(asc, "Ingress", func(r models.SampleRecord) float64 {
			return r.NetworkIngressBytes
		})
	case models.MetricNetworkEgress:
		return rateSeries(asc, "Egress", func(r models.SampleRecord) float64 {
			return r.NetworkEgressBytes
		})
	case models.MetricLoadAverage:
		return loadSeries(asc)
	}

	// MetricKind is a closed set; an unknown value is a programming error
	// upstream and renders as an empty chart.
	log.Warn().Stringer("kind", kind).Msg("Transform called with unknown metric kind")
	return models.TransformResult{Series: []models.Series{}, Divisor: 1, AxisMax: 1}
}

// TimeBounds computes the horizontal axis limits over every point of every
// series, padded 2% on each side. ok is false when there are no points at
// all; callers should fall back to a fixed window. A single point yields a
// zero-width bound, which callers must also widen.
func TimeBounds(result models.TransformResult) (models.TimeBounds, bool) {
	first := true
	var minMs, maxMs int64
	for _, s := range result.Series {
		for _, p := range s.Points {
			if first || p.TimestampMs < minMs {
				minMs = p.TimestampMs
			}
			if first || p.TimestampMs > maxMs {
				maxMs = p.TimestampMs
			}
			first = false
		}
	}
	if first {
		return models.TimeBounds{}, false
	}

	pad := int64(float64(maxMs-minMs) * timePadFraction)
	return models.TimeBounds{MinMs: minMs - pad, MaxMs: maxMs + pad}, true
}

// reverse returns a new slice in the opposite order, leaving the input
// untouched for the caller.
func reverse(records []models.SampleRecord) []models.SampleRecord {
	out := make([]models.SampleRecord, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out
}

// usageRatio is the used/total percentage. A zero total would divide to
// NaN, which does not survive JSON encoding, so it clamps to 0 instead.
func usageRatio(used, total float64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * used / total
}

func percentSeries(asc []models.SampleRecord, label string, value func(models.SampleRecord) float64) models.TransformResult {
	points := make([]models.Datapoint, len(asc))
	for i, r := range asc {
		points[i] = models.Datapoint{TimestampMs: r.TimestampMs, Value: value(r)}
	}
	return models.TransformResult{
		Series:  []models.Series{{Label: label, Points: points}},
		Unit:    unitPercent,
		Divisor: 1,
		AxisMax: 100,
	}
}

// rateSeries converts a cumulative byte counter into a per-second rate
// series. The first point has no predecessor and is always 0. Counter
// resets produce a negative delta, clamped to 0; intervals shorter than
// one second are floored to 1s so near-duplicate timestamps cannot blow
// the rate up.
func rateSeries(asc []models.SampleRecord, label string, counter func(models.SampleRecord) float64) models.TransformResult {
	points := make([]models.Datapoint, len(asc))
	maxRate := 0.0
	for i, r := range asc {
		rate := 0.0
		if i > 0 {
			deltaBytes := counter(r) - counter(asc[i-1])
			if deltaBytes < 0 {
				deltaBytes = 0
			}
			deltaSeconds := float64(r.TimestampMs-asc[i-1].TimestampMs) / 1000
			if deltaSeconds < 1 {
				deltaSeconds = 1
			}
			rate = deltaBytes / deltaSeconds
		}
		if rate > maxRate {
			maxRate = rate
		}
		points[i] = models.Datapoint{TimestampMs: r.TimestampMs, Value: rate}
	}

	unit, divisor := rateUnit(maxRate)
	axisMax := 1.0
	if maxRate > 0 {
		axisMax = maxRate * axisHeadroom
	}
	axisMax /= divisor

	log.Trace().
		Str("series", label).
		Int("points", len(points)).
		Float64("maxRate", maxRate).
		Str("unit", unit).
		Float64("axisMax", axisMax).
		Msg("Computed rate series")

	return models.TransformResult{
		Series:  []models.Series{{Label: label, Points: points}},
		Unit:    unit,
		Divisor: divisor,
		AxisMax: axisMax,
	}
}

// rateUnit picks one display unit for the whole series from its peak rate,
// so the chart never mixes units between points.
func rateUnit(maxRate float64) (string, float64) {
	switch {
	case maxRate >= mib:
		return unitMBps, mib
	case maxRate >= kib:
		return unitKBps, kib
	default:
		return unitBps, 1
	}
}

func loadSeries(asc []models.SampleRecord) models.TransformResult {
	labels := []string{"1m", "5m", "15m"}
	pick := []func(models.LoadAverage) float64{
		func(l models.LoadAverage) float64 { return l.One },
		func(l models.LoadAverage) float64 { return l.Five },
		func(l models.LoadAverage) float64 { return l.Fifteen },
	}

	out := make([]models.Series, len(labels))
	maxValue := 0.0
	for si, label := range labels {
		points := make([]models.Datapoint, len(asc))
		for i, r := range asc {
			v := 0.0
			if r.LoadAverage != nil {
				v = pick[si](*r.LoadAverage)
			}
			if v > maxValue {
				maxValue = v
			}
			points[i] = models.Datapoint{TimestampMs: r.TimestampMs, Value: v}
		}
		out[si] = models.Series{Label: label, Points: points}
	}

	axisMax := 1.0
	if maxValue > 0 {
		axisMax = maxValue * axisHeadroom
	}

	return models.TransformResult{
		Series:  out,
		Divisor: 1,
		AxisMax: axisMax,
	}
}
