// Package models defines the shared data types for sampled host stats and
// the chart series derived from them.
package models

import "fmt"

// LoadAverage holds the 1/5/15 minute load averages of a sample.
type LoadAverage struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

// SampleRecord is a single observation of one server. Network counters are
// cumulative byte totals since boot; everything else is a gauge.
type SampleRecord struct {
	TimestampMs         int64        `json:"timestamp"`
	CPUPercent          float64      `json:"cpuPercent"`
	MemUsedGB           float64      `json:"memUsedGb"`
	MemTotalGB          float64      `json:"memTotalGb"`
	DiskUsedGB          float64      `json:"diskUsedGb"`
	DiskTotalGB         float64      `json:"diskTotalGb"`
	NetworkIngressBytes float64      `json:"networkIngressBytes"`
	NetworkEgressBytes  float64      `json:"networkEgressBytes"`
	LoadAverage         *LoadAverage `json:"loadAverage,omitempty"`
}

// MetricKind selects which series Transform derives from a sample sequence.
type MetricKind int

const (
	MetricCPU MetricKind = iota
	MetricMemory
	MetricDisk
	MetricNetworkIngress
	MetricNetworkEgress
	MetricLoadAverage
)

var metricKindNames = map[MetricKind]string{
	MetricCPU:            "cpu",
	MetricMemory:         "memory",
	MetricDisk:           "disk",
	MetricNetworkIngress: "netin",
	MetricNetworkEgress:  "netout",
	MetricLoadAverage:    "load",
}

func (k MetricKind) String() string {
	if name, ok := metricKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("metrickind(%d)", int(k))
}

// ParseMetricKind maps the API's kind parameter to a MetricKind.
func ParseMetricKind(s string) (MetricKind, error) {
	for kind, name := range metricKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown metric kind %q", s)
}

// Datapoint is one plottable value. Timestamps are Unix milliseconds, the
// format chart frontends consume directly.
type Datapoint struct {
	TimestampMs int64   `json:"timestamp"`
	Value       float64 `json:"value"`
}

// Series is an ordered sequence of datapoints under one legend label.
type Series struct {
	Label  string      `json:"label"`
	Points []Datapoint `json:"points"`
}

// TransformResult is everything a renderer needs for one chart: the series,
// the display unit, and the vertical axis ceiling. Rate series keep their
// point values in B/s; the renderer divides by Divisor to reach Unit.
type TransformResult struct {
	Series  []Series `json:"series"`
	Unit    string   `json:"unit"`
	Divisor float64  `json:"divisor"`
	AxisMax float64  `json:"axisMax"`
}

// TimeBounds are the horizontal axis limits in Unix milliseconds.
type TimeBounds struct {
	MinMs int64 `json:"minMs"`
	MaxMs int64 `json:"maxMs"`
}
