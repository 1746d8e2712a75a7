// Package collector samples local host utilisation on an interval and
// feeds the results into the sample history.
package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	godisk "github.com/shirou/gopsutil/v4/disk"
	goload "github.com/shirou/gopsutil/v4/load"
	gomem "github.com/shirou/gopsutil/v4/mem"
	gonet "github.com/shirou/gopsutil/v4/net"

	"github.com/statview/statview/internal/models"
)

const bytesPerGB = 1024 * 1024 * 1024

// System call wrappers for testing
var (
	cpuPercent    = gocpu.PercentWithContext
	loadAvg       = goload.AvgWithContext
	virtualMemory = gomem.VirtualMemoryWithContext
	diskUsage     = godisk.UsageWithContext
	netIOCounters = gonet.IOCountersWithContext

	nowFn = time.Now
)

// SampleSink receives collected samples. *history.Store satisfies it.
type SampleSink interface {
	Write(serverID string, record models.SampleRecord)
}

// Collector periodically samples the local host.
type Collector struct {
	serverID  string
	interval  time.Duration
	sink      SampleSink
	broadcast func(serverID string, record models.SampleRecord)
}

// New creates a collector. An empty serverID falls back to a generated
// UUID so samples are still attributable. broadcast may be nil.
func New(serverID string, interval time.Duration, sink SampleSink, broadcast func(string, models.SampleRecord)) *Collector {
	if serverID == "" {
		serverID = uuid.NewString()
		log.Warn().Str("serverID", serverID).Msg("No server ID configured, generated one for this run")
	}
	return &Collector{
		serverID:  serverID,
		interval:  interval,
		sink:      sink,
		broadcast: broadcast,
	}
}

// ServerID returns the ID samples are recorded under.
func (c *Collector) ServerID() string {
	return c.serverID
}

// Run samples immediately and then on every interval tick until the
// context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	log.Info().
		Str("serverID", c.serverID).
		Dur("interval", c.interval).
		Msg("Starting sample collector")

	c.collectOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sample collector stopped")
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *Collector) collectOnce(ctx context.Context) {
	record, err := Collect(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to collect host sample")
		return
	}

	c.sink.Write(c.serverID, record)
	if c.broadcast != nil {
		c.broadcast(c.serverID, record)
	}
}

// Collect gathers a point-in-time sample of host resource utilisation.
// Per-subsystem failures degrade to zero values; only a memory read
// failure aborts the sample, since a record without memory or totals is
// useless for every chart.
func Collect(ctx context.Context) (models.SampleRecord, error) {
	collectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	record := models.SampleRecord{
		TimestampMs: nowFn().UnixMilli(),
	}

	if usage, err := collectCPUUsage(collectCtx); err == nil {
		record.CPUPercent = usage
	} else {
		log.Debug().Err(err).Msg("CPU usage unavailable for this sample")
	}

	memStats, err := virtualMemory(collectCtx)
	if err != nil {
		return models.SampleRecord{}, fmt.Errorf("memory stats: %w", err)
	}
	record.MemUsedGB = float64(memStats.Used) / bytesPerGB
	record.MemTotalGB = float64(memStats.Total) / bytesPerGB

	if usage, err := diskUsage(collectCtx, "/"); err == nil && usage != nil {
		record.DiskUsedGB = float64(usage.Used) / bytesPerGB
		record.DiskTotalGB = float64(usage.Total) / bytesPerGB
	}

	ingress, egress := collectNetworkCounters(collectCtx)
	record.NetworkIngressBytes = ingress
	record.NetworkEgressBytes = egress

	if avg, err := loadAvg(collectCtx); err == nil && avg != nil {
		record.LoadAverage = &models.LoadAverage{
			One:     avg.Load1,
			Five:    avg.Load5,
			Fifteen: avg.Load15,
		}
	}

	return record, nil
}

func collectCPUUsage(ctx context.Context) (float64, error) {
	percentages, err := cpuPercent(ctx, time.Second, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}

	usage := percentages[0]
	if usage < 0 {
		usage = 0
	}
	if usage > 100 {
		usage = 100
	}
	return usage, nil
}

// collectNetworkCounters sums the cumulative byte counters over every
// physical interface. Loopback traffic would inflate the chart without
// telling the operator anything, so it is skipped.
func collectNetworkCounters(ctx context.Context) (ingress, egress float64) {
	counters, err := netIOCounters(ctx, true)
	if err != nil {
		return 0, 0
	}

	for _, nic := range counters {
		if isLoopback(nic.Name) {
			continue
		}
		ingress += float64(nic.BytesRecv)
		egress += float64(nic.BytesSent)
	}
	return ingress, egress
}

func isLoopback(name string) bool {
	return name == "lo" || strings.HasPrefix(name, "lo0")
}
