// Package history provides persistent storage for host sample records
// using SQLite for durability across restarts.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/statview/statview/internal/models"
)

// Granularity is the resolution of stored samples.
type Granularity string

const (
	GranularityRaw    Granularity = "raw"    // As collected, ~10s intervals
	GranularityMinute Granularity = "minute" // 1-minute aggregates
	GranularityHourly Granularity = "hourly" // 1-hour aggregates
	GranularityDaily  Granularity = "daily"  // 1-day aggregates
)

// Config holds configuration for the sample store.
type Config struct {
	DBPath          string
	WriteBufferSize int           // Number of samples to buffer before batch write
	FlushInterval   time.Duration // Max time between flushes
	RetentionRaw    time.Duration // How long to keep raw samples
	RetentionMinute time.Duration // How long to keep minute aggregates
	RetentionHourly time.Duration // How long to keep hourly aggregates
	RetentionDaily  time.Duration // How long to keep daily aggregates
}

// DefaultConfig returns sensible defaults for sample storage.
func DefaultConfig(dataDir string) Config {
	return Config{
		DBPath:          filepath.Join(dataDir, "samples.db"),
		WriteBufferSize: 64,
		FlushInterval:   5 * time.Second,
		RetentionRaw:    2 * time.Hour,
		RetentionMinute: 24 * time.Hour,
		RetentionHourly: 7 * 24 * time.Hour,
		RetentionDaily:  90 * 24 * time.Hour,
	}
}

// bufferedSample holds a sample waiting to be written.
type bufferedSample struct {
	serverID string
	record   models.SampleRecord
}

// ServerInfo describes one server known to the store.
type ServerInfo struct {
	ID         string    `json:"id"`
	LastSeen   time.Time `json:"lastSeen"`
	SampleRows int64     `json:"sampleRows"`
}

// Store provides persistent sample storage.
type Store struct {
	db     *sql.DB
	config Config

	bufferMu sync.Mutex
	buffer   []bufferedSample

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Open creates a sample store backed by the configured SQLite database.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// WAL mode for better concurrent access
	db, err := sql.Open("sqlite", config.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{
		db:     db,
		config: config,
		buffer: make([]bufferedSample, 0, config.WriteBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go store.backgroundWorker()

	log.Info().
		Str("path", config.DBPath).
		Int("bufferSize", config.WriteBufferSize).
		Msg("Sample history store initialized")

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			cpu_percent REAL NOT NULL DEFAULT 0,
			mem_used_gb REAL NOT NULL DEFAULT 0,
			mem_total_gb REAL NOT NULL DEFAULT 0,
			disk_used_gb REAL NOT NULL DEFAULT 0,
			disk_total_gb REAL NOT NULL DEFAULT 0,
			net_ingress_bytes REAL NOT NULL DEFAULT 0,
			net_egress_bytes REAL NOT NULL DEFAULT 0,
			load_one REAL,
			load_five REAL,
			load_fifteen REAL,
			granularity TEXT NOT NULL DEFAULT 'raw'
		);

		-- Index for range queries by server and time
		CREATE INDEX IF NOT EXISTS idx_samples_lookup
		ON samples(server_id, granularity, timestamp_ms);

		-- Index for retention pruning
		CREATE INDEX IF NOT EXISTS idx_samples_gran_time
		ON samples(granularity, timestamp_ms);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debug().Msg("Sample schema initialized")
	return nil
}

// Write adds a sample to the write buffer.
func (s *Store) Write(serverID string, record models.SampleRecord) {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()

	s.buffer = append(s.buffer, bufferedSample{serverID: serverID, record: record})

	if len(s.buffer) >= s.config.WriteBufferSize {
		s.flushLocked()
	}
}

// flushLocked hands the buffered samples to a background write. Caller must
// hold bufferMu.
func (s *Store) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}

	toWrite := make([]bufferedSample, len(s.buffer))
	copy(toWrite, s.buffer)
	s.buffer = s.buffer[:0]

	go s.writeBatch(toWrite)
}

func (s *Store) writeBatch(samples []bufferedSample) {
	if len(samples) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin sample transaction")
		return
	}

	stmt, err := tx.Prepare(`
		INSERT INTO samples (
			server_id, timestamp_ms, cpu_percent,
			mem_used_gb, mem_total_gb, disk_used_gb, disk_total_gb,
			net_ingress_bytes, net_egress_bytes,
			load_one, load_five, load_fifteen, granularity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'raw')
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare sample insert")
		return
	}
	defer stmt.Close()

	for _, b := range samples {
		r := b.record
		var one, five, fifteen sql.NullFloat64
		if r.LoadAverage != nil {
			one = sql.NullFloat64{Float64: r.LoadAverage.One, Valid: true}
			five = sql.NullFloat64{Float64: r.LoadAverage.Five, Valid: true}
			fifteen = sql.NullFloat64{Float64: r.LoadAverage.Fifteen, Valid: true}
		}
		_, err := stmt.Exec(
			b.serverID, r.TimestampMs, r.CPUPercent,
			r.MemUsedGB, r.MemTotalGB, r.DiskUsedGB, r.DiskTotalGB,
			r.NetworkIngressBytes, r.NetworkEgressBytes,
			one, five, fifteen,
		)
		if err != nil {
			log.Warn().Err(err).
				Str("server", b.serverID).
				Msg("Failed to insert sample")
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit sample batch")
		return
	}

	log.Debug().Int("count", len(samples)).Msg("Wrote sample batch")
}

// Query retrieves samples for a server within a time range, newest first.
// The granularity is chosen from the width of the range so long windows
// read the rolled-up rows instead of every raw sample.
func (s *Store) Query(serverID string, start, end time.Time) ([]models.SampleRecord, error) {
	gran := s.selectGranularity(end.Sub(start))

	rows, err := s.db.Query(`
		SELECT timestamp_ms, cpu_percent,
			mem_used_gb, mem_total_gb, disk_used_gb, disk_total_gb,
			net_ingress_bytes, net_egress_bytes,
			load_one, load_five, load_fifteen
		FROM samples
		WHERE server_id = ? AND granularity = ?
		AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms DESC
	`, serverID, string(gran), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var records []models.SampleRecord
	for rows.Next() {
		var r models.SampleRecord
		var one, five, fifteen sql.NullFloat64
		if err := rows.Scan(
			&r.TimestampMs, &r.CPUPercent,
			&r.MemUsedGB, &r.MemTotalGB, &r.DiskUsedGB, &r.DiskTotalGB,
			&r.NetworkIngressBytes, &r.NetworkEgressBytes,
			&one, &five, &fifteen,
		); err != nil {
			log.Warn().Err(err).Msg("Failed to scan sample row")
			continue
		}
		if one.Valid || five.Valid || fifteen.Valid {
			r.LoadAverage = &models.LoadAverage{
				One:     one.Float64,
				Five:    five.Float64,
				Fifteen: fifteen.Float64,
			}
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Servers lists every server the store has samples for.
func (s *Store) Servers() ([]ServerInfo, error) {
	rows, err := s.db.Query(`
		SELECT server_id, MAX(timestamp_ms), COUNT(*)
		FROM samples
		GROUP BY server_id
		ORDER BY server_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []ServerInfo
	for rows.Next() {
		var info ServerInfo
		var lastMs int64
		if err := rows.Scan(&info.ID, &lastMs, &info.SampleRows); err != nil {
			log.Warn().Err(err).Msg("Failed to scan server row")
			continue
		}
		info.LastSeen = time.UnixMilli(lastMs)
		servers = append(servers, info)
	}

	return servers, rows.Err()
}

// selectGranularity chooses the data resolution for a query window.
func (s *Store) selectGranularity(window time.Duration) Granularity {
	switch {
	case window <= s.config.RetentionRaw:
		return GranularityRaw
	case window <= s.config.RetentionMinute:
		return GranularityMinute
	case window <= s.config.RetentionHourly:
		return GranularityHourly
	default:
		return GranularityDaily
	}
}

func (s *Store) backgroundWorker() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.config.FlushInterval)
	rollupTicker := time.NewTicker(5 * time.Minute)
	retentionTicker := time.NewTicker(1 * time.Hour)

	defer flushTicker.Stop()
	defer rollupTicker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			// Final flush before stopping
			s.Flush()
			return

		case <-flushTicker.C:
			s.Flush()

		case <-rollupTicker.C:
			s.runRollup()

		case <-retentionTicker.C:
			s.runRetention()
		}
	}
}

// Flush writes any buffered samples to the database.
func (s *Store) Flush() {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()
	s.flushLocked()
}

// runRollup aggregates raw samples into coarser granularities.
func (s *Store) runRollup() {
	start := time.Now()

	// Raw -> minute for data older than 5 minutes
	s.rollupGranularity(GranularityRaw, GranularityMinute, time.Minute, 5*time.Minute)

	// Minute -> hourly for data older than 1 hour
	s.rollupGranularity(GranularityMinute, GranularityHourly, time.Hour, time.Hour)

	// Hourly -> daily for data older than 24 hours
	s.rollupGranularity(GranularityHourly, GranularityDaily, 24*time.Hour, 24*time.Hour)

	log.Debug().Dur("duration", time.Since(start)).Msg("Sample rollup completed")
}

func (s *Store) rollupGranularity(from, to Granularity, bucketSize, minAge time.Duration) {
	cutoff := time.Now().Add(-minAge).UnixMilli()
	bucketMs := bucketSize.Milliseconds()

	rows, err := s.db.Query(`
		SELECT DISTINCT server_id
		FROM samples
		WHERE granularity = ? AND timestamp_ms < ?
	`, string(from), cutoff)
	if err != nil {
		log.Error().Err(err).Str("granularity", string(from)).Msg("Failed to find rollup candidates")
		return
	}

	var servers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			servers = append(servers, id)
		}
	}
	rows.Close()

	for _, id := range servers {
		s.rollupServer(id, from, to, bucketMs, cutoff)
	}
}

// rollupServer aggregates one server's samples from one granularity to the
// next: gauges average within the bucket, the cumulative network counters
// take the bucket maximum so they stay monotone and rate conversion on
// rolled-up rows remains valid.
func (s *Store) rollupServer(serverID string, from, to Granularity, bucketMs, cutoff int64) {
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO samples (
			server_id, timestamp_ms, cpu_percent,
			mem_used_gb, mem_total_gb, disk_used_gb, disk_total_gb,
			net_ingress_bytes, net_egress_bytes,
			load_one, load_five, load_fifteen, granularity
		)
		SELECT
			server_id,
			(timestamp_ms / ?) * ? AS bucket_ms,
			AVG(cpu_percent),
			AVG(mem_used_gb), AVG(mem_total_gb),
			AVG(disk_used_gb), AVG(disk_total_gb),
			MAX(net_ingress_bytes), MAX(net_egress_bytes),
			AVG(load_one), AVG(load_five), AVG(load_fifteen),
			?
		FROM samples
		WHERE server_id = ? AND granularity = ? AND timestamp_ms < ?
		GROUP BY server_id, bucket_ms
	`, bucketMs, bucketMs, string(to), serverID, string(from), cutoff)

	if err != nil {
		log.Warn().Err(err).
			Str("server", serverID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Failed to roll up samples")
		return
	}

	_, err = tx.Exec(`
		DELETE FROM samples
		WHERE server_id = ? AND granularity = ? AND timestamp_ms < ?
	`, serverID, string(from), cutoff)

	if err != nil {
		log.Warn().Err(err).Msg("Failed to delete rolled-up samples")
		return
	}

	tx.Commit()
}

// runRetention deletes samples older than each granularity's retention.
func (s *Store) runRetention() {
	start := time.Now()
	now := time.Now()

	granularities := []struct {
		gran      Granularity
		retention time.Duration
	}{
		{GranularityRaw, s.config.RetentionRaw},
		{GranularityMinute, s.config.RetentionMinute},
		{GranularityHourly, s.config.RetentionHourly},
		{GranularityDaily, s.config.RetentionDaily},
	}

	var totalDeleted int64
	for _, g := range granularities {
		cutoff := now.Add(-g.retention).UnixMilli()
		result, err := s.db.Exec(`DELETE FROM samples WHERE granularity = ? AND timestamp_ms < ?`, string(g.gran), cutoff)
		if err != nil {
			log.Warn().Err(err).Str("granularity", string(g.gran)).Msg("Failed to prune samples")
			continue
		}
		if affected, _ := result.RowsAffected(); affected > 0 {
			totalDeleted += affected
		}
	}

	if totalDeleted > 0 {
		log.Info().
			Int64("deleted", totalDeleted).
			Dur("duration", time.Since(start)).
			Msg("Sample retention cleanup completed")
	}
}

// Close shuts down the store gracefully.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Sample store shutdown timed out")
	}

	return s.db.Close()
}

// Stats holds sample store statistics.
type Stats struct {
	DBPath      string `json:"dbPath"`
	DBSize      int64  `json:"dbSize"`
	RawCount    int64  `json:"rawCount"`
	MinuteCount int64  `json:"minuteCount"`
	HourlyCount int64  `json:"hourlyCount"`
	DailyCount  int64  `json:"dailyCount"`
	BufferSize  int    `json:"bufferSize"`
}

// GetStats returns storage statistics.
func (s *Store) GetStats() Stats {
	stats := Stats{
		DBPath: s.config.DBPath,
	}

	rows, err := s.db.Query(`SELECT granularity, COUNT(*) FROM samples GROUP BY granularity`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var gran string
			var count int64
			if err := rows.Scan(&gran, &count); err == nil {
				switch Granularity(gran) {
				case GranularityRaw:
					stats.RawCount = count
				case GranularityMinute:
					stats.MinuteCount = count
				case GranularityHourly:
					stats.HourlyCount = count
				case GranularityDaily:
					stats.DailyCount = count
				}
			}
		}
	}

	if fi, err := os.Stat(s.config.DBPath); err == nil {
		stats.DBSize = fi.Size()
	}

	s.bufferMu.Lock()
	stats.BufferSize = len(s.buffer)
	s.bufferMu.Unlock()

	return stats
}
