package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/statview/statview/internal/models"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.DBPath = filepath.Join(dir, "samples-test.db")
	cfg.FlushInterval = time.Hour
	cfg.RetentionRaw = 10 * time.Second
	cfg.RetentionMinute = 20 * time.Second
	cfg.RetentionHourly = 30 * time.Second
	cfg.RetentionDaily = 40 * time.Second
	return cfg
}

func sampleAt(ts time.Time, cpu float64) models.SampleRecord {
	return models.SampleRecord{
		TimestampMs: ts.UnixMilli(),
		CPUPercent:  cpu,
		MemUsedGB:   4,
		MemTotalGB:  16,
	}
}

func TestStoreWriteBatchAndQuery(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	ts := time.Unix(1000, 0)
	store.writeBatch([]bufferedSample{
		{serverID: "srv-1", record: sampleAt(ts, 1.5)},
		{serverID: "srv-1", record: sampleAt(ts.Add(time.Second), 2.5)},
		{serverID: "srv-2", record: sampleAt(ts, 9)},
	})

	records, err := store.Query("srv-1", ts.Add(-time.Second), ts.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// Newest first, the order the transformer expects.
	if records[0].CPUPercent != 2.5 || records[1].CPUPercent != 1.5 {
		t.Fatalf("unexpected query order/values: %+v", records)
	}
	if records[0].TimestampMs <= records[1].TimestampMs {
		t.Fatalf("expected newest-first ordering, got %d then %d", records[0].TimestampMs, records[1].TimestampMs)
	}
}

func TestStoreLoadAverageRoundTrip(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	ts := time.Unix(2000, 0)
	withLoad := sampleAt(ts, 1)
	withLoad.LoadAverage = &models.LoadAverage{One: 1.5, Five: 1.0, Fifteen: 0.5}
	withoutLoad := sampleAt(ts.Add(time.Second), 2)

	store.writeBatch([]bufferedSample{
		{serverID: "srv-1", record: withLoad},
		{serverID: "srv-1", record: withoutLoad},
	})

	records, err := store.Query("srv-1", ts.Add(-time.Second), ts.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// records[0] is the newer sample, which carried no load average.
	if records[0].LoadAverage != nil {
		t.Fatalf("expected nil load average on record without one, got %+v", records[0].LoadAverage)
	}
	if records[1].LoadAverage == nil || records[1].LoadAverage.One != 1.5 {
		t.Fatalf("load average did not round-trip: %+v", records[1].LoadAverage)
	}
}

func TestStoreWriteBufferFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.WriteBufferSize = 2
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	ts := time.Unix(3000, 0)
	store.Write("srv-1", sampleAt(ts, 1))
	store.Write("srv-1", sampleAt(ts.Add(time.Second), 2))

	// Buffer hit its limit; the batch write runs in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := store.Query("srv-1", ts.Add(-time.Second), ts.Add(2*time.Second))
		if err != nil {
			t.Fatalf("Query returned error: %v", err)
		}
		if len(records) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("buffered samples never reached the database, got %d records", len(records))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStoreSelectGranularity(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	if g := store.selectGranularity(5 * time.Second); g != GranularityRaw {
		t.Fatalf("expected raw granularity, got %s", g)
	}
	if g := store.selectGranularity(15 * time.Second); g != GranularityMinute {
		t.Fatalf("expected minute granularity, got %s", g)
	}
	if g := store.selectGranularity(25 * time.Second); g != GranularityHourly {
		t.Fatalf("expected hourly granularity, got %s", g)
	}
	if g := store.selectGranularity(35 * time.Second); g != GranularityDaily {
		t.Fatalf("expected daily granularity, got %s", g)
	}
}

func TestStoreServers(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	ts := time.Unix(4000, 0)
	store.writeBatch([]bufferedSample{
		{serverID: "srv-a", record: sampleAt(ts, 1)},
		{serverID: "srv-a", record: sampleAt(ts.Add(time.Second), 2)},
		{serverID: "srv-b", record: sampleAt(ts, 3)},
	})

	servers, err := store.Servers()
	if err != nil {
		t.Fatalf("Servers returned error: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[0].ID != "srv-a" || servers[1].ID != "srv-b" {
		t.Fatalf("unexpected server order: %+v", servers)
	}
	if servers[0].SampleRows != 2 {
		t.Fatalf("expected 2 rows for srv-a, got %d", servers[0].SampleRows)
	}
	if !servers[0].LastSeen.Equal(ts.Add(time.Second)) {
		t.Fatalf("unexpected last-seen for srv-a: %v", servers[0].LastSeen)
	}
}

func TestStoreRollupKeepsCounterMonotone(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	// Two raw samples inside the same minute bucket, well in the past so
	// the rollup cutoff covers them.
	base := time.Now().Add(-30 * time.Minute).Truncate(time.Minute)
	older := sampleAt(base, 10)
	older.NetworkIngressBytes = 1000
	newer := sampleAt(base.Add(10*time.Second), 20)
	newer.NetworkIngressBytes = 5000

	store.writeBatch([]bufferedSample{
		{serverID: "srv-1", record: older},
		{serverID: "srv-1", record: newer},
	})

	store.rollupGranularity(GranularityRaw, GranularityMinute, time.Minute, 5*time.Minute)

	rows, err := store.db.Query(`
		SELECT cpu_percent, net_ingress_bytes FROM samples
		WHERE server_id = 'srv-1' AND granularity = 'minute'
	`)
	if err != nil {
		t.Fatalf("query rolled-up rows: %v", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var cpu, ingress float64
		if err := rows.Scan(&cpu, &ingress); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if cpu != 15 {
			t.Fatalf("expected averaged cpu 15, got %v", cpu)
		}
		if ingress != 5000 {
			t.Fatalf("expected max ingress counter 5000, got %v", ingress)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 rolled-up row, got %d", count)
	}

	// Raw rows in the bucket are gone after rollup.
	records, err := store.Query("srv-1", base.Add(-time.Second), base.Add(time.Second))
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected raw rows deleted after rollup, got %d", len(records))
	}
}

func TestStoreRetention(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	old := sampleAt(time.Now().Add(-time.Hour), 1)
	fresh := sampleAt(time.Now(), 2)
	store.writeBatch([]bufferedSample{
		{serverID: "srv-1", record: old},
		{serverID: "srv-1", record: fresh},
	})

	store.runRetention()

	var count int
	var cpu float64
	err = store.db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(cpu_percent), 0) FROM samples WHERE server_id = 'srv-1'`).Scan(&count, &cpu)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the fresh sample to survive retention, got %d rows", count)
	}
	if cpu != 2 {
		t.Fatalf("wrong sample survived, cpu=%v", cpu)
	}
}

func TestStoreGetStats(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	store.writeBatch([]bufferedSample{
		{serverID: "srv-1", record: sampleAt(time.Unix(5000, 0), 1)},
	})

	stats := store.GetStats()
	if stats.RawCount != 1 {
		t.Fatalf("expected 1 raw row, got %d", stats.RawCount)
	}
	if stats.DBPath == "" {
		t.Fatalf("expected db path in stats")
	}
}
