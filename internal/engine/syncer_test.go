package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BadgerOps/shadowsync/internal/api"
	"github.com/BadgerOps/shadowsync/internal/config"
	"github.com/BadgerOps/shadowsync/internal/download"
	"github.com/BadgerOps/shadowsync/internal/mapping"
	"github.com/BadgerOps/shadowsync/internal/sink"
	"github.com/BadgerOps/shadowsync/internal/store"
)

type fakeLister struct {
	reports []api.Report
	err     error
	base    string
}

func (f *fakeLister) ReportsList(ctx context.Context, date string, reports []string) ([]api.Report, error) {
	return f.reports, f.err
}

func (f *fakeLister) DownloadURL(id string) string {
	return f.base + "/" + id
}

type captureSink struct {
	messages []string
	closed   bool
}

func (c *captureSink) Notify(m string) error {
	c.messages = append(c.messages, m)
	return nil
}

func (c *captureSink) Close() error {
	c.closed = true
	return nil
}

const reportCSV = "timestamp,ip,severity\n2026-08-28 00:01:02,198.51.100.7,high\n2026-08-28 00:01:03,198.51.100.8,\n"

// newReportServer serves reportCSV for any id and counts hits.
func newReportServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(reportCSV))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, sinkType string) *config.Config {
	t.Helper()
	return &config.Config{
		StateDirectory: t.TempDir(),
		MinDiskFree:    "0",
		Inputs: []config.InputConfig{{
			Name: "section1",
			Sink: config.SinkConfig{Type: sinkType, Path: "unused", Brokers: []string{"unused"}, Topic: "unused"},
		}},
	}
}

func testSyncer(t *testing.T, cfg *config.Config, lister Lister, snk sink.Sink) *Syncer {
	t.Helper()
	table, err := mapping.Parse([]byte(`{"map": {
		"scan_stun.ip": "source.ip",
		"timestamp": "&timestamp"
	}}`))
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	dl := download.NewClient(10*time.Second, logger)
	s := NewSyncer(cfg, lister, dl, table, 0, logger)
	s.SetSinkFactory(func(config.SinkConfig, *slog.Logger) (sink.Sink, error) {
		return snk, nil
	})
	return s
}

func TestSyncIdempotency(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "2026-08-28-scan_stun-report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	snk := &captureSink{}
	s := testSyncer(t, cfg, lister, snk)

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if count != 1 {
		t.Errorf("first run downloaded %d, want 1", count)
	}

	count, err = s.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if count != 0 {
		t.Errorf("second run downloaded %d, want 0", count)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestSyncEmitsEvents(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	snk := &captureSink{}
	s := testSyncer(t, cfg, lister, snk)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snk.messages) != 2 {
		t.Fatalf("emitted %d events, want 2", len(snk.messages))
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(snk.messages[0]), &event); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if event["source.ip"] != "198.51.100.7" {
		t.Errorf("source.ip = %v, want 198.51.100.7", event["source.ip"])
	}
	if event["@timestamp"] != "2026-08-28T00:01:02Z" {
		t.Errorf("@timestamp = %v", event["@timestamp"])
	}
	if event["data_stream.dataset"] != "scan_stun" {
		t.Errorf("dataset = %v, want scan_stun", event["data_stream.dataset"])
	}
}

func TestSyncFlatEncoding(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "syslog")
	cfg.Inputs[0].EventClassID = "200"
	snk := &captureSink{}
	s := testSyncer(t, cfg, lister, snk)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snk.messages) != 2 {
		t.Fatalf("emitted %d events, want 2", len(snk.messages))
	}
	if !strings.HasPrefix(snk.messages[0], "CEF:0|Shadowserver|Reports|1.0|200|scan_stun|8|start=2026-08-28T00:01:02") {
		t.Errorf("first event = %q", snk.messages[0])
	}
	// second row has no severity value: default info
	if !strings.Contains(snk.messages[1], "|scan_stun|0|") {
		t.Errorf("second event = %q, want default severity 0", snk.messages[1])
	}
}

func TestCheckpointTruncation(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, lister, &captureSink{})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	path := filepath.Join(cfg.StateDirectory, "section1", "report.csv")
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("checkpoint file missing: %v", err)
	}
	if fi.Size() != 0 {
		t.Errorf("checkpoint size = %d, want 0", fi.Size())
	}
}

func TestAtomicityInterruptedDownload(t *testing.T) {
	// a crashed download leaves only the temp file; the final path must not
	// exist and the next sync must retry
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	dir := filepath.Join(cfg.StateDirectory, "section1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".report.csv"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "report.csv")); !os.IsNotExist(err) {
		t.Fatalf("final path exists before sync")
	}

	s := testSyncer(t, cfg, lister, &captureSink{})
	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 1 {
		t.Errorf("downloaded %d, want 1 (retry after interrupted download)", count)
	}
}

func TestFailedDownloadLeavesNoTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, lister, &captureSink{})

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v (download failures are skippable)", err)
	}
	if count != 0 {
		t.Errorf("downloaded %d, want 0", count)
	}

	dir := filepath.Join(cfg.StateDirectory, "section1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("leftover files after failed download: %v", entries)
	}
}

func TestZeroByteDownloadRetriable(t *testing.T) {
	empty := true
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !empty {
			w.Write([]byte(reportCSV))
		}
	}))
	defer srv.Close()

	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, lister, &captureSink{})

	if count, err := s.Run(context.Background()); err != nil || count != 0 {
		t.Fatalf("empty run: count=%d err=%v, want 0, nil", count, err)
	}

	empty = false
	if count, err := s.Run(context.Background()); err != nil || count != 1 {
		t.Fatalf("retry run: count=%d err=%v, want 1, nil", count, err)
	}
}

func TestDiskGuardFatal(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, lister, &captureSink{})
	s.minFree = 512 * 1024 * 1024
	s.SetDiskFree(func(string) (uint64, error) {
		return 1024, nil
	})

	_, err := s.Run(context.Background())
	if err == nil {
		t.Fatalf("Run succeeded, want fatal disk-space error")
	}
	if !strings.Contains(err.Error(), "insufficient disk space") {
		t.Errorf("error = %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("download attempted despite disk guard")
	}
}

func TestUnmappedTypeNeverDownloaded(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_unmapped", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	snk := &captureSink{}
	s := testSyncer(t, cfg, lister, snk)

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 0 || hits.Load() != 0 || len(snk.messages) != 0 {
		t.Errorf("unmapped type: count=%d hits=%d events=%d, want all 0",
			count, hits.Load(), len(snk.messages))
	}
}

func TestTypesFilter(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "a.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
			{ID: "id2", File: "b.csv", Type: "scan_other", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	cfg.Inputs[0].Types = []string{"scan_stun"}
	s := testSyncer(t, cfg, lister, &captureSink{})

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 1 {
		t.Errorf("downloaded %d, want 1 (types filter)", count)
	}
}

func TestListingFailureSkipsSection(t *testing.T) {
	lister := &fakeLister{err: context.DeadlineExceeded}

	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, lister, &captureSink{})

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v (listing failures are skippable)", err)
	}
	if count != 0 {
		t.Errorf("downloaded %d, want 0", count)
	}
}

func TestSinkConstructionFatal(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	table, _ := mapping.Parse([]byte(`{"map": {"scan_stun.ip": "source.ip"}}`))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s := NewSyncer(cfg, lister, download.NewClient(10*time.Second, logger), table, 0, logger)
	s.SetSinkFactory(func(config.SinkConfig, *slog.Logger) (sink.Sink, error) {
		return nil, os.ErrPermission
	})

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatalf("Run succeeded, want fatal sink construction error")
	}
	if hits.Load() != 0 {
		t.Errorf("download attempted despite sink failure")
	}
}

func TestQueueSection(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "2026-08-27-scan_stun.csv", Type: "scan_stun", Timestamp: "2026-08-27 00:00:00"},
		},
	}

	cfg := testConfig(t, "kafka")
	cfg.Inputs[0].URLPrefix = "http://myserver/reports/"
	snk := &captureSink{}
	s := testSyncer(t, cfg, lister, snk)
	s.SetNow(func() time.Time {
		return time.Date(2026, 8, 28, 11, 32, 45, 0, time.UTC)
	})

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 1 {
		t.Fatalf("downloaded %d, want 1", count)
	}

	// stored under the year/month/day tree and not truncated
	path := filepath.Join(cfg.StateDirectory, "section1", "2026", "08", "27", "2026-08-27-scan_stun.csv")
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("report not stored in date tree: %v", err)
	}
	if fi.Size() == 0 {
		t.Errorf("queue section report truncated, want contents kept")
	}

	if len(snk.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(snk.messages))
	}
	var msg map[string]string
	if err := json.Unmarshal([]byte(snk.messages[0]), &msg); err != nil {
		t.Fatalf("notification is not JSON: %v", err)
	}
	if msg["report_type"] != "scan_stun" || msg["report_date"] != "2026-08-27" {
		t.Errorf("notification = %v", msg)
	}
	if msg["uri"] != "http://myserver/reports/2026/08/27/2026-08-27-scan_stun.csv" {
		t.Errorf("uri = %q", msg["uri"])
	}
	if msg["timestamp"] != "2026-08-28 11:32:45" {
		t.Errorf("timestamp = %q", msg["timestamp"])
	}
}

func TestSweepExpiresOldCheckpoints(t *testing.T) {
	lister := &fakeLister{}

	cfg := testConfig(t, "file")
	dir := filepath.Join(cfg.StateDirectory, "section1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(dir, "old.csv")
	freshPath := filepath.Join(dir, "fresh.csv")
	for _, p := range []string{oldPath, freshPath} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	oldTime := time.Now().Add(-RetentionAge - time.Hour)
	if err := os.Chtimes(oldPath, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	s := testSyncer(t, cfg, lister, &captureSink{})
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("expired checkpoint still present")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Errorf("fresh checkpoint removed: %v", err)
	}
}

func TestDateRange(t *testing.T) {
	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, &fakeLister{}, &captureSink{})
	s.SetNow(func() time.Time {
		return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	})

	if got := s.DateRange(); got != "2026-08-26:2026-08-29" {
		t.Errorf("DateRange = %q, want 2026-08-26:2026-08-29", got)
	}

	s.SetWindow(5, 0)
	if got := s.DateRange(); got != "2026-08-23:2026-08-28" {
		t.Errorf("DateRange = %q, want 2026-08-23:2026-08-28", got)
	}
}

func TestDownloadAuditTiedToRun(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	s := testSyncer(t, cfg, lister, &captureSink{})
	s.SetStore(st)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := st.ListSyncRuns(1)
	if err != nil {
		t.Fatalf("ListSyncRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Downloaded != 1 || runs[0].Status != "success" {
		t.Errorf("run = %+v", runs[0])
	}

	files, err := st.ListReportFiles("section1", 10)
	if err != nil {
		t.Fatalf("ListReportFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	if files[0].SyncRunID != runs[0].ID {
		t.Errorf("SyncRunID = %d, want %d", files[0].SyncRunID, runs[0].ID)
	}
}

func TestQueueSectionHostileDateStaysUnderSection(t *testing.T) {
	// the date tree is built from listing data; a mangled timestamp must
	// never place a file outside the section directory
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "report.csv", Type: "scan_stun", Timestamp: "2026-..-.. 00:00:00"},
		},
	}

	cfg := testConfig(t, "kafka")
	s := testSyncer(t, cfg, lister, &captureSink{})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := filepath.Join(cfg.StateDirectory, "section1")
	found := false
	err := filepath.WalkDir(cfg.StateDirectory, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(path) != "report.csv" {
			return nil
		}
		found = true
		if rel, err := filepath.Rel(dir, path); err != nil || strings.HasPrefix(rel, "..") {
			t.Errorf("report stored outside section directory: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if hits.Load() > 0 && !found {
		t.Error("report downloaded but not stored under the state directory")
	}
}

func TestRejectedFilename(t *testing.T) {
	var hits atomic.Int64
	srv := newReportServer(t, &hits)
	lister := &fakeLister{
		base: srv.URL,
		reports: []api.Report{
			{ID: "id1", File: "../escape.csv", Type: "scan_stun", Timestamp: "2026-08-28 00:00:00"},
		},
	}

	cfg := testConfig(t, "file")
	s := testSyncer(t, cfg, lister, &captureSink{})

	count, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 0 || hits.Load() != 0 {
		t.Errorf("hostile filename downloaded: count=%d hits=%d", count, hits.Load())
	}
}
