// Package engine drives the report synchronization pipeline: it lists due
// reports, downloads each at most once, streams transformed events to the
// configured sinks, and maintains the on-disk checkpoint state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/shadowsync/internal/api"
	"github.com/BadgerOps/shadowsync/internal/config"
	"github.com/BadgerOps/shadowsync/internal/mapping"
	"github.com/BadgerOps/shadowsync/internal/safety"
	"github.com/BadgerOps/shadowsync/internal/sink"
	"github.com/BadgerOps/shadowsync/internal/store"
	"github.com/BadgerOps/shadowsync/internal/transform"
)

// RetentionAge is how long processed checkpoint files are kept before the
// expiry sweep deletes them. Reports older than this are outside the
// lookback window and will not be re-listed.
const RetentionAge = 7 * 24 * time.Hour

// Lister lists due reports and resolves their download locations.
// Implemented by *api.Client.
type Lister interface {
	ReportsList(ctx context.Context, date string, reports []string) ([]api.Report, error)
	DownloadURL(id string) string
}

// Downloader fetches a single file with atomic placement.
// Implemented by *download.Client.
type Downloader interface {
	Fetch(ctx context.Context, url, dest string) error
}

// SinkFactory constructs a sink from its descriptor.
type SinkFactory func(cfg config.SinkConfig, logger *slog.Logger) (sink.Sink, error)

// Syncer is the checkpoint and sync driver. Input sections are processed
// strictly sequentially; the mapping table is read-only for the run.
type Syncer struct {
	cfg        *config.Config
	api        Lister
	downloader Downloader
	tr         *transform.Transformer
	table      *mapping.Table
	store      *store.Store // nil when run history is disabled
	newSink    SinkFactory
	diskFree   DiskFreeFunc
	minFree    uint64
	now        func() time.Time
	daysBack   int
	daysAhead  int
	logger     *slog.Logger
}

// NewSyncer creates a Syncer. minFree is the free-space floor in bytes
// below which a run aborts.
func NewSyncer(cfg *config.Config, lister Lister, dl Downloader, table *mapping.Table, minFree uint64, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		cfg:        cfg,
		api:        lister,
		downloader: dl,
		tr:         transform.New(table, logger),
		table:      table,
		newSink:    sink.New,
		diskFree:   DiskFree,
		minFree:    minFree,
		now:        time.Now,
		daysBack:   2,
		daysAhead:  1,
		logger:     logger,
	}
}

// SetStore enables best-effort run-history recording.
func (s *Syncer) SetStore(st *store.Store) {
	s.store = st
}

// SetSinkFactory overrides sink construction.
func (s *Syncer) SetSinkFactory(f SinkFactory) {
	s.newSink = f
}

// SetDiskFree overrides the free-space query.
func (s *Syncer) SetDiskFree(f DiskFreeFunc) {
	s.diskFree = f
}

// SetWindow adjusts the trailing date window: back days before today
// through ahead days after, to tolerate late-arriving or re-dated reports.
func (s *Syncer) SetWindow(back, ahead int) {
	s.daysBack = back
	s.daysAhead = ahead
}

// SetNow overrides the clock.
func (s *Syncer) SetNow(fn func() time.Time) {
	s.now = fn
}

// DateRange returns the listing window as "YYYY-MM-DD:YYYY-MM-DD".
func (s *Syncer) DateRange() string {
	today := s.now().UTC()
	begin := today.AddDate(0, 0, -s.daysBack)
	end := today.AddDate(0, 0, s.daysAhead)
	return begin.Format("2006-01-02") + ":" + end.Format("2006-01-02")
}

// Run executes one full sync cycle and returns the count of newly
// downloaded reports. Disk-space exhaustion and sink construction failures
// abort the run; listing and per-report download failures are logged and
// skipped.
func (s *Syncer) Run(ctx context.Context) (int, error) {
	dateRange := s.DateRange()
	s.logger.Info("starting sync", "window", dateRange, "inputs", len(s.cfg.Inputs))

	run := &store.SyncRun{StartTime: s.now(), Status: "running"}
	if s.store != nil {
		if err := s.store.CreateSyncRun(run); err != nil {
			s.logger.Warn("failed to record sync run", "error", err)
		}
	}

	var downloaded, skipped, failed int
	var fatal error
	for _, in := range s.cfg.Inputs {
		d, sk, fl, err := s.syncInput(ctx, in, dateRange, run.ID)
		downloaded += d
		skipped += sk
		failed += fl
		if err != nil {
			fatal = err
			break
		}
	}

	if fatal == nil {
		for _, in := range s.cfg.Inputs {
			if sink.Queue(in.Sink) {
				// queue sections serve their files downstream, never expire
				continue
			}
			s.sweep(s.cfg.InputDir(in.Name))
		}
	}

	run.EndTime = s.now()
	run.Downloaded = downloaded
	run.Skipped = skipped
	run.Failed = failed
	switch {
	case fatal != nil:
		run.Status = "failed"
		run.ErrorMessage = fatal.Error()
	case failed > 0:
		run.Status = "partial"
	default:
		run.Status = "success"
	}
	if s.store != nil {
		if err := s.store.UpdateSyncRun(run); err != nil {
			s.logger.Warn("failed to update sync run", "error", err)
		}
	}

	if fatal != nil {
		return downloaded, fatal
	}
	s.logger.Info("sync completed", "downloaded", downloaded, "skipped", skipped, "failed", failed)
	return downloaded, nil
}

// syncInput processes one input section. The returned error is fatal for
// the whole run; recoverable conditions are logged and counted.
func (s *Syncer) syncInput(ctx context.Context, in config.InputConfig, dateRange string, runID int64) (downloaded, skipped, failed int, fatal error) {
	snk, err := s.newSink(in.Sink, s.logger)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("input %q: constructing sink: %w", in.Name, err)
	}
	defer func() {
		if cerr := snk.Close(); cerr != nil {
			s.logger.Warn("failed to close sink", "input", in.Name, "error", cerr)
		}
	}()

	dir := s.cfg.InputDir(in.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, 0, 0, fmt.Errorf("input %q: creating checkpoint directory: %w", in.Name, err)
	}

	reports, err := s.api.ReportsList(ctx, dateRange, in.Reports)
	if err != nil {
		s.logger.Warn("listing reports failed, skipping input", "input", in.Name, "error", err)
		return 0, 0, 0, nil
	}

	queue := sink.Queue(in.Sink)
	var types map[string]bool
	if len(in.Types) > 0 {
		types = make(map[string]bool, len(in.Types))
		for _, t := range in.Types {
			types[t] = true
		}
	}

	for _, report := range reports {
		if types != nil && !types[report.Type] {
			continue
		}

		filename, err := safety.CleanReportFilename(report.File)
		if err != nil {
			s.logger.Warn("rejecting report filename", "input", in.Name, "error", err)
			failed++
			continue
		}

		dest := filepath.Join(dir, filename)
		if queue {
			dest = filepath.Join(dir, dateTree(report.Date()), filename)
		}
		// second guard behind filename validation: the date tree is also
		// built from listing data
		dest, err = safety.EnsureUnderRoot(dir, dest)
		if err != nil {
			s.logger.Warn("rejecting report path", "input", in.Name, "file", report.File, "error", err)
			failed++
			continue
		}

		// presence alone is authoritative: a zero-byte placeholder means
		// already processed
		if _, err := os.Stat(dest); err == nil {
			skipped++
			continue
		}

		if !queue && !s.table.HasType(report.Type) {
			s.logger.Warn("no mapping defined for report type, skipping",
				"input", in.Name, "type", report.Type, "file", report.File)
			skipped++
			continue
		}

		free, err := s.diskFree(dir)
		if err != nil {
			return downloaded, skipped, failed, fmt.Errorf("querying free space: %w", err)
		}
		if free < s.minFree {
			return downloaded, skipped, failed,
				fmt.Errorf("insufficient disk space: %d bytes free, %d required", free, s.minFree)
		}

		if err := s.downloader.Fetch(ctx, s.api.DownloadURL(report.ID), dest); err != nil {
			s.logger.Warn("download failed", "input", in.Name, "file", report.File, "error", err)
			failed++
			continue
		}
		downloaded++
		s.recordDownload(in.Name, report, dest, runID)

		if queue {
			s.notifyDownload(snk, in, report, dest)
			continue
		}

		if err := s.processReport(snk, in, report, dest); err != nil {
			s.logger.Warn("transforming report failed", "input", in.Name, "file", report.File, "error", err)
		}

		// truncate in place: the filename stays permanently seen while the
		// space is reclaimed
		if err := os.Truncate(dest, 0); err != nil {
			s.logger.Warn("failed to truncate processed report", "path", dest, "error", err)
		}
		if s.store != nil {
			if err := s.store.MarkProcessed(in.Name, filename, s.now()); err != nil {
				s.logger.Warn("failed to mark report processed", "file", filename, "error", err)
			}
		}
	}

	return downloaded, skipped, failed, nil
}

// processReport streams one downloaded report through the transformer into
// the sink, one message per row.
func (s *Syncer) processReport(snk sink.Sink, in config.InputConfig, report api.Report, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	defer f.Close()

	flat := sink.Flat(in.Sink)
	eventClassID := in.EventClassID
	if eventClassID == "" {
		eventClassID = "100"
	}

	count := 0
	err = transform.EachRow(f, func(header []string, row map[string]string) error {
		var message string
		if flat {
			message = s.tr.CEFLine(report.Type, eventClassID, header, row)
		} else {
			rec := s.tr.Record(report.Type, header, row)
			b, err := rec.Encode()
			if err != nil {
				return fmt.Errorf("encoding event: %w", err)
			}
			message = string(b)
		}
		count++
		return snk.Notify(message)
	})
	if err != nil {
		return err
	}

	s.logger.Info("processed report", "input", in.Name, "file", report.File, "events", count)
	return nil
}

// notifyDownload sends the queue notification for a downloaded report.
func (s *Syncer) notifyDownload(snk sink.Sink, in config.InputConfig, report api.Report, dest string) {
	uri := s.reportURI(in, dest)
	msg, err := sink.NewMessage(report.Date(), report.Type, uri, s.now()).Encode()
	if err != nil {
		s.logger.Warn("failed to encode notification", "file", report.File, "error", err)
		return
	}
	if err := snk.Notify(msg); err != nil {
		s.logger.Warn("notification failed", "input", in.Name, "file", report.File, "error", err)
	}
}

// reportURI maps a stored report path to its externally served URI when
// the section has a url_prefix, else returns the local path.
func (s *Syncer) reportURI(in config.InputConfig, dest string) string {
	if in.URLPrefix == "" {
		return dest
	}
	rel, err := filepath.Rel(s.cfg.InputDir(in.Name), dest)
	if err != nil {
		return dest
	}
	joined, err := url.JoinPath(in.URLPrefix, filepath.ToSlash(rel))
	if err != nil {
		return dest
	}
	return joined
}

// recordDownload writes the audit record for a downloaded report, tied to
// the run that fetched it.
func (s *Syncer) recordDownload(section string, report api.Report, dest string, runID int64) {
	if s.store == nil {
		return
	}
	var size int64
	if fi, err := os.Stat(dest); err == nil {
		size = fi.Size()
	}
	rf := &store.ReportFile{
		Section:      section,
		File:         filepath.Base(dest),
		Type:         report.Type,
		ReportDate:   report.Date(),
		Size:         size,
		DownloadedAt: s.now(),
		SyncRunID:    runID,
	}
	if err := s.store.AddReportFile(rf); err != nil {
		s.logger.Warn("failed to record report file", "file", report.File, "error", err)
	}
}

// sweep deletes checkpoint files older than the retention window.
func (s *Syncer) sweep(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read checkpoint directory", "dir", dir, "error", err)
		}
		return
	}

	cutoff := s.now().Add(-RetentionAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to expire checkpoint file", "path", path, "error", err)
			} else {
				s.logger.Debug("expired checkpoint file", "path", path)
			}
		}
	}
}

// dateTree returns the year/month/day subtree for a report date.
func dateTree(date string) string {
	if len(date) >= 10 {
		return filepath.Join(date[0:4], date[5:7], date[8:10])
	}
	return date
}
