package store

import "time"

// SyncRun records one pipeline invocation. The store is an audit log only:
// report files on disk remain the sole checkpoint authority.
type SyncRun struct {
	ID           int64
	StartTime    time.Time
	EndTime      time.Time
	Downloaded   int
	Skipped      int
	Failed       int
	Status       string // "running", "success", "partial", "failed"
	ErrorMessage string
}

// ReportFile records a downloaded report.
type ReportFile struct {
	ID           int64
	Section      string
	File         string
	Type         string
	ReportDate   string
	Size         int64
	DownloadedAt time.Time
	ProcessedAt  time.Time // zero until the report's rows were emitted
	SyncRunID    int64
}
