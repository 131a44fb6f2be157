// Package transform converts report rows into structured security events.
//
// Two encodings are supported: a structured record with nested namespaces
// (one JSON object per event) and a flat CEF line (one delimited string per
// event). Field resolution and the directive mini-language are driven by
// the mapping table; the table is read-only during a run.
package transform

import (
	"log/slog"
	"regexp"

	"github.com/BadgerOps/shadowsync/internal/mapping"
)

// Transformer converts rows using a fixed mapping table.
type Transformer struct {
	table  *mapping.Table
	logger *slog.Logger
}

// New creates a Transformer over the given table.
func New(table *mapping.Table, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{table: table, logger: logger}
}

// Record is one structured event: output field names to values. Nested
// namespaces use dotted keys except "labels", which is a nested map, and
// "tags", which is a list.
type Record map[string]any

// Record converts one row into a structured event. Resolution order per
// non-empty field: exact "type.field" entry, bare "field" entry, then
// passthrough under the "extra." namespace. Every record carries the report
// type as its dataset tag.
func (t *Transformer) Record(reportType string, header []string, row map[string]string) Record {
	rec := make(Record, len(row)+1)
	for _, field := range fields(header, row) {
		value := row[field]
		if value == "" {
			continue
		}

		rule, ok := t.table.Resolve(reportType, field)
		if !ok {
			rec["extra."+field] = value
			continue
		}

		switch rule.Kind {
		case mapping.RuleLiteral:
			rec[rule.Target] = value
		case mapping.RuleDirective:
			t.apply(rec, rule, field, value)
		}
	}
	rec["data_stream.dataset"] = reportType
	return rec
}

var tagSplit = regexp.MustCompile(`[,;]`)

// apply dispatches a directive. Unregistered directive names drop the
// field without a trace.
func (t *Transformer) apply(rec Record, rule mapping.Rule, field, value string) {
	switch rule.Func {
	case "timestamp":
		rec["timestamp"] = isoTimestamp(value)
	case "tags":
		rec["tags"] = tagSplit.Split(value, -1)
	case "labels":
		if len(rule.Args) == 0 || rule.Args[0] == "" {
			t.logger.Debug("labels directive without a label name", "field", field)
			return
		}
		labels, ok := rec["labels"].(map[string]string)
		if !ok {
			labels = make(map[string]string)
			rec["labels"] = labels
		}
		labels[rule.Args[0]] = value
	}
}

// isoTimestamp rewrites a space-separated date-time into a strict
// date-time string with an explicit UTC marker.
func isoTimestamp(value string) string {
	b := []byte(value)
	for i := range b {
		if b[i] == ' ' {
			b[i] = 'T'
			break
		}
	}
	return string(b) + "Z"
}

// fields returns the row's field names in header order, falling back to
// map order when no header is available.
func fields(header []string, row map[string]string) []string {
	if len(header) > 0 {
		return header
	}
	out := make([]string, 0, len(row))
	for field := range row {
		out = append(out, field)
	}
	return out
}
