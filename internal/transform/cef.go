package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BadgerOps/shadowsync/internal/mapping"
)

const (
	cefVersion    = "0"
	cefVendor     = "Shadowserver"
	cefProduct    = "Reports"
	deviceVersion = "1.0"
)

// severityCodes is the fixed five-level ordinal table. Rows missing a
// severity field, or with an unrecognized value, default to info.
var severityCodes = map[string]string{
	"info":     "0",
	"low":      "1",
	"medium":   "5",
	"high":     "8",
	"critical": "10",
}

// Severity returns the CEF severity code for a row.
func Severity(row map[string]string) string {
	if code, ok := severityCodes[row["severity"]]; ok {
		return code
	}
	return severityCodes["info"]
}

// customKey matches the dynamically-typed CEF extension keys that require
// a companion Label pair carrying the original field name.
var customKey = regexp.MustCompile(`^(c6a|cfp|cn|cs|deviceCustomDate|flexDate|flexString)\d$`)

// CEFLine converts one row into a flat CEF event string: a fixed header
// followed by key=value pairs for every non-empty mapped field.
func (t *Transformer) CEFLine(reportType, eventClassID string, header []string, row map[string]string) string {
	parts := make([]string, 0, len(row)+1)
	parts = append(parts, fmt.Sprintf("CEF:%s|%s|%s|%s|%s|%s|%s|start=%s",
		cefVersion, cefVendor, cefProduct, deviceVersion,
		eventClassID, reportType, Severity(row),
		strings.Replace(row["timestamp"], " ", "T", 1)))

	for _, field := range fields(header, row) {
		value := row[field]
		if value == "" {
			continue
		}
		rule, ok := t.table.Resolve(reportType, field)
		if !ok || rule.Kind != mapping.RuleLiteral {
			continue
		}
		parts = append(parts, rule.Target+"="+value)
		if customKey.MatchString(rule.Target) {
			parts = append(parts, rule.Target+"Label:"+field)
		}
	}
	return strings.Join(parts, " ")
}
