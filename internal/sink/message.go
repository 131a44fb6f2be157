package sink

import (
	"encoding/json"
	"time"
)

// Message is the notification sent to queue sinks for each newly
// downloaded report.
type Message struct {
	Timestamp  string `json:"timestamp"`
	ReportDate string `json:"report_date"`
	ReportType string `json:"report_type"`
	URI        string `json:"uri"`
}

// NewMessage builds a notification stamped with the current UTC time.
func NewMessage(reportDate, reportType, uri string, now time.Time) Message {
	return Message{
		Timestamp:  now.UTC().Format("2006-01-02 15:04:05"),
		ReportDate: reportDate,
		ReportType: reportType,
		URI:        uri,
	}
}

// Encode renders the message as its JSON wire form.
func (m Message) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
