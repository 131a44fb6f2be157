// Package sink delivers transformed events and download notifications.
//
// All sinks expose the single capability Notify(message); the driver treats
// a sink that cannot be constructed or connected as fatal before any
// download begins, since a silently-absent sink would mean invisible event
// loss.
package sink

import (
	"fmt"
	"log/slog"

	"github.com/BadgerOps/shadowsync/internal/config"
)

// Sink receives one message per event or notification.
type Sink interface {
	Notify(message string) error
	Close() error
}

// New constructs the sink described by cfg. Connection-oriented sinks dial
// eagerly so that failures surface at startup.
func New(cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "syslog":
		return newSyslogSink(cfg)
	case "file":
		return newFileSink(cfg)
	case "kafka":
		return newKafkaSink(cfg, logger)
	case "redis":
		return newRedisSink(cfg)
	case "stomp":
		return newStompSink(cfg)
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
}

// Flat reports whether the sink type consumes flat CEF lines rather than
// structured JSON records.
func Flat(cfg config.SinkConfig) bool {
	return cfg.Type == "syslog"
}

// Queue reports whether the sink type carries download notifications
// (report-manager style) instead of per-row events.
func Queue(cfg config.SinkConfig) bool {
	switch cfg.Type {
	case "kafka", "redis", "stomp":
		return true
	}
	return false
}
