package sink

import (
	"fmt"
	"log/syslog"

	"github.com/BadgerOps/shadowsync/internal/config"
)

// facilities maps config facility names to syslog priorities.
var facilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"lpr":    syslog.LOG_LPR,
	"news":   syslog.LOG_NEWS,
	"uucp":   syslog.LOG_UUCP,
	"cron":   syslog.LOG_CRON,
	"syslog": syslog.LOG_SYSLOG,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

type syslogSink struct {
	w *syslog.Writer
}

func newSyslogSink(cfg config.SinkConfig) (Sink, error) {
	facility := syslog.LOG_USER
	if cfg.Facility != "" {
		f, ok := facilities[cfg.Facility]
		if !ok {
			return nil, fmt.Errorf("unknown syslog facility %q", cfg.Facility)
		}
		facility = f
	}

	tag := cfg.Tag
	if tag == "" {
		tag = "shadowsync"
	}

	w, err := syslog.New(facility|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("opening syslog: %w", err)
	}
	return &syslogSink{w: w}, nil
}

func (s *syslogSink) Notify(message string) error {
	return s.w.Info(message)
}

func (s *syslogSink) Close() error {
	return s.w.Close()
}
