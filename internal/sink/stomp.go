package sink

import (
	"fmt"

	"github.com/go-stomp/stomp/v3"

	"github.com/BadgerOps/shadowsync/internal/config"
)

// stompSink sends notifications to a STOMP message queue.
type stompSink struct {
	conn  *stomp.Conn
	queue string
}

func newStompSink(cfg config.SinkConfig) (Sink, error) {
	var opts []func(*stomp.Conn) error
	if cfg.Login != "" || cfg.Passcode != "" {
		opts = append(opts, stomp.ConnOpt.Login(cfg.Login, cfg.Passcode))
	}

	conn, err := stomp.Dial("tcp", cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to stomp %s: %w", cfg.Addr, err)
	}

	return &stompSink{conn: conn, queue: cfg.Queue}, nil
}

func (s *stompSink) Notify(message string) error {
	return s.conn.Send(s.queue, "application/json", []byte(message))
}

func (s *stompSink) Close() error {
	return s.conn.Disconnect()
}
