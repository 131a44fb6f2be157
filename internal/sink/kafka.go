package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BadgerOps/shadowsync/internal/config"
)

// kafkaSink produces one message per notification to a Kafka topic.
type kafkaSink struct {
	writer *kafka.Writer
}

func newKafkaSink(cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	// The writer dials lazily; probe a broker up front so a broken
	// configuration is fatal at startup.
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka broker %s: %w", cfg.Brokers[0], err)
	}
	_ = conn.Close()

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
	return &kafkaSink{writer: w}, nil
}

func (s *kafkaSink) Notify(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.writer.WriteMessages(ctx, kafka.Message{Value: []byte(message)})
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
