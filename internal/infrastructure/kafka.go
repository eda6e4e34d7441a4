package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/krobus00/price-stream-service/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultKafkaMinBytes      = 1
	defaultKafkaMaxBytes      = 10e6
	defaultKafkaMaxWait       = 250 * time.Millisecond
	defaultKafkaWriteTimeout  = 5 * time.Second
	defaultKafkaDialTimeout   = 5 * time.Second
	defaultKafkaHeartbeat     = 3 * time.Second
	defaultKafkaSessionExpiry = 10 * time.Second
)

// NewKafkaReader returns a consumer-group reader with manual commits.
// Offsets are committed only through CommitMessages.
func NewKafkaReader(cfg config.KafkaConfig, topic, groupID string) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka topic and group id are required")
	}

	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = defaultKafkaMinBytes
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultKafkaMaxBytes
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultKafkaMaxWait
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		Topic:             topic,
		GroupID:           groupID,
		MinBytes:          minBytes,
		MaxBytes:          maxBytes,
		MaxWait:           maxWait,
		CommitInterval:    0,
		StartOffset:       kafka.LastOffset,
		HeartbeatInterval: defaultKafkaHeartbeat,
		SessionTimeout:    defaultKafkaSessionExpiry,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logrus.Errorf("kafka reader: "+msg, args...)
		}),
	})

	logrus.WithFields(logrus.Fields{
		"brokers": cfg.Brokers,
		"topic":   topic,
		"group":   groupID,
	}).Info("kafka reader created")

	return reader, nil
}

// NewKafkaWriter returns a synchronous writer that hashes keys to partitions,
// so every update for one symbol lands on the same partition.
func NewKafkaWriter(cfg config.KafkaConfig, topic string) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultKafkaWriteTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           writeTimeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, nil
}

// PingKafka dials the cluster controller so a bad broker list fails at boot
// instead of on the first fetch.
func PingKafka(ctx context.Context, cfg config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}

	dialer := &kafka.Dialer{Timeout: defaultKafkaDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}

	logrus.WithField("controller", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))).Info("kafka cluster reachable")
	return nil
}
