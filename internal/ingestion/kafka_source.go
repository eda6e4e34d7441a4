package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

const (
	defaultRetryMinBackoff = 100 * time.Millisecond
	defaultRetryMaxBackoff = 5 * time.Second
)

var errNotAcknowledged = errors.New("record not acknowledged")

// KafkaReader is the subset of *kafka.Reader used by KafkaSource.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSourceConfig struct {
	LaneBuffer      int
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
}

// KafkaSource fetches from a consumer group and runs one lane per partition.
// A NoAck is retried inside the lane with capped exponential backoff, so
// later records of the same partition wait and commits stay in order.
type KafkaSource struct {
	reader  KafkaReader
	handler Handler
	cfg     KafkaSourceConfig

	lanes *LaneRunner
	done  chan struct{}
	once  sync.Once
}

func NewKafkaSource(reader KafkaReader, handler Handler, cfg KafkaSourceConfig) *KafkaSource {
	if cfg.RetryMinBackoff <= 0 {
		cfg.RetryMinBackoff = defaultRetryMinBackoff
	}
	if cfg.RetryMaxBackoff < cfg.RetryMinBackoff {
		cfg.RetryMaxBackoff = defaultRetryMaxBackoff
	}

	return &KafkaSource{
		reader:  reader,
		handler: handler,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// Start launches the fetch loop and returns immediately.
func (s *KafkaSource) Start(ctx context.Context) error {
	s.lanes = NewLaneRunner(ctx, s.cfg.LaneBuffer)

	go s.fetchLoop(ctx)

	logrus.Info("kafka price consumer started")
	return nil
}

// Done is closed once the fetch loop has exited.
func (s *KafkaSource) Done() <-chan struct{} {
	return s.done
}

func (s *KafkaSource) Close() error {
	var err error
	s.once.Do(func() {
		err = s.reader.Close()
		if s.lanes != nil {
			s.lanes.Close()
		}
	})
	return err
}

func (s *KafkaSource) fetchLoop(ctx context.Context) {
	defer close(s.done)

	backoff := s.backoff()
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}

			delay, _ := backoff.Next()
			logrus.WithError(err).WithField("retry_in", delay.String()).Error("failed to fetch price record")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		backoff = s.backoff()

		rec := kafkaRecord(msg)
		err = s.lanes.Dispatch(ctx, rec.Partition, func(ctx context.Context) {
			s.process(ctx, msg, rec)
		})
		if err != nil {
			return
		}
	}
}

func (s *KafkaSource) backoff() retry.Backoff {
	return retry.WithCappedDuration(s.cfg.RetryMaxBackoff, retry.NewExponential(s.cfg.RetryMinBackoff))
}

func (s *KafkaSource) process(ctx context.Context, msg kafka.Message, rec Record) {
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		if s.handler.Handle(ctx, rec) == Ack {
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"partition": rec.Partition,
			"offset":    rec.Offset,
			"attempt":   attempt,
		}).Warn("price record not acknowledged, retrying")
		return retry.RetryableError(errNotAcknowledged)
	})
	if err != nil {
		// shutting down; the uncommitted offset is fetched again on restart
		return
	}

	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"partition": rec.Partition,
			"offset":    rec.Offset,
		}).Error("failed to commit price record")
	}
}

func kafkaRecord(msg kafka.Message) Record {
	return Record{
		Partition: fmt.Sprintf("%s/%d", msg.Topic, msg.Partition),
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Timestamp: msg.Time,
	}
}
