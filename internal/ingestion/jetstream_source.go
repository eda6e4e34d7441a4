package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/krobus00/price-stream-service/internal/infrastructure"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultNakDelay = time.Second
	defaultAckWait  = 30 * time.Second
)

type JetStreamSourceConfig struct {
	Subject    string
	QueueGroup string
	NakDelay   time.Duration
	LaneBuffer int
	// HandleTimeout bounds one message inside its lane. Zero disables it.
	HandleTimeout time.Duration
}

// JetStreamSource consumes the price stream through a durable queue
// subscription. Every subject is one lane; the stream sequence stands in for
// the offset.
type JetStreamSource struct {
	js      nats.JetStreamContext
	handler Handler
	cfg     JetStreamSourceConfig

	lanes *LaneRunner
	sub   *nats.Subscription
}

func NewJetStreamSource(js nats.JetStreamContext, handler Handler, cfg JetStreamSourceConfig) *JetStreamSource {
	if cfg.Subject == "" {
		cfg.Subject = constant.PriceStreamSubjectAll
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = constant.PriceQueueGroup
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = defaultNakDelay
	}

	return &JetStreamSource{
		js:      js,
		handler: handler,
		cfg:     cfg,
	}
}

func (s *JetStreamSource) JetstreamEventInit(ctx context.Context) error {
	return infrastructure.EnsureStream(ctx, s.js, infrastructure.PriceStreamConfig())
}

// Start ensures the stream exists and subscribes. Only failures here are
// fatal to the process; later delivery problems are retried by the server.
func (s *JetStreamSource) Start(ctx context.Context) error {
	if err := s.JetstreamEventInit(ctx); err != nil {
		return fmt.Errorf("init price stream: %w", err)
	}

	s.lanes = NewLaneRunner(ctx, s.cfg.LaneBuffer)

	sub, err := s.js.QueueSubscribe(
		s.cfg.Subject,
		s.cfg.QueueGroup,
		func(msg *nats.Msg) {
			s.dispatch(ctx, msg)
		},
		nats.ManualAck(),
		nats.AckWait(defaultAckWait),
		nats.Durable(s.cfg.QueueGroup),
	)
	if err != nil {
		s.lanes.Close()
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub

	logrus.WithFields(logrus.Fields{
		"subject": s.cfg.Subject,
		"group":   s.cfg.QueueGroup,
	}).Info("jetstream price consumer started")

	return nil
}

func (s *JetStreamSource) Close() error {
	var err error
	if s.sub != nil {
		err = s.sub.Drain()
	}
	if s.lanes != nil {
		s.lanes.Close()
	}
	return err
}

// jetStreamAcker is the settlement half of *nats.Msg.
type jetStreamAcker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

func (s *JetStreamSource) dispatch(ctx context.Context, msg *nats.Msg) {
	s.route(ctx, jetStreamRecord(msg), msg)
}

func (s *JetStreamSource) route(ctx context.Context, rec Record, acker jetStreamAcker) {
	err := s.lanes.Dispatch(ctx, rec.Partition, func(ctx context.Context) {
		if s.cfg.HandleTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.HandleTimeout)
			defer cancel()
		}
		s.settle(acker, rec, s.handler.Handle(ctx, rec))
	})
	if err != nil {
		// left unacked; the server redelivers after the ack wait
		logrus.WithError(err).WithField("subject", rec.Partition).Warn("price message not dispatched")
	}
}

func (s *JetStreamSource) settle(acker jetStreamAcker, rec Record, outcome Outcome) {
	var err error
	switch outcome {
	case Ack:
		err = acker.Ack()
	default:
		err = acker.NakWithDelay(s.cfg.NakDelay)
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"partition": rec.Partition,
			"offset":    rec.Offset,
			"outcome":   outcome.String(),
		}).Error("failed to settle price message")
	}
}

func jetStreamRecord(msg *nats.Msg) Record {
	rec := Record{
		Partition: msg.Subject,
		Key:       msg.Subject,
		Value:     msg.Data,
	}

	if meta, err := msg.Metadata(); err == nil {
		rec.Offset = int64(meta.Sequence.Stream)
		rec.Timestamp = meta.Timestamp
	}

	return rec
}
