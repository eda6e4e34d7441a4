package pricefeed

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/krobus00/price-stream-service/internal/infrastructure"
	"github.com/krobus00/price-stream-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
)

// Sink delivers a quote onto the upstream stream the broadcaster consumes.
type Sink interface {
	Publish(ctx context.Context, update entity.PriceUpdate) error
}

type JetStreamSink struct {
	js nats.JetStreamContext
}

func NewJetStreamSink(js nats.JetStreamContext) *JetStreamSink {
	return &JetStreamSink{js: js}
}

func (s *JetStreamSink) JetstreamEventInit(ctx context.Context) error {
	return infrastructure.EnsureStream(ctx, s.js, infrastructure.PriceStreamConfig())
}

func (s *JetStreamSink) Publish(ctx context.Context, update entity.PriceUpdate) error {
	return util.PublishEvent(ctx, s.js, constant.GetPriceStreamSubject(update.Symbol), update)
}

type KafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink keys every message by symbol so a symbol always maps to one
// partition and keeps its order.
type KafkaSink struct {
	writer KafkaMessageWriter
}

func NewKafkaSink(writer KafkaMessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Publish(ctx context.Context, update entity.PriceUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal price update: %w", err)
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.Symbol),
		Value: payload,
	})
}
