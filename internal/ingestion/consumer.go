package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/sirupsen/logrus"
)

type PriceStore interface {
	Put(update entity.PriceUpdate)
}

type PricePublisher interface {
	Publish(ctx context.Context, update entity.PriceUpdate) error
}

type Stats struct {
	Received           uint64 `json:"received"`
	Acked              uint64 `json:"acked"`
	ValidationFailures uint64 `json:"validationFailures"`
	InternalFaults     uint64 `json:"internalFaults"`
}

// Consumer turns upstream records into cache writes and broadcasts. It is safe
// for concurrent use by several lanes.
type Consumer struct {
	store     PriceStore
	publisher PricePublisher
	now       func() time.Time

	received           atomic.Uint64
	acked              atomic.Uint64
	validationFailures atomic.Uint64
	internalFaults     atomic.Uint64
}

func NewConsumer(store PriceStore, publisher PricePublisher) *Consumer {
	return &Consumer{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// Handle processes one record. Ack is returned only after the update has been
// written to the store and handed to the publisher, or when the record is
// permanently invalid.
func (c *Consumer) Handle(ctx context.Context, rec Record) Outcome {
	c.received.Add(1)

	update, err := Decode(rec.Value)
	if err != nil {
		c.validationFailures.Add(1)
		logrus.WithFields(logrus.Fields{
			"symbol":    update.Symbol,
			"partition": rec.Partition,
			"offset":    rec.Offset,
			"reason":    err.Error(),
		}).Warn("validation error")
		return c.ack()
	}

	update.ReceivedAt = c.now().UTC()

	if err := c.apply(ctx, update); err != nil {
		c.internalFaults.Add(1)
		logrus.WithError(err).WithFields(logrus.Fields{
			"symbol":    update.Symbol,
			"partition": rec.Partition,
			"offset":    rec.Offset,
		}).Error("failed to process price update")
		return NoAck
	}

	return c.ack()
}

func (c *Consumer) Stats() Stats {
	return Stats{
		Received:           c.received.Load(),
		Acked:              c.acked.Load(),
		ValidationFailures: c.validationFailures.Load(),
		InternalFaults:     c.internalFaults.Load(),
	}
}

func (c *Consumer) ack() Outcome {
	c.acked.Add(1)
	return Ack
}

func (c *Consumer) apply(ctx context.Context, update entity.PriceUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("stack", string(debug.Stack())).Debug("recovered panic in price pipeline")
			err = fmt.Errorf("%w: panic: %v", ErrInternalFault, r)
		}
	}()

	c.store.Put(update)

	if err := c.publisher.Publish(ctx, update); err != nil {
		if errors.Is(err, ErrInternalFault) {
			return err
		}
		return fmt.Errorf("%w: publish: %w", ErrInternalFault, err)
	}

	return nil
}
