package entity

import "context"

// Publisher is implemented by anything that owns a JetStream stream and must
// declare it before first use.
type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

// StreamMessage is the envelope pushed to streaming connections.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	StreamMessageTypePrice = "price"
)
