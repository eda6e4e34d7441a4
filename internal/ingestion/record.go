package ingestion

import "time"

// Record is one upstream message as seen by the consumer, independent of the
// stream client that delivered it.
type Record struct {
	Partition string
	Offset    int64
	Key       string
	Value     []byte
	Timestamp time.Time
}

// Outcome tells the source adapter whether the record's position may be
// committed.
type Outcome int

const (
	// NoAck leaves the position uncommitted so the record is delivered again.
	NoAck Outcome = iota
	// Ack commits the position. Used for processed and for permanently
	// invalid records alike.
	Ack
)

func (o Outcome) String() string {
	if o == Ack {
		return "ack"
	}
	return "no_ack"
}
