package broadcaster

import (
	"context"
	"time"

	"github.com/krobus00/price-stream-service/internal/entity"
)

// Conn is a live client connection owned by a transport.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Subscription is an admitted connection. Its context is cancelled when the
// connection is removed, which aborts only that connection's pending write.
type Subscription struct {
	conn      Conn
	principal entity.Principal
	createdAt time.Time
	state     *StateMachine

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Subscription) ID() string {
	return s.conn.ID()
}

func (s *Subscription) Principal() entity.Principal {
	return s.principal
}

func (s *Subscription) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Subscription) State() ConnState {
	return s.state.Current()
}

// Done is closed when the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.ctx.Done()
}
