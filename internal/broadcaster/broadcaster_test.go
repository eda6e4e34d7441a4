package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id      string
	sendErr error
	block   bool
	// strict makes Send fail on a context that is already done, like a
	// websocket write with an expired deadline.
	strict bool

	mu       sync.Mutex
	payloads [][]byte
	closed   atomic.Bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.strict && ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func update(symbol, price string) entity.PriceUpdate {
	return entity.PriceUpdate{
		Symbol: symbol,
		Price:  decimal.NewNullDecimal(decimal.RequireFromString(price)),
	}
}

func admit(t *testing.T, b *Broadcaster, conn Conn) *Subscription {
	t.Helper()
	sub, err := b.Admit(conn, entity.Principal{UserID: "user-" + conn.ID()}, nil)
	require.NoError(t, err)
	return sub
}

func TestBroadcaster_PublishReachesEveryAdmittedConnection(t *testing.T) {
	b := New(Config{WriteTimeout: time.Second})

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("c%d", i)}
		admit(t, b, conns[i])
	}

	require.NoError(t, b.Publish(context.Background(), update("AAPL", "150.25")))

	for _, conn := range conns {
		got := conn.received()
		require.Len(t, got, 1)

		var msg struct {
			Type string             `json:"type"`
			Data entity.PriceUpdate `json:"data"`
		}
		require.NoError(t, json.Unmarshal(got[0], &msg))
		assert.Equal(t, entity.StreamMessageTypePrice, msg.Type)
		assert.Equal(t, "AAPL", msg.Data.Symbol)
		assert.Equal(t, "150.25", msg.Data.Price.Decimal.String())
	}

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.TotalUpdates)
	assert.Equal(t, uint64(5), stats.TotalMessagesSent)
	assert.Equal(t, uint64(1), stats.UpdatesBySymbol["AAPL"])
}

func TestBroadcaster_FailingConnectionIsRemoved(t *testing.T) {
	b := New(Config{WriteTimeout: time.Second})

	healthy := []*fakeConn{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, conn := range healthy {
		admit(t, b, conn)
	}
	broken := &fakeConn{id: "broken", sendErr: errors.New("broken pipe")}
	admit(t, b, broken)
	require.Equal(t, 4, b.Count())

	require.NoError(t, b.Publish(context.Background(), update("MSFT", "410")))

	for _, conn := range healthy {
		assert.Len(t, conn.received(), 1)
	}
	assert.True(t, broken.closed.Load())
	assert.Equal(t, 3, b.Count())
	assert.Equal(t, uint64(1), b.Stats().DeliveryFailures)

	require.NoError(t, b.Publish(context.Background(), update("MSFT", "411")))
	for _, conn := range healthy {
		assert.Len(t, conn.received(), 2)
	}
	assert.Equal(t, uint64(1), b.Stats().DeliveryFailures)
}

func TestBroadcaster_SlowConnectionTimesOut(t *testing.T) {
	b := New(Config{WriteTimeout: 30 * time.Millisecond})

	fast := &fakeConn{id: "fast"}
	slow := &fakeConn{id: "slow", block: true}
	admit(t, b, fast)
	admit(t, b, slow)

	start := time.Now()
	require.NoError(t, b.Publish(context.Background(), update("TSLA", "200")))

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fast.received(), 1)
	assert.True(t, slow.closed.Load())
	assert.Equal(t, 1, b.Count())
}

func TestBroadcaster_CancelledPublishKeepsHealthyConnections(t *testing.T) {
	b := New(Config{WriteTimeout: time.Second})

	conns := []*fakeConn{{id: "a", strict: true}, {id: "b", strict: true}, {id: "c", strict: true}}
	for _, conn := range conns {
		admit(t, b, conn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Publish(ctx, update("AAPL", "1")))

	assert.Equal(t, 3, b.Count())
	assert.Equal(t, uint64(0), b.Stats().DeliveryFailures)
	for _, conn := range conns {
		assert.False(t, conn.closed.Load())
	}

	require.NoError(t, b.Publish(context.Background(), update("AAPL", "2")))
	for _, conn := range conns {
		assert.Len(t, conn.received(), 1)
	}
}

func TestBroadcaster_PublishDeadlineDoesNotFailQueuedWrites(t *testing.T) {
	b := New(Config{WriteTimeout: 200 * time.Millisecond, MaxWorkers: 1})

	slow := &fakeConn{id: "slow", block: true}
	admit(t, b, slow)
	healthy := make([]*fakeConn, 4)
	for i := range healthy {
		healthy[i] = &fakeConn{id: fmt.Sprintf("h%d", i), strict: true}
		admit(t, b, healthy[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, b.Publish(ctx, update("AAPL", "1")))

	for _, conn := range healthy {
		assert.False(t, conn.closed.Load(), conn.id)
	}
	assert.GreaterOrEqual(t, b.Count(), 4)
	assert.LessOrEqual(t, b.Stats().DeliveryFailures, uint64(1))

	b.Remove(slow.ID())
	require.NoError(t, b.Publish(context.Background(), update("AAPL", "2")))
	for _, conn := range healthy {
		assert.NotEmpty(t, conn.received(), conn.id)
	}
	assert.Equal(t, 4, b.Count())
}

func TestBroadcaster_RemoveCancelsPendingWrite(t *testing.T) {
	b := New(Config{WriteTimeout: time.Minute})

	slow := &fakeConn{id: "slow", block: true}
	sub := admit(t, b, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Publish(context.Background(), update("AAPL", "1"))
	}()

	time.Sleep(20 * time.Millisecond)
	b.Remove(slow.ID())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish still waiting on a removed connection")
	}

	assert.Equal(t, StateDisconnected, sub.State())
	assert.Equal(t, 0, b.Count())
	<-sub.Done()
}

func TestBroadcaster_DisconnectStopsDelivery(t *testing.T) {
	b := New(Config{})

	a := &fakeConn{id: "a"}
	c := &fakeConn{id: "c"}
	admit(t, b, a)
	admit(t, b, c)

	b.Remove("a")
	b.Remove("a")
	assert.Equal(t, 1, b.Count())

	require.NoError(t, b.Publish(context.Background(), update("AAPL", "1")))
	assert.Empty(t, a.received())
	assert.Len(t, c.received(), 1)
}

func TestBroadcaster_AdmitRules(t *testing.T) {
	b := New(Config{})

	conn := &fakeConn{id: "dup"}
	admit(t, b, conn)

	_, err := b.Admit(conn, entity.Principal{UserID: "x"}, nil)
	assert.ErrorIs(t, err, ErrAlreadyAdmitted)

	state := NewStateMachine()
	_, err = b.Admit(&fakeConn{id: "early"}, entity.Principal{UserID: "x"}, state)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StateConnecting, state.Current())
	assert.Equal(t, 1, b.Count())
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := New(Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), update("AAPL", "1")))
	}
	require.NoError(t, b.Publish(context.Background(), update("MSFT", "1")))

	stats := b.Stats()
	assert.Equal(t, uint64(4), stats.TotalUpdates)
	assert.Equal(t, uint64(0), stats.TotalMessagesSent)
	assert.Equal(t, map[string]uint64{"AAPL": 3, "MSFT": 1}, stats.UpdatesBySymbol)
	assert.Contains(t, stats.LastUpdateBySymbol, "MSFT")
}

func TestBroadcaster_ConcurrentAdmitRemovePublish(t *testing.T) {
	b := New(Config{WriteTimeout: 50 * time.Millisecond, MaxWorkers: 4})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: fmt.Sprintf("c%d", i)}
			if _, err := b.Admit(conn, entity.Principal{UserID: "u"}, nil); err == nil && i%2 == 0 {
				b.Remove(conn.ID())
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = b.Publish(context.Background(), update("AAPL", "1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, b.Count())
	assert.Equal(t, uint64(50), b.Stats().TotalUpdates)
}

func TestBroadcaster_CloseRemovesEveryone(t *testing.T) {
	b := New(Config{})

	conns := []*fakeConn{{id: "a"}, {id: "b"}}
	for _, conn := range conns {
		admit(t, b, conn)
	}

	b.Close()

	assert.Equal(t, 0, b.Count())
	for _, conn := range conns {
		assert.True(t, conn.closed.Load())
	}
}
