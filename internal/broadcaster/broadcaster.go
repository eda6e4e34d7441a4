package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultMaxWorkers   = 64
	perfLogEvery        = 100
)

var (
	ErrDelivery         = errors.New("delivery failed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyAdmitted  = errors.New("connection already admitted")
)

type Config struct {
	WriteTimeout time.Duration
	MaxWorkers   int
}

type Stats struct {
	AdmittedConnections int                  `json:"admittedConnections"`
	TotalUpdates        uint64               `json:"totalUpdates"`
	TotalMessagesSent   uint64               `json:"totalMessagesSent"`
	DeliveryFailures    uint64               `json:"deliveryFailures"`
	UpdatesBySymbol     map[string]uint64    `json:"updatesBySymbol"`
	LastUpdateBySymbol  map[string]time.Time `json:"lastUpdateBySymbol"`
}

type symbolStats struct {
	updates    uint64
	lastUpdate time.Time
}

// Broadcaster fans every published update out to all admitted connections.
// A slow or broken connection costs at most one write timeout and is removed;
// it never holds up the others or the caller.
type Broadcaster struct {
	writeTimeout time.Duration
	maxWorkers   int
	now          func() time.Time

	mu   sync.RWMutex
	subs map[string]*Subscription

	totalUpdates     atomic.Uint64
	totalSent        atomic.Uint64
	deliveryFailures atomic.Uint64

	symbolMu sync.Mutex
	symbols  map[string]*symbolStats
}

func New(cfg Config) *Broadcaster {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}

	return &Broadcaster{
		writeTimeout: cfg.WriteTimeout,
		maxWorkers:   cfg.MaxWorkers,
		now:          time.Now,
		subs:         make(map[string]*Subscription),
		symbols:      make(map[string]*symbolStats),
	}
}

// Admit registers an authenticated connection. state must currently be
// Authenticating; it moves to Admitted before the connection becomes visible
// to Publish. A nil state starts a fresh machine at Authenticating.
func (b *Broadcaster) Admit(conn Conn, principal entity.Principal, state *StateMachine) (*Subscription, error) {
	if state == nil {
		state = NewStateMachine()
		if err := state.Transition(StateAuthenticating); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[conn.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAdmitted, conn.ID())
	}

	if err := state.Transition(StateAdmitted); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		conn:      conn,
		principal: principal,
		createdAt: b.now().UTC(),
		state:     state,
		ctx:       ctx,
		cancel:    cancel,
	}
	b.subs[conn.ID()] = sub

	logrus.WithFields(logrus.Fields{
		"conn_id": conn.ID(),
		"user_id": principal.UserID,
		"total":   len(b.subs),
	}).Info("connection admitted")

	return sub, nil
}

// Remove detaches a connection, cancels its pending write and closes it.
// Removing an unknown or already removed connection is a no-op.
func (b *Broadcaster) Remove(connID string) {
	b.mu.Lock()
	sub, ok := b.subs[connID]
	if ok {
		delete(b.subs, connID)
	}
	total := len(b.subs)
	b.mu.Unlock()

	if !ok {
		return
	}

	sub.cancel()
	_ = sub.state.Transition(StateDisconnected)
	if err := sub.conn.Close(); err != nil {
		logrus.WithError(err).WithField("conn_id", connID).Debug("close connection")
	}

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": sub.principal.UserID,
		"total":   total,
	}).Info("connection removed")
}

// Close removes every admitted connection. Hijacked websocket connections are
// not tracked by the HTTP server, so this is how they get closed on shutdown.
func (b *Broadcaster) Close() {
	for _, sub := range b.snapshot() {
		b.Remove(sub.ID())
	}
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Publish delivers update to every connection admitted at the time of the
// call. Per-connection failures are handled internally; the only error
// returned is a payload encoding failure. Writes are bounded by the write
// timeout and the connection's lifetime, never by ctx. Once ctx is done the
// deliveries not yet started are skipped and nobody is removed for it.
func (b *Broadcaster) Publish(ctx context.Context, update entity.PriceUpdate) error {
	payload, err := json.Marshal(entity.StreamMessage{
		Type: entity.StreamMessageTypePrice,
		Data: update,
	})
	if err != nil {
		return fmt.Errorf("marshal price update: %w", err)
	}

	subs := b.snapshot()

	eg := errgroup.Group{}
	eg.SetLimit(b.maxWorkers)

	skipped := 0
	for i, sub := range subs {
		if ctx.Err() != nil {
			skipped += len(subs) - i
			break
		}
		eg.Go(func() error {
			b.deliver(sub, payload)
			return nil
		})
	}
	_ = eg.Wait()

	if skipped > 0 {
		logrus.WithError(ctx.Err()).WithFields(logrus.Fields{
			"symbol":  update.Symbol,
			"skipped": skipped,
		}).Warn("publish aborted before every connection was written")
	}

	b.record(update.Symbol, len(subs)-skipped)

	return nil
}

func (b *Broadcaster) Stats() Stats {
	stats := Stats{
		AdmittedConnections: b.Count(),
		TotalUpdates:        b.totalUpdates.Load(),
		TotalMessagesSent:   b.totalSent.Load(),
		DeliveryFailures:    b.deliveryFailures.Load(),
	}

	b.symbolMu.Lock()
	defer b.symbolMu.Unlock()

	stats.UpdatesBySymbol = make(map[string]uint64, len(b.symbols))
	stats.LastUpdateBySymbol = make(map[string]time.Time, len(b.symbols))
	for symbol, s := range b.symbols {
		stats.UpdatesBySymbol[symbol] = s.updates
		stats.LastUpdateBySymbol[symbol] = s.lastUpdate
	}

	return stats
}

func (b *Broadcaster) snapshot() []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (b *Broadcaster) deliver(sub *Subscription, payload []byte) {
	if sub.State() != StateAdmitted {
		return
	}

	// removal of this subscription aborts the write
	writeCtx, cancel := context.WithTimeout(sub.ctx, b.writeTimeout)
	defer cancel()

	err := sub.conn.Send(writeCtx, payload)
	if err == nil {
		b.totalSent.Add(1)
		return
	}
	if sub.ctx.Err() != nil {
		// already removed elsewhere
		return
	}

	b.deliveryFailures.Add(1)
	logrus.WithError(fmt.Errorf("%w: %w", ErrDelivery, err)).WithFields(logrus.Fields{
		"conn_id": sub.ID(),
		"user_id": sub.principal.UserID,
	}).Warn("removing connection after failed write")

	b.Remove(sub.ID())
}

func (b *Broadcaster) record(symbol string, recipients int) {
	total := b.totalUpdates.Add(1)

	b.symbolMu.Lock()
	s, ok := b.symbols[symbol]
	if !ok {
		s = &symbolStats{}
		b.symbols[symbol] = s
	}
	s.updates++
	s.lastUpdate = b.now().UTC()
	tracked := len(b.symbols)
	b.symbolMu.Unlock()

	if total%perfLogEvery == 0 {
		logrus.WithFields(logrus.Fields{
			"total_updates":       total,
			"total_messages_sent": b.totalSent.Load(),
			"delivery_failures":   b.deliveryFailures.Load(),
			"recipients":          recipients,
			"tracked_symbols":     tracked,
		}).Info("broadcast performance")
	}
}
