package ingestion

import (
	"context"
	"errors"
	"sync"
)

var ErrLaneRunnerClosed = errors.New("lane runner closed")

const defaultLaneBuffer = 256

// LaneRunner executes jobs sharing a key strictly in submission order, while
// jobs with different keys run concurrently. A key is a partition for Kafka
// and a subject for JetStream.
type LaneRunner struct {
	buffer int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	lanes map[string]chan func(context.Context)
}

func NewLaneRunner(ctx context.Context, buffer int) *LaneRunner {
	if buffer <= 0 {
		buffer = defaultLaneBuffer
	}

	ctx, cancel := context.WithCancel(ctx)
	return &LaneRunner{
		buffer: buffer,
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]chan func(context.Context)),
	}
}

// Dispatch queues job on the lane for key, blocking while that lane's buffer
// is full.
func (r *LaneRunner) Dispatch(ctx context.Context, key string, job func(ctx context.Context)) error {
	lane, err := r.lane(key)
	if err != nil {
		return err
	}

	select {
	case lane <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrLaneRunnerClosed
	}
}

func (r *LaneRunner) Lanes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.lanes)
}

// Close stops every lane and waits for in-flight jobs to return. Queued jobs
// that have not started are dropped.
func (r *LaneRunner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *LaneRunner) lane(key string) (chan func(context.Context), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return nil, ErrLaneRunnerClosed
	}

	lane, ok := r.lanes[key]
	if ok {
		return lane, nil
	}

	lane = make(chan func(context.Context), r.buffer)
	r.lanes[key] = lane

	r.wg.Add(1)
	go r.run(lane)

	return lane, nil
}

func (r *LaneRunner) run(lane chan func(context.Context)) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case job := <-lane:
			if r.ctx.Err() != nil {
				return
			}
			job(r.ctx)
		}
	}
}
