package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessWithTimeout(t *testing.T) {
	err := ProcessWithTimeout(context.Background(), time.Second, "ok", func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = ProcessWithTimeout(context.Background(), time.Second, "fails", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = ProcessWithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
