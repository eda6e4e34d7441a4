package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunShutdownPhase_RunsEveryOperation(t *testing.T) {
	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(name string, err error) operation {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			return err
		}
	}

	runShutdownPhase(context.Background(), map[string]operation{
		"consumer":    record("consumer", nil),
		"broadcaster": record("broadcaster", errors.New("already closed")),
		"http":        record("http", nil),
	})

	assert.ElementsMatch(t, []string{"consumer", "broadcaster", "http"}, ran)
}
