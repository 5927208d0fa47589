// README: CLI wiring tests for queue backend selection.
package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivebid/internal/config"
)

func memoryApp() *app {
	return &app{
		cfg: config.Config{Queue: config.Queue{Backend: "memory", Name: "bids"}},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSharedQueueRefusesMemoryBackend(t *testing.T) {
	a := memoryApp()
	defer a.close()

	for _, command := range []string{"worker", "dlq"} {
		q, err := a.sharedQueue(context.Background(), command)
		require.Error(t, err)
		assert.Nil(t, q)
		assert.Contains(t, err.Error(), command)
		assert.Contains(t, err.Error(), "serve --with-worker")
	}
}

func TestQueueMemoryBackendForServe(t *testing.T) {
	a := memoryApp()
	defer a.close()

	q, err := a.queue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Nil(t, a.redis)
}
