package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShutdownClosesInReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"storage", "rpc", "bus"} {
		sh.AddFunc(name, func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(t.Context()))
	assert.Equal(t, []string{"bus", "rpc", "storage"}, order)

	// повторный вызов ничего не закрывает
	require.NoError(t, sh.Shutdown(t.Context()))
	assert.Len(t, order, 3)
}

func TestShutdownCollectsErrorsAndTimeouts(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), 50*time.Millisecond)
	boom := errors.New("boom")
	block := make(chan struct{})
	defer close(block)

	sh.AddFunc("stuck", func() error { <-block; return nil })
	sh.AddFunc("broken", func() error { return boom })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stuck: shutdown timeout")
}
