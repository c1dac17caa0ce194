// internal/alerts/scheduler_test.go
package alerts

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/events"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	fail   int
}

func (c *capturePublisher) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return events.ErrBusClosed
	}
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestRunOncePublishesAndFlushes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.json")
	provider := newFakeProvider(map[string]float64{"A": 10})
	e := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	_, err := e.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)

	pub := &capturePublisher{}
	s := NewScheduler(e, time.Hour, pub, zaptest.NewLogger(t))

	triggers := s.RunOnce(ctx)
	require.Len(t, triggers, 1)
	require.Equal(t, 1, pub.count())
	ev := pub.events[0].(events.AlertTriggeredEvent)
	assert.Equal(t, "alice", ev.Owner)
	assert.Equal(t, events.AlertTriggered, ev.Type())

	snap, err := NewFileSnapshot(path).Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap["alice"][0].Triggered)

	assert.Empty(t, s.RunOnce(ctx))
	assert.Equal(t, 1, pub.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	provider := newFakeProvider(map[string]float64{})
	e := NewEvaluator(provider, NewFileSnapshot(filepath.Join(t.TempDir(), "a.json")), zaptest.NewLogger(t))
	s := NewScheduler(e, 5*time.Millisecond, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestUndeliveredTriggerIsRearmed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.json")
	provider := newFakeProvider(map[string]float64{"A": 10})
	e := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	_, err := e.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)

	pub := &capturePublisher{fail: 1}
	s := NewScheduler(e, time.Hour, pub, zaptest.NewLogger(t))

	require.Len(t, s.RunOnce(ctx), 1)
	assert.Zero(t, pub.count())
	assert.False(t, e.List("alice")[0].Triggered)

	snap, err := NewFileSnapshot(path).Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap["alice"], 1)
	assert.False(t, snap["alice"][0].Triggered)

	require.Len(t, s.RunOnce(ctx), 1)
	assert.Equal(t, 1, pub.count())
	assert.True(t, e.List("alice")[0].Triggered)
}

func TestRunOnceSeesAlertsAddedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.json")
	provider := newFakeProvider(map[string]float64{"A": 10, "B": 1})

	daemon := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	daemon.Load(ctx)
	pub := &capturePublisher{}
	s := NewScheduler(daemon, time.Hour, pub, zaptest.NewLogger(t))
	assert.Empty(t, s.RunOnce(ctx))

	cli := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	cli.Load(ctx)
	_, err := cli.Add(ctx, "bob", "B", 2, domain.AlertBelow, "")
	require.NoError(t, err)
	require.NoError(t, cli.Flush(ctx))

	triggers := s.RunOnce(ctx)
	require.Len(t, triggers, 1)
	assert.Equal(t, "bob", triggers[0].Owner)
	assert.Equal(t, 1, pub.count())
}
