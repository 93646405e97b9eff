package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/events"
)

type pruner struct {
	n   int64
	err error
}

func (p *pruner) Prune(context.Context) (int64, error) { return p.n, p.err }

func testConfig() config.HealthConfig {
	return config.HealthConfig{IntervalSec: 1, CapacityWarnPercent: 80, MemoryWarnPercent: 90}
}

func TestRunOnceWarnsOnTransition(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	warnings := make(chan events.HealthPayload, 8)
	bus.Subscribe("test", func(_ context.Context, e events.Event) error {
		warnings <- e.Payload.(events.HealthPayload)
		return nil
	}, events.EventHealthWarning)

	players := 5
	m := NewManager(testConfig(), bus, Sources{
		Players:    func() int { return players },
		MaxPlayers: 10,
		Memory:     func() (float64, error) { return 40, nil },
	})

	ctx := context.Background()
	m.RunOnce(ctx)
	assert.True(t, m.Healthy())

	players = 9
	m.RunOnce(ctx)
	m.RunOnce(ctx)
	assert.False(t, m.Healthy())

	select {
	case w := <-warnings:
		assert.Equal(t, CheckPlayers, w.Check)
		assert.InDelta(t, 90.0, w.Value, 0.001)
		assert.Equal(t, 80.0, w.Limit)
	case <-time.After(2 * time.Second):
		t.Fatal("no health warning")
	}
	// The second failing run does not repeat the warning.
	select {
	case w := <-warnings:
		t.Fatalf("unexpected repeat warning %+v", w)
	case <-time.After(100 * time.Millisecond):
	}

	players = 1
	m.RunOnce(ctx)
	assert.True(t, m.Healthy())
}

func TestResultsCoverEveryCheck(t *testing.T) {
	bans := &pruner{n: 3}
	m := NewManager(testConfig(), nil, Sources{
		Players:        func() int { return 0 },
		MaxPlayers:     20,
		Connections:    func() int { return 95 },
		MaxConnections: 100,
		Memory:         func() (float64, error) { return 95, nil },
		Bans:           bans,
	})
	m.RunOnce(context.Background())

	results := m.Results()
	require.Len(t, results, 4)
	names := []string{results[0].Check, results[1].Check, results[2].Check, results[3].Check}
	assert.Equal(t, []string{CheckBans, CheckConnections, CheckMemory, CheckPlayers}, names)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Check] = r
	}
	assert.True(t, byName[CheckBans].OK)
	assert.Equal(t, 3.0, byName[CheckBans].Value)
	assert.False(t, byName[CheckConnections].OK)
	assert.False(t, byName[CheckMemory].OK)
	assert.True(t, byName[CheckPlayers].OK)
}

func TestFailingSourcesAreSkippedOrReported(t *testing.T) {
	m := NewManager(testConfig(), nil, Sources{
		Memory: func() (float64, error) { return 0, errors.New("unavailable") },
		Bans:   &pruner{err: errors.New("disk I/O error")},
	})
	m.RunOnce(context.Background())

	results := m.Results()
	require.Len(t, results, 1)
	assert.Equal(t, CheckBans, results[0].Check)
	assert.False(t, results[0].OK)
}

func TestStartStopsWithContext(t *testing.T) {
	m := NewManager(testConfig(), nil, Sources{Memory: func() (float64, error) { return 1, nil }})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(m.Results()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
}
