package window_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/pkg/window"
)

type countingListener struct {
	mu     sync.Mutex
	resets int
	width  int32
	begins []uint64
	ends   []uint64
}

func (l *countingListener) ResetWindow(_ uint32, width int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	l.width = width
}

func (l *countingListener) BeginWindow(w uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.begins = append(l.begins, w)
}

func (l *countingListener) EndWindow(w uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ends = append(l.ends, w)
}

func TestWindowGeneratorCounts(t *testing.T) {
	const interval = 200 * time.Millisecond
	l := &countingListener{}
	g := &window.Generator{
		Start:    time.Now().Add(-time.Second),
		Interval: interval,
		Listener: l,
	}

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// cancel half an interval away from any tick
	time.Sleep(2*interval + interval/2)
	elapsed := time.Since(start)
	cancel()
	require.NoError(t, <-done)

	l.mu.Lock()
	defer l.mu.Unlock()

	expectedEnds := int(elapsed / interval)
	assert.Equal(t, 2, expectedEnds)
	assert.Equal(t, 1, l.resets)
	assert.Equal(t, int32(200), l.width)
	assert.Equal(t, expectedEnds+1, len(l.begins))
	assert.Equal(t, expectedEnds, len(l.ends), "the last window must remain open")

	for i, end := range l.ends {
		assert.Equal(t, l.begins[i], end)
		assert.Equal(t, l.begins[i]+1, l.begins[i+1])
	}
}

func TestWindowGeneratorOffsetsFromGenerationBase(t *testing.T) {
	l := &countingListener{}
	start := time.Now()
	g := &window.Generator{Start: start, Interval: 100 * time.Millisecond, Listener: l}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, g.Run(ctx))

	require.Len(t, l.begins, 1)
	first := l.begins[0]
	gen := types.WindowGeneration(first)
	assert.Equal(t, types.GenerationFor(start.UnixMilli()), gen)

	at := types.WindowMillis(types.BaseMillis(gen), types.WindowOffset(first), 100)
	assert.LessOrEqual(t, at, time.Now().UnixMilli())
	assert.Greater(t, at, start.UnixMilli()-100)
}

func TestWindowGeneratorRejectsBadConfig(t *testing.T) {
	g := &window.Generator{Start: time.Now(), Interval: 0, Listener: &countingListener{}}
	assert.Error(t, g.Run(context.Background()))

	g = &window.Generator{Start: time.Now(), Interval: time.Second}
	assert.Error(t, g.Run(context.Background()))
}
