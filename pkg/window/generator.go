// Package window generates reset and begin/end window boundaries at a fixed
// wall-clock interval.
package window

import (
	"context"
	"errors"
	"time"

	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

// Listener receives window boundaries in order.
type Listener interface {
	ResetWindow(generation uint32, width int32)
	BeginWindow(window uint64)
	EndWindow(window uint64)
}

// Generator ticks every Interval. Window offsets count intervals elapsed since
// the base of the generation that contains Start.
type Generator struct {
	Start    time.Time
	Interval time.Duration
	Listener Listener
}

// Run emits a reset window and the first begin window, then closes the
// current window and opens the next one on every tick until ctx is done.
// The last window is left open.
func (g *Generator) Run(ctx context.Context) error {
	if g.Listener == nil {
		return errors.New("window generator has no listener")
	}
	width := g.Interval.Milliseconds()
	if width <= 0 || width > int64(^uint32(0)>>1) {
		return errors.New("window interval must be between 1ms and 2^31-1ms")
	}

	now := time.Now().UnixMilli()
	generation := types.GenerationFor(g.Start.UnixMilli())
	if (now-types.BaseMillis(generation))/width > int64(^uint32(0)) {
		generation = types.GenerationFor(now)
	}
	base := types.BaseMillis(generation)
	offset := uint32(0)
	if elapsed := now - base; elapsed > 0 {
		offset = uint32(elapsed / width)
	}

	g.Listener.ResetWindow(generation, int32(width))
	current := types.PackWindowID(generation, offset)
	g.Listener.BeginWindow(current)
	util.Debug("Window generator started at %s with %dms interval", types.FormatWindowID(current), width)

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Listener.EndWindow(current)
			current++
			g.Listener.BeginWindow(current)
		}
	}
}
