package group

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/downfa11-org/bufferserver/pkg/buffer"
	"github.com/downfa11-org/bufferserver/pkg/consumer"
	"github.com/downfa11-org/bufferserver/pkg/metrics"
	"github.com/downfa11-org/bufferserver/pkg/policy"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

// Group distributes the records of one upstream to the consumers of one
// consumer group. A single mutex covers the cursor, the consumer set and the
// partition set, so drains and membership changes never interleave: a
// consumer added while a drain runs waits for it and receives records from
// the next drain on.
type Group struct {
	upstream string
	name     string
	policy   policy.Policy

	mu         sync.Mutex
	cursor     *buffer.Cursor
	consumers  []*consumer.Consumer
	members    map[consumer.Channel]*consumer.Consumer
	partitions map[string]struct{}

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// New creates a group reading from src, which must be a cursor obtained
// from a buffer.DataList.
func New(upstream, name string, src buffer.RecordSource, p policy.Policy) (*Group, error) {
	cursor, err := buffer.AsCursor(src)
	if err != nil {
		return nil, fmt.Errorf("group %s/%s: %w", upstream, name, err)
	}
	if p == nil {
		p = policy.GiveAll
	}
	return &Group{
		upstream:   upstream,
		name:       name,
		policy:     p,
		cursor:     cursor,
		members:    make(map[consumer.Channel]*consumer.Consumer),
		partitions: make(map[string]struct{}),
		notifyCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

func (g *Group) Upstream() string { return g.upstream }

func (g *Group) Name() string { return g.name }

// AddConsumer adds c unless a consumer on the same channel is already a
// member. It reports whether c was added.
func (g *Group) AddConsumer(c *consumer.Consumer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[c.Channel()]; ok {
		return false
	}
	g.members[c.Channel()] = c
	g.consumers = append(g.consumers, c)
	metrics.ActiveConsumers.Inc()
	return true
}

// RemoveConsumer removes the consumer attached to ch and returns it.
func (g *Group) RemoveConsumer(ch consumer.Channel) *consumer.Consumer {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.members[ch]
	if !ok {
		return nil
	}
	delete(g.members, ch)
	for i, m := range g.consumers {
		if m == c {
			g.consumers = append(g.consumers[:i:i], g.consumers[i+1:]...)
			break
		}
	}
	metrics.ActiveConsumers.Dec()
	return c
}

// Member returns the consumer attached to ch, if any.
func (g *Group) Member(ch consumer.Channel) *consumer.Consumer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.members[ch]
}

func (g *Group) AddPartition(partition []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.partitions[string(partition)] = struct{}{}
}

func (g *Group) RemovePartition(partition []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.partitions, string(partition))
}

// Partitions returns the partition keys of interest, sorted.
func (g *Group) Partitions() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.partitions))
	for k := range g.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}

func (g *Group) ConsumerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.consumers)
}

// Consumers returns a snapshot of the members in attach order.
func (g *Group) Consumers() []*consumer.Consumer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*consumer.Consumer(nil), g.consumers...)
}

// DataAdded drains the cursor, delivering every available record. The
// partition argument is informational; the drain covers all new records.
func (g *Group) DataAdded(partition []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drainLocked()
}

func (g *Group) drainLocked() {
	start := time.Now()
	n := 0

	if len(g.partitions) == 0 {
		for g.cursor.Next() {
			n++
			r := g.cursor.Current()
			if r.Kind().IsData() {
				g.distributeLocked(r)
			} else {
				g.broadcastLocked(r)
			}
		}
	} else {
		for g.cursor.Next() {
			n++
			r := g.cursor.Current()
			switch r.Kind() {
			case types.KindPartitionedData:
				if _, ok := g.partitions[string(r.Partition())]; ok {
					g.distributeLocked(r)
				} else {
					metrics.RecordsFiltered.WithLabelValues("partition").Inc()
				}
			case types.KindSimpleData:
				metrics.RecordsFiltered.WithLabelValues("simple_data").Inc()
			default:
				g.broadcastLocked(r)
			}
		}
	}

	metrics.ObserveDrain(n, time.Since(start).Seconds())
}

func (g *Group) distributeLocked(r types.Record) {
	metrics.RecordsDistributed.WithLabelValues(r.Kind().String()).Inc()
	if len(g.consumers) == 0 {
		return
	}
	g.policy.Distribute(g.consumers, r)
}

func (g *Group) broadcastLocked(r types.Record) {
	metrics.RecordsDistributed.WithLabelValues(r.Kind().String()).Inc()
	policy.GiveAll.Distribute(g.consumers, r)
}

// CatchUp fast-forwards the cursor to the first window that begins at or
// after targetMillis. Every reset window passed on the way and that first
// begin window are broadcast; nothing else is delivered. Ordinary
// distribution then resumes from the following record.
func (g *Group) CatchUp(targetMillis int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	var baseMillis int64
	var width int32
	skipped := 0

fastForward:
	for g.cursor.Next() {
		r := g.cursor.Current()
		switch r.Kind() {
		case types.KindResetWindow:
			baseMillis = types.BaseMillis(r.Generation())
			width = r.Width()
			if width <= 0 {
				util.Warn("⚠️ group %s/%s: reset window interval set to non positive value = %d", g.upstream, g.name, width)
			}
			g.broadcastLocked(r)

		case types.KindBeginWindow:
			if types.WindowMillis(baseMillis, types.WindowOffset(r.WindowID()), width) >= targetMillis {
				g.broadcastLocked(r)
				break fastForward
			}
			skipped++

		default:
			skipped++
		}
	}

	metrics.RecordsFiltered.WithLabelValues("catchup").Add(float64(skipped))
	metrics.CatchUpDuration.Observe(time.Since(start).Seconds())
	util.Debug("Group %s/%s caught up to %d, skipped %d records", g.upstream, g.name, targetMillis, skipped)

	if g.cursor.HasNext() {
		g.drainLocked()
	}
}

// Notify schedules a drain on the group worker. Signals coalesce: one
// pending drain covers every record appended before it runs.
func (g *Group) Notify() {
	select {
	case g.notifyCh <- struct{}{}:
	default:
	}
}

// Start launches the group worker. It first catches up to targetMillis, or
// plainly drains when targetMillis is not positive, then drains on Notify.
func (g *Group) Start(targetMillis int64) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	metrics.ActiveGroups.Inc()
	go g.run(targetMillis)
}

func (g *Group) run(targetMillis int64) {
	defer close(g.doneCh)

	if targetMillis > 0 {
		g.CatchUp(targetMillis)
	} else {
		g.DataAdded(nil)
	}

	for {
		select {
		case <-g.stopCh:
			return
		case <-g.notifyCh:
			g.DataAdded(nil)
		}
	}
}

// Stop ends the worker and closes every remaining consumer.
func (g *Group) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)

		g.mu.Lock()
		started := g.started
		consumers := g.consumers
		g.consumers = nil
		g.members = make(map[consumer.Channel]*consumer.Consumer)
		g.mu.Unlock()

		if started {
			<-g.doneCh
			metrics.ActiveGroups.Dec()
		}
		for _, c := range consumers {
			c.Close()
			metrics.ActiveConsumers.Dec()
		}
	})
}
