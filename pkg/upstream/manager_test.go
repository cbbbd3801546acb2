package upstream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/bufferserver/pkg/consumer"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

type recordChannel struct {
	mu     sync.Mutex
	frames []types.Record
	closed bool
	fail   error
}

func (c *recordChannel) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	r, err := util.DecodeRecord(data)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, r)
	return nil
}

func (c *recordChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordChannel) summary() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, r := range c.frames {
		switch r.Kind() {
		case types.KindBeginWindow, types.KindEndWindow:
			out[i] = r.Kind().String() + ":" + types.FormatWindowID(r.WindowID())
		case types.KindResetWindow:
			out[i] = r.Kind().String()
		default:
			out[i] = string(r.Payload())
		}
	}
	return out
}

func (c *recordChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func publish(t *testing.T, m *Manager, upstream string, raw []byte) {
	t.Helper()
	require.NoError(t, m.Publish(upstream, raw))
}

func publishData(t *testing.T, m *Manager, upstream, partition, payload string) {
	t.Helper()
	raw, err := util.EncodePartitionedData([]byte(partition), []byte(payload))
	require.NoError(t, err)
	publish(t, m, upstream, raw)
}

func TestSubscribeReceivesPublishedRecords(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	ch := &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g1"}, ch)
	require.NoError(t, err)

	publish(t, m, "orders", util.EncodeSimpleData([]byte("a")))
	publishData(t, m, "orders", "eu", "b")

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"a", "b"}, ch.summary())
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeFiltersPartitions(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	ch := &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{
		Upstream:   "orders",
		Group:      "eu-only",
		Partitions: [][]byte{[]byte("eu")},
	}, ch)
	require.NoError(t, err)

	publishData(t, m, "orders", "us", "skip")
	publishData(t, m, "orders", "eu", "keep")
	publish(t, m, "orders", util.EncodeBeginWindow(types.PackWindowID(0, 1)))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"keep", "BEGIN_WINDOW:0:1"}, ch.summary())
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeCatchesUpToStart(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	publish(t, m, "clicks", util.EncodeResetWindow(0, 200))
	for i := uint32(1); i <= 10; i++ {
		publish(t, m, "clicks", util.EncodeSimpleData([]byte("stale")))
		publish(t, m, "clicks", util.EncodeBeginWindow(types.PackWindowID(0, i)))
	}

	ch := &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "clicks", Group: "late", StartMillis: 1100}, ch)
	require.NoError(t, err)

	want := []string{"RESET_WINDOW", "BEGIN_WINDOW:0:6", "stale", "BEGIN_WINDOW:0:7", "stale",
		"BEGIN_WINDOW:0:8", "stale", "BEGIN_WINDOW:0:9", "stale", "BEGIN_WINDOW:0:10"}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, ch.summary())
	}, time.Second, 5*time.Millisecond)
}

func TestSecondSubscriberJoinsExistingGroup(t *testing.T) {
	m := NewManager(Options{DefaultPolicy: "roundrobin"})
	defer m.Stop()

	a, b := &recordChannel{}, &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, a)
	require.NoError(t, err)
	_, err = m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, b)
	require.NoError(t, err)

	infos := m.Inspect()
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].Consumers)

	for i := 0; i < 4; i++ {
		publish(t, m, "orders", util.EncodeSimpleData([]byte("x")))
	}
	require.Eventually(t, func() bool {
		return len(a.summary())+len(b.summary()) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, a.summary(), 2)
	assert.Len(t, b.summary(), 2)
}

func TestSubscribeRejectsDuplicateChannel(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	ch := &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, ch)
	require.NoError(t, err)
	_, err = m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, ch)
	assert.Error(t, err)
}

func TestSubscribeValidation(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	_, err := m.Subscribe(SubscribeRequest{Group: "g"}, &recordChannel{})
	assert.Error(t, err)

	_, err = m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g", Policy: "random"}, &recordChannel{})
	assert.Error(t, err)
	assert.Empty(t, m.Inspect())
}

func TestUnsubscribeLastConsumerRemovesGroup(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	a, b := &recordChannel{}, &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, a)
	require.NoError(t, err)
	_, err = m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, b)
	require.NoError(t, err)

	assert.True(t, m.Unsubscribe("orders", "g", a))
	assert.True(t, a.isClosed())
	require.Len(t, m.Inspect(), 1)

	assert.True(t, m.Unsubscribe("orders", "g", b))
	assert.Empty(t, m.Inspect())
	assert.False(t, m.Unsubscribe("orders", "g", b))
	assert.False(t, m.Unsubscribe("missing", "g", b))

	// the upstream keeps buffering without groups
	publish(t, m, "orders", util.EncodeSimpleData([]byte("x")))
	assert.Equal(t, 1, m.DataList("orders").Len())
}

func TestFailedChannelIsUnsubscribed(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	ch := &recordChannel{fail: errors.New("broken pipe")}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, ch)
	require.NoError(t, err)

	publish(t, m, "orders", util.EncodeSimpleData([]byte("x")))
	require.Eventually(t, func() bool {
		return len(m.Inspect()) == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, ch.isClosed())
}

func TestPurge(t *testing.T) {
	m := NewManager(Options{BlockSize: 2})
	defer m.Stop()

	_, err := m.Purge("missing", 1)
	assert.Error(t, err)

	for i := uint64(1); i <= 6; i++ {
		publish(t, m, "orders", util.EncodeBeginWindow(i))
	}
	purged, err := m.Purge("orders", 5)
	require.NoError(t, err)
	assert.Equal(t, 4, purged)
}

func TestCleanupRetentionKeepsRecentWindows(t *testing.T) {
	m := NewManager(Options{BlockSize: 2, RetainWindows: 3, CleanupInterval: time.Hour})
	defer m.Stop()

	for i := uint32(1); i <= 10; i++ {
		publish(t, m, "orders", util.EncodeBeginWindow(types.PackWindowID(0, i)))
	}
	assert.Equal(t, 6, m.CleanupRetention())
	assert.Equal(t, 4, m.DataList("orders").Len())
	assert.Equal(t, 0, m.CleanupRetention())
}

func TestWindowPublisherAppendsBoundaries(t *testing.T) {
	m := NewManager(Options{})
	defer m.Stop()

	ch := &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "ticks", Group: "g"}, ch)
	require.NoError(t, err)

	wp := m.WindowPublisher("ticks")
	wp.ResetWindow(3, 1000)
	wp.BeginWindow(types.PackWindowID(3, 1))
	wp.EndWindow(types.PackWindowID(3, 1))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"RESET_WINDOW", "BEGIN_WINDOW:3:1", "END_WINDOW:3:1"}, ch.summary())
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ticks"}, m.Upstreams())
}

func TestStopClosesConsumers(t *testing.T) {
	m := NewManager(Options{RetainWindows: 1, CleanupInterval: time.Millisecond})

	ch := &recordChannel{}
	_, err := m.Subscribe(SubscribeRequest{Upstream: "orders", Group: "g"}, ch)
	require.NoError(t, err)

	m.Stop()
	m.Stop()
	assert.True(t, ch.isClosed())
	assert.Empty(t, m.Inspect())
}

// stalledChannel blocks every write until released.
type stalledChannel struct {
	release chan struct{}
}

func (c *stalledChannel) WriteFrame([]byte) error {
	<-c.release
	return nil
}

func (c *stalledChannel) Close() error { return nil }

func TestSlowGroupDoesNotStallOtherUpstreams(t *testing.T) {
	m := NewManager(Options{Consumer: consumer.Options{QueueSize: 1, DropPolicy: consumer.Block}})
	defer m.Stop()

	slow := &stalledChannel{release: make(chan struct{})}
	defer close(slow.release)

	_, err := m.Subscribe(SubscribeRequest{Upstream: "a", Group: "g"}, slow)
	require.NoError(t, err)
	other := &recordChannel{}
	_, err = m.Subscribe(SubscribeRequest{Upstream: "a", Group: "g"}, other)
	require.NoError(t, err)

	// the drain of a/g ends up parked on the full queue of the slow channel
	for i := 0; i < 5; i++ {
		publish(t, m, "a", util.EncodeSimpleData([]byte("x")))
	}
	time.Sleep(50 * time.Millisecond)

	go m.Unsubscribe("a", "g", other)
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		if err := m.Publish("b", util.EncodeSimpleData([]byte("y"))); err != nil {
			done <- err
			return
		}
		_, err := m.Subscribe(SubscribeRequest{Upstream: "b", Group: "g"}, &recordChannel{})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("upstream b stalled behind a slow consumer of upstream a")
	}
	assert.Equal(t, 1, m.DataList("b").Len())
}
