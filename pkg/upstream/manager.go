package upstream

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/downfa11-org/bufferserver/pkg/buffer"
	"github.com/downfa11-org/bufferserver/pkg/consumer"
	"github.com/downfa11-org/bufferserver/pkg/group"
	"github.com/downfa11-org/bufferserver/pkg/policy"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

// Options tune the buffers and consumers created by a Manager.
type Options struct {
	BlockSize       int
	Consumer        consumer.Options
	DefaultPolicy   string
	RetainWindows   uint32
	CleanupInterval time.Duration
}

// SubscribeRequest attaches one consumer to an (upstream, group) pair.
type SubscribeRequest struct {
	Upstream    string
	Group       string
	Partitions  [][]byte
	StartMillis int64
	Policy      string
}

// GroupInfo is the read-only view of a group for administration.
type GroupInfo struct {
	Upstream   string   `json:"upstream"`
	Group      string   `json:"group"`
	Partitions []string `json:"partitions"`
	Consumers  int      `json:"consumers"`
	Buffered   int      `json:"buffered"`
}

type upstreamState struct {
	list   *buffer.DataList
	groups map[string]*groupEntry
}

// groupEntry serializes membership changes of one group. The manager lock is
// never held while a group lock is taken.
type groupEntry struct {
	g    *group.Group
	list *buffer.DataList

	mu             sync.Mutex
	removed        bool
	removeListener func()
}

// Manager owns the buffered stream of every upstream and the groups reading
// from them.
type Manager struct {
	mu        sync.Mutex
	opts      Options
	upstreams map[string]*upstreamState
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewManager creates a Manager and starts its retention loop when
// RetainWindows is set.
func NewManager(opts Options) *Manager {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	m := &Manager{
		opts:      opts,
		upstreams: make(map[string]*upstreamState),
		stopCh:    make(chan struct{}),
	}
	if opts.RetainWindows > 0 {
		go m.cleanupLoop()
	}
	return m
}

func (m *Manager) upstreamLocked(name string) *upstreamState {
	u, ok := m.upstreams[name]
	if !ok {
		u = &upstreamState{
			list:   buffer.NewDataList(name, m.opts.BlockSize),
			groups: make(map[string]*groupEntry),
		}
		m.upstreams[name] = u
		util.Info("✅ upstream '%s' registered", name)
	}
	return u
}

// DataList returns the buffered stream of upstream, creating it if needed.
func (m *Manager) DataList(upstream string) *buffer.DataList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upstreamLocked(upstream).list
}

// Publish appends one encoded record to the upstream's stream.
func (m *Manager) Publish(upstream string, raw []byte) error {
	_, err := m.DataList(upstream).Append(raw)
	return err
}

// Subscribe attaches ch as a consumer. The first subscription to a pair
// creates its group, which catches up to StartMillis before following the
// stream. Partitions are added to the group's filter.
func (m *Manager) Subscribe(req SubscribeRequest, ch consumer.Channel) (*consumer.Consumer, error) {
	if req.Upstream == "" || req.Group == "" {
		return nil, fmt.Errorf("subscribe requires upstream and group")
	}

	for {
		entry, err := m.entryFor(req)
		if err != nil {
			return nil, err
		}
		entry.mu.Lock()
		if entry.removed {
			// torn down between lookup and lock
			entry.mu.Unlock()
			continue
		}
		c, err := m.joinLocked(entry, req, ch)
		entry.mu.Unlock()
		return c, err
	}
}

// entryFor returns the group of req, creating it unstarted if needed.
func (m *Manager) entryFor(req SubscribeRequest) (*groupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.upstreamLocked(req.Upstream)
	if entry, ok := u.groups[req.Group]; ok {
		return entry, nil
	}

	name := req.Policy
	if name == "" {
		name = m.opts.DefaultPolicy
	}
	p, err := policy.ByName(name)
	if err != nil {
		return nil, err
	}
	g, err := group.New(req.Upstream, req.Group, u.list.NewCursor(), p)
	if err != nil {
		return nil, err
	}
	entry := &groupEntry{g: g, list: u.list}
	u.groups[req.Group] = entry
	return entry, nil
}

func (m *Manager) joinLocked(entry *groupEntry, req SubscribeRequest, ch consumer.Channel) (*consumer.Consumer, error) {
	if entry.g.Member(ch) != nil {
		return nil, fmt.Errorf("channel already subscribed to %s/%s", req.Upstream, req.Group)
	}

	opts := m.opts.Consumer
	opts.OnClose = func(c *consumer.Consumer, err error) {
		if err != nil {
			m.Unsubscribe(req.Upstream, req.Group, c.Channel())
		}
	}
	c := consumer.New(ch, opts)

	for _, partition := range req.Partitions {
		entry.g.AddPartition(partition)
	}
	entry.g.AddConsumer(c)

	if entry.removeListener == nil {
		g := entry.g
		entry.removeListener = entry.list.AddListener(buffer.ListenerFunc(func([]byte) { g.Notify() }))
		g.Start(req.StartMillis)
		util.Info("👥 group '%s' created on upstream '%s' (start=%d)", req.Group, req.Upstream, req.StartMillis)
	}
	util.Debug("Consumer %s joined %s/%s", c.ID(), req.Upstream, req.Group)
	return c, nil
}

func (m *Manager) lookup(upstream, groupName string) *groupEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.upstreams[upstream]
	if !ok {
		return nil
	}
	return u.groups[groupName]
}

// Unsubscribe detaches ch. A group left without consumers is torn down.
func (m *Manager) Unsubscribe(upstream, groupName string, ch consumer.Channel) bool {
	entry := m.lookup(upstream, groupName)
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	if entry.removed {
		entry.mu.Unlock()
		return false
	}
	c := entry.g.RemoveConsumer(ch)
	teardown := c != nil && entry.g.ConsumerCount() == 0
	if teardown {
		entry.removed = true
		m.mu.Lock()
		if u, ok := m.upstreams[upstream]; ok && u.groups[groupName] == entry {
			delete(u.groups, groupName)
		}
		m.mu.Unlock()
		if entry.removeListener != nil {
			entry.removeListener()
		}
	}
	entry.mu.Unlock()

	if c == nil {
		return false
	}
	c.Close()
	util.Debug("Consumer %s left %s/%s", c.ID(), upstream, groupName)
	if teardown {
		entry.g.Stop()
		util.Info("👋 group '%s' on upstream '%s' removed", groupName, upstream)
	}
	return true
}

// Purge releases records of upstream that precede window.
func (m *Manager) Purge(upstream string, window uint64) (int, error) {
	m.mu.Lock()
	u, ok := m.upstreams[upstream]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown upstream '%s'", upstream)
	}
	return u.list.Purge(window), nil
}

// Inspect lists every group with its partitions and consumer count. Groups
// are queried after the manager lock is released.
func (m *Manager) Inspect() []GroupInfo {
	type snapshot struct {
		upstream string
		group    string
		entry    *groupEntry
	}

	m.mu.Lock()
	var snaps []snapshot
	for name, u := range m.upstreams {
		for gname, entry := range u.groups {
			snaps = append(snaps, snapshot{upstream: name, group: gname, entry: entry})
		}
	}
	m.mu.Unlock()

	infos := make([]GroupInfo, 0, len(snaps))
	for _, sn := range snaps {
		parts := sn.entry.g.Partitions()
		ps := make([]string, len(parts))
		for i, p := range parts {
			ps[i] = string(p)
		}
		infos = append(infos, GroupInfo{
			Upstream:   sn.upstream,
			Group:      sn.group,
			Partitions: ps,
			Consumers:  sn.entry.g.ConsumerCount(),
			Buffered:   sn.entry.list.Len(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Upstream != infos[j].Upstream {
			return infos[i].Upstream < infos[j].Upstream
		}
		return infos[i].Group < infos[j].Group
	})
	return infos
}

// Upstreams returns the registered upstream names.
func (m *Manager) Upstreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.upstreams))
	for name := range m.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupRetention()
		case <-m.stopCh:
			return
		}
	}
}

// CleanupRetention purges every upstream down to the last RetainWindows
// windows of its current generation.
func (m *Manager) CleanupRetention() int {
	if m.opts.RetainWindows == 0 {
		return 0
	}

	m.mu.Lock()
	lists := make([]*buffer.DataList, 0, len(m.upstreams))
	for _, u := range m.upstreams {
		lists = append(lists, u.list)
	}
	m.mu.Unlock()

	total := 0
	for _, l := range lists {
		last := l.LastWindow()
		if types.WindowOffset(last) <= m.opts.RetainWindows {
			continue
		}
		total += l.Purge(last - uint64(m.opts.RetainWindows))
	}
	return total
}

// Stop tears down every group.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)

		m.mu.Lock()
		var groups []*groupEntry
		for _, u := range m.upstreams {
			for name, entry := range u.groups {
				groups = append(groups, entry)
				delete(u.groups, name)
			}
		}
		m.mu.Unlock()

		for _, entry := range groups {
			entry.mu.Lock()
			entry.removed = true
			if entry.removeListener != nil {
				entry.removeListener()
			}
			entry.mu.Unlock()
			entry.g.Stop()
		}
	})
}
