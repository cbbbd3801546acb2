package buffer

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/bufferserver/pkg/metrics"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

const DefaultBlockSize = 4096

// DataListener is notified after records are appended to a DataList.
// partition is the key of a PARTITIONED_DATA record and nil otherwise.
type DataListener interface {
	DataAdded(partition []byte)
}

// ListenerFunc adapts a function to a DataListener.
type ListenerFunc func(partition []byte)

func (f ListenerFunc) DataAdded(partition []byte) { f(partition) }

type block struct {
	records    []types.Record
	lastWindow uint64 // window in effect after the last record of the block
	next       *block
}

// DataList is the append-only buffered stream of one upstream. Records are
// kept in fixed-size blocks linked forward; purging only unlinks blocks from
// the head so cursors already inside them keep reading.
type DataList struct {
	name      string
	blockSize int

	mu        sync.RWMutex
	head      *block
	tail      *block
	size      int
	blocks    int
	window    uint64
	listeners map[uint64]DataListener
	nextID    uint64
}

// NewDataList creates an empty stream for the named upstream.
func NewDataList(name string, blockSize int) *DataList {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	b := &block{records: make([]types.Record, 0, blockSize)}
	return &DataList{
		name:      name,
		blockSize: blockSize,
		head:      b,
		tail:      b,
		blocks:    1,
		listeners: make(map[uint64]DataListener),
	}
}

func (dl *DataList) Name() string { return dl.name }

// Append decodes raw, stores it and notifies listeners. The list takes
// ownership of raw.
func (dl *DataList) Append(raw []byte) (types.Record, error) {
	r, err := util.DecodeRecord(raw)
	if err != nil {
		return types.Record{}, fmt.Errorf("append to %s: %w", dl.name, err)
	}

	dl.mu.Lock()
	if len(dl.tail.records) == dl.blockSize {
		b := &block{records: make([]types.Record, 0, dl.blockSize), lastWindow: dl.window}
		dl.tail.next = b
		dl.tail = b
		dl.blocks++
	}
	if r.Kind() == types.KindBeginWindow || r.Kind() == types.KindEndWindow {
		dl.window = r.WindowID()
	}
	dl.tail.records = append(dl.tail.records, r)
	dl.tail.lastWindow = dl.window
	dl.size++

	listeners := make([]DataListener, 0, len(dl.listeners))
	for _, l := range dl.listeners {
		listeners = append(listeners, l)
	}
	dl.mu.Unlock()

	metrics.RecordsAppended.WithLabelValues(dl.name).Inc()

	var partition []byte
	if r.Kind() == types.KindPartitionedData {
		partition = r.Partition()
	}
	for _, l := range listeners {
		l.DataAdded(partition)
	}
	return r, nil
}

// AddListener registers l and returns a function that unregisters it.
func (dl *DataList) AddListener(l DataListener) (remove func()) {
	dl.mu.Lock()
	id := dl.nextID
	dl.nextID++
	dl.listeners[id] = l
	dl.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			dl.mu.Lock()
			delete(dl.listeners, id)
			dl.mu.Unlock()
		})
	}
}

// NewCursor returns a cursor positioned at the oldest retained record.
func (dl *DataList) NewCursor() *Cursor {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return &Cursor{list: dl, blk: dl.head}
}

// Purge drops leading blocks whose records all belong to windows before
// window. The block being written is never dropped. It returns the number of
// records released.
func (dl *DataList) Purge(window uint64) int {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	purged := 0
	for dl.head != dl.tail && dl.head.lastWindow < window {
		purged += len(dl.head.records)
		dl.head = dl.head.next
		dl.blocks--
	}
	dl.size -= purged
	if purged > 0 {
		util.Debug("Purged %d records from %s before window %s", purged, dl.name, types.FormatWindowID(window))
	}
	return purged
}

// Len is the number of retained records.
func (dl *DataList) Len() int {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return dl.size
}

func (dl *DataList) Blocks() int {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return dl.blocks
}

// LastWindow is the most recent BEGIN_WINDOW or END_WINDOW id appended.
func (dl *DataList) LastWindow() uint64 {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return dl.window
}
