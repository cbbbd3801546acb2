package buffer

import (
	"errors"

	"github.com/downfa11-org/bufferserver/pkg/types"
)

// ErrIncompatibleSource is returned when a record source is not a cursor over
// a DataList.
var ErrIncompatibleSource = errors.New("record source is not a buffer cursor")

// RecordSource is anything that can be advanced over a stream of records.
type RecordSource interface {
	Next() bool
}

// Cursor is a forward-only reader over a DataList. It is not safe for
// concurrent use; each group owns exactly one.
type Cursor struct {
	list    *DataList
	blk     *block
	idx     int
	current types.Record
}

// AsCursor returns src as a Cursor or ErrIncompatibleSource.
func AsCursor(src RecordSource) (*Cursor, error) {
	c, ok := src.(*Cursor)
	if !ok || c == nil || c.list == nil {
		return nil, ErrIncompatibleSource
	}
	return c, nil
}

// Next advances to the next record. It returns false once the cursor has
// caught up with the producer; a later call may succeed after more appends.
func (c *Cursor) Next() bool {
	c.list.mu.RLock()
	defer c.list.mu.RUnlock()

	for {
		if c.idx < len(c.blk.records) {
			c.current = c.blk.records[c.idx]
			c.idx++
			return true
		}
		if c.blk.next == nil {
			return false
		}
		c.blk = c.blk.next
		c.idx = 0
	}
}

// HasNext reports whether Next would return true without advancing.
func (c *Cursor) HasNext() bool {
	c.list.mu.RLock()
	defer c.list.mu.RUnlock()

	for b, i := c.blk, c.idx; b != nil; b, i = b.next, 0 {
		if i < len(b.records) {
			return true
		}
	}
	return false
}

// Current is the record returned by the last successful Next.
func (c *Cursor) Current() types.Record {
	return c.current
}

func (c *Cursor) Upstream() string { return c.list.name }
