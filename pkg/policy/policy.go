// Package policy holds the strategies that pick which consumers of a group
// receive a data record. Every policy sends to at least one consumer when the
// set is non-empty and, because each consumer queues its frames in order,
// keeps per-destination FIFO across calls.
package policy

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/downfa11-org/bufferserver/pkg/consumer"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

type Policy interface {
	Distribute(consumers []*consumer.Consumer, r types.Record)
}

// Func adapts a function to a Policy.
type Func func(consumers []*consumer.Consumer, r types.Record)

func (f Func) Distribute(consumers []*consumer.Consumer, r types.Record) { f(consumers, r) }

// GiveAll broadcasts every record to every consumer.
var GiveAll Policy = Func(func(consumers []*consumer.Consumer, r types.Record) {
	data := r.Raw()
	for _, c := range consumers {
		c.Send(data)
	}
})

// RoundRobin sends each record to a single consumer, rotating through the set.
// Its counter makes it per-group state; do not share a value between groups.
type RoundRobin struct {
	next atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (rr *RoundRobin) Distribute(consumers []*consumer.Consumer, r types.Record) {
	if len(consumers) == 0 {
		return
	}
	i := (rr.next.Add(1) - 1) % uint64(len(consumers))
	consumers[i].Send(r.Raw())
}

// Sticky sends partitioned records to the consumer chosen by hashing the
// partition key, so one key always lands on the same consumer while the set
// is unchanged. Other records go to the first consumer.
var Sticky Policy = Func(func(consumers []*consumer.Consumer, r types.Record) {
	if len(consumers) == 0 {
		return
	}
	idx := 0
	if r.Kind() == types.KindPartitionedData {
		idx = util.Hash(r.Partition()) % len(consumers)
	}
	consumers[idx].Send(r.Raw())
})

// ByName builds the policy for a configuration or command value.
func ByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "broadcast", "giveall":
		return GiveAll, nil
	case "roundrobin", "round_robin":
		return NewRoundRobin(), nil
	case "sticky", "hash":
		return Sticky, nil
	default:
		return nil, fmt.Errorf("unknown distribution policy %q", name)
	}
}
