package consumer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/downfa11-org/bufferserver/pkg/metrics"
	"github.com/downfa11-org/bufferserver/util"
)

// Channel is the transport primitive behind a consumer.
type Channel interface {
	WriteFrame(data []byte) error
	Close() error
}

// DropPolicy decides what happens when a consumer queue is full.
type DropPolicy int

const (
	// Block waits for room in the queue.
	Block DropPolicy = iota
	// DropOldest evicts the oldest queued frame.
	DropOldest
	// DropNew discards the frame being sent.
	DropNew
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNew:
		return "drop_new"
	default:
		return "block"
	}
}

// ParseDropPolicy maps a configuration value to a DropPolicy.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return Block, nil
	case "drop_oldest", "drop-oldest":
		return DropOldest, nil
	case "drop_new", "drop-new":
		return DropNew, nil
	default:
		return Block, fmt.Errorf("unknown drop policy %q", s)
	}
}

// Options configure the outbound queue of a consumer. A QueueSize of zero
// writes synchronously on the sending goroutine.
type Options struct {
	QueueSize  int
	DropPolicy DropPolicy
	// OnClose runs once, on its own goroutine, after the consumer closes.
	OnClose func(c *Consumer, err error)
}

// Consumer is one downstream delivery endpoint. Consumers are identified by
// their channel.
type Consumer struct {
	id      string
	channel Channel
	opts    Options

	mu     sync.Mutex
	queue  chan []byte
	closed bool
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once

	warnLimiter *rate.Limiter
	dropped     uint64
}

// New wraps ch. When opts.QueueSize is positive a writer goroutine is started.
func New(ch Channel, opts Options) *Consumer {
	c := &Consumer{
		id:          uuid.NewString(),
		channel:     ch,
		opts:        opts,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	if opts.QueueSize > 0 {
		c.queue = make(chan []byte, opts.QueueSize)
		go c.runWriter()
	} else {
		close(c.done)
	}
	return c
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) Channel() Channel { return c.channel }

// Send hands data to the transport. It never reports an error; a failed
// write closes the consumer.
func (c *Consumer) Send(data []byte) {
	if c.queue == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		if err := c.channel.WriteFrame(data); err != nil {
			c.failLocked(err)
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	switch c.opts.DropPolicy {
	case DropNew:
		select {
		case c.queue <- data:
		default:
			c.dropLocked()
		}
		c.mu.Unlock()

	case DropOldest:
		for {
			select {
			case c.queue <- data:
				c.mu.Unlock()
				return
			default:
			}
			select {
			case <-c.queue:
				c.dropLocked()
			default:
			}
		}

	default:
		c.mu.Unlock()
		select {
		case c.queue <- data:
		case <-c.stopCh:
		}
	}
}

func (c *Consumer) dropLocked() {
	c.dropped++
	metrics.ConsumerDrops.WithLabelValues(c.opts.DropPolicy.String()).Inc()
	if c.warnLimiter.Allow() {
		util.Warn("⚠️ consumer %s queue full (%d), %d frames dropped so far", c.id, cap(c.queue), c.dropped)
	}
}

func (c *Consumer) runWriter() {
	defer close(c.done)
	for {
		select {
		case <-c.stopCh:
			return
		case data := <-c.queue:
			if err := c.channel.WriteFrame(data); err != nil {
				c.mu.Lock()
				c.failLocked(err)
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *Consumer) failLocked(err error) {
	metrics.ConsumerSendFailures.Inc()
	util.Warn("Consumer %s write failed, closing: %v", c.id, err)
	c.closeLocked(err)
}

func (c *Consumer) closeLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.once.Do(func() {
		close(c.stopCh)
		if cerr := c.channel.Close(); cerr != nil {
			util.Debug("Consumer %s channel close: %v", c.id, cerr)
		}
		if c.opts.OnClose != nil {
			go c.opts.OnClose(c, err)
		}
	})
}

// Close stops the writer and closes the channel. Queued frames are discarded.
func (c *Consumer) Close() {
	c.mu.Lock()
	c.closeLocked(nil)
	c.mu.Unlock()
	<-c.done
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dropped is the number of frames discarded by the drop policy.
func (c *Consumer) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Pending is the number of frames waiting in the queue.
func (c *Consumer) Pending() int {
	if c.queue == nil {
		return 0
	}
	return len(c.queue)
}
