package server

import (
	"net"
	"sync"
	"time"

	"github.com/downfa11-org/bufferserver/util"
)

const writeTimeout = 10 * time.Second

// connChannel frames records onto a subscriber connection.
type connChannel struct {
	id   string
	conn net.Conn
	gzip bool

	mu sync.Mutex
}

func (c *connChannel) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(data)
}

func (c *connChannel) writeLocked(data []byte) error {
	frame, err := CompressMessage(data, c.gzip)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return util.WriteWithLength(c.conn, frame)
}

func (c *connChannel) Close() error {
	return c.conn.Close()
}
