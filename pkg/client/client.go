// Package client speaks the buffer server's framed command protocol.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/downfa11-org/bufferserver/pkg/server"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

const AckTimeout = 5 * time.Second

var ErrServer = errors.New("server error")

type Options struct {
	EnableGzip bool
	TLS        *tls.Config
}

// Client is one connection to a buffer server. It is not safe for concurrent
// use.
type Client struct {
	conn net.Conn
	opts Options
}

func Dial(addr string, opts Options) (*Client, error) {
	var conn net.Conn
	var err error
	if opts.TLS != nil {
		conn, err = tls.Dial("tcp", addr, opts.TLS)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts Options) *Client {
	return &Client{conn: conn, opts: opts}
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) send(data []byte) error {
	frame, err := server.CompressMessage(data, c.opts.EnableGzip)
	if err != nil {
		return fmt.Errorf("compress frame: %w", err)
	}
	return util.WriteWithLength(c.conn, frame)
}

func (c *Client) recv(deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	frame, err := util.ReadWithLength(c.conn)
	if err != nil {
		return nil, err
	}
	return server.DecompressMessage(frame, c.opts.EnableGzip)
}

// Command sends a request/response command and returns the answer.
func (c *Client) Command(cmd string) (string, error) {
	if err := c.send([]byte(cmd)); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	resp, err := c.recv(time.Now().Add(AckTimeout))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	s := strings.TrimSpace(string(resp))
	if strings.HasPrefix(s, "ERROR:") {
		return "", fmt.Errorf("%w: %s", ErrServer, strings.TrimSpace(strings.TrimPrefix(s, "ERROR:")))
	}
	return s, nil
}

// Publish switches the connection to publishing records to upstream.
func (c *Client) Publish(upstream string) error {
	resp, err := c.Command("PUBLISH upstream=" + upstream)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("unexpected response: %s", resp)
	}
	return nil
}

// Send writes one encoded record on a publishing connection.
func (c *Client) Send(record []byte) error {
	return c.send(record)
}

// SubscribeOptions are the optional SUBSCRIBE arguments.
type SubscribeOptions struct {
	Partitions  []string
	StartMillis int64
	Policy      string
}

// Subscribe switches the connection to receiving records and returns the
// consumer id assigned by the server.
func (c *Client) Subscribe(upstream, group string, opts SubscribeOptions) (string, error) {
	cmd := fmt.Sprintf("SUBSCRIBE upstream=%s group=%s", upstream, group)
	if len(opts.Partitions) > 0 {
		cmd += " partitions=" + strings.Join(opts.Partitions, ",")
	}
	if opts.StartMillis > 0 {
		cmd += fmt.Sprintf(" start=%d", opts.StartMillis)
	}
	if opts.Policy != "" {
		cmd += " policy=" + opts.Policy
	}

	resp, err := c.Command(cmd)
	if err != nil {
		return "", err
	}
	id, ok := strings.CutPrefix(resp, "OK consumer=")
	if !ok {
		return "", fmt.Errorf("unexpected response: %s", resp)
	}
	return id, nil
}

// Next blocks for the next record on a subscribed connection. A zero timeout
// waits forever.
func (c *Client) Next(timeout time.Duration) (types.Record, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	data, err := c.recv(deadline)
	if err != nil {
		return types.Record{}, err
	}
	return util.DecodeRecord(data)
}
