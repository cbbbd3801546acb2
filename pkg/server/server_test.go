package server_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/bufferserver/pkg/config"
	"github.com/downfa11-org/bufferserver/pkg/consumer"
	"github.com/downfa11-org/bufferserver/pkg/server"
	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/pkg/upstream"
	"github.com/downfa11-org/bufferserver/util"
)

type client struct {
	t    *testing.T
	conn net.Conn
	gzip bool
}

func (c *client) send(data []byte) {
	c.t.Helper()
	frame, err := server.CompressMessage(data, c.gzip)
	require.NoError(c.t, err)
	require.NoError(c.t, util.WriteWithLength(c.conn, frame))
}

func (c *client) recv() []byte {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := util.ReadWithLength(c.conn)
	require.NoError(c.t, err)
	data, err := server.DecompressMessage(frame, c.gzip)
	require.NoError(c.t, err)
	return data
}

func (c *client) recvRecord() types.Record {
	c.t.Helper()
	r, err := util.DecodeRecord(c.recv())
	require.NoError(c.t, err)
	return r
}

func newServer(t *testing.T, gzip bool) (*server.Server, *upstream.Manager) {
	cfg := &config.Config{EnableGzip: gzip}
	cfg.Normalize()
	m := upstream.NewManager(upstream.Options{Consumer: consumer.Options{QueueSize: 16}})
	t.Cleanup(m.Stop)
	return server.NewServer(cfg, m), m
}

func connect(t *testing.T, s *server.Server, gzip bool) *client {
	clientConn, serverConn := net.Pipe()
	go s.HandleConnection(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return &client{t: t, conn: clientConn, gzip: gzip}
}

func TestAdminCommands(t *testing.T) {
	s, _ := newServer(t, false)
	c := connect(t, s, false)

	c.send([]byte("INSPECT"))
	assert.Equal(t, "[]", string(c.recv()))

	c.send([]byte("FETCH topic=x"))
	assert.True(t, strings.HasPrefix(string(c.recv()), "ERROR:"))

	c.send([]byte("PURGE upstream=missing window=0:1"))
	assert.True(t, strings.HasPrefix(string(c.recv()), "ERROR:"))

	c.send([]byte("HELP"))
	assert.Contains(t, string(c.recv()), "PUBLISH")
}

func publishAndSubscribe(t *testing.T, gzip bool) {
	s, m := newServer(t, gzip)

	sub := connect(t, s, gzip)
	sub.send([]byte("SUBSCRIBE upstream=orders group=billing partitions=eu"))
	ack := string(sub.recv())
	require.True(t, strings.HasPrefix(ack, "OK consumer="), ack)

	pub := connect(t, s, gzip)
	pub.send([]byte("PUBLISH upstream=orders"))
	assert.Equal(t, "OK", string(pub.recv()))

	eu, err := util.EncodePartitionedData([]byte("eu"), []byte("order-1"))
	require.NoError(t, err)
	us, err := util.EncodePartitionedData([]byte("us"), []byte("order-2"))
	require.NoError(t, err)

	pub.send(util.EncodeResetWindow(1, 1000))
	pub.send(us)
	pub.send(eu)
	pub.send(util.EncodeBeginWindow(types.PackWindowID(1, 1)))

	assert.Equal(t, types.KindResetWindow, sub.recvRecord().Kind())
	r := sub.recvRecord()
	assert.Equal(t, types.KindPartitionedData, r.Kind())
	assert.Equal(t, "order-1", string(r.Payload()))
	r = sub.recvRecord()
	assert.Equal(t, types.KindBeginWindow, r.Kind())
	assert.Equal(t, types.PackWindowID(1, 1), r.WindowID())

	require.Len(t, m.Inspect(), 1)
	sub.conn.Close()
	require.Eventually(t, func() bool { return len(m.Inspect()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublishAndSubscribe(t *testing.T) {
	publishAndSubscribe(t, false)
}

func TestPublishAndSubscribeGzip(t *testing.T) {
	publishAndSubscribe(t, true)
}

func TestPublishRejectsMalformedRecord(t *testing.T) {
	s, m := newServer(t, false)
	pub := connect(t, s, false)
	pub.send([]byte("PUBLISH upstream=orders"))
	assert.Equal(t, "OK", string(pub.recv()))

	pub.send([]byte{0xff, 0x01})
	assert.True(t, strings.HasPrefix(string(pub.recv()), "ERROR:"))

	pub.send(util.EncodeSimpleData([]byte("ok")))
	require.Eventually(t, func() bool { return m.DataList("orders").Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeErrorIsReported(t *testing.T) {
	s, _ := newServer(t, false)
	sub := connect(t, s, false)
	sub.send([]byte("SUBSCRIBE upstream=orders group=g policy=random"))
	assert.True(t, strings.HasPrefix(string(sub.recv()), "ERROR:"))
}

func TestServeStopsOnCancel(t *testing.T) {
	s, _ := newServer(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c := &client{t: t, conn: conn}
	c.send([]byte("INSPECT"))
	assert.Equal(t, "[]", string(c.recv()))
	conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
