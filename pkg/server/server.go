package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/downfa11-org/bufferserver/pkg/config"
	"github.com/downfa11-org/bufferserver/pkg/controller"
	"github.com/downfa11-org/bufferserver/pkg/upstream"
	"github.com/downfa11-org/bufferserver/util"
)

// Server accepts publisher, subscriber and admin connections.
type Server struct {
	cfg     *config.Config
	manager *upstream.Manager
	handler *controller.CommandHandler

	wg sync.WaitGroup
}

func NewServer(cfg *config.Config, m *upstream.Manager) *Server {
	return &Server{
		cfg:     cfg,
		manager: m,
		handler: controller.NewCommandHandler(m),
	}
}

// RunServer listens on the configured port with optional TLS until ctx is
// done.
func (s *Server) RunServer(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	var ln net.Listener
	var err error
	if s.cfg.UseTLS {
		tlsConfig := &tls.Config{Certificates: []tls.Certificate{s.cfg.TLSCert}}
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}
	util.Info("🧩 Buffer server listening on %s (TLS=%v, Gzip=%v)", addr, s.cfg.UseTLS, s.cfg.EnableGzip)
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln, at most MaxConnections at a time.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slots := make(chan struct{}, s.cfg.MaxConnections)
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			util.Warn("⚠️ Accept error: %v", err)
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer func() {
				<-slots
				s.wg.Done()
			}()
			s.HandleConnection(conn)
		}()
	}
}

// HandleConnection reads the command frame of a connection and serves it.
func (s *Server) HandleConnection(conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()

	for {
		data, ok := s.readFrame(conn, connID)
		if !ok {
			return
		}

		cmd, err := controller.ParseCommand(string(data))
		if err != nil {
			s.writeResponse(conn, "ERROR: "+err.Error())
			continue
		}

		switch cmd.Type {
		case controller.CmdPublish:
			s.writeResponse(conn, "OK")
			s.handlePublish(conn, connID, cmd.Upstream)
			return
		case controller.CmdSubscribe:
			s.handleSubscribe(conn, connID, cmd)
			return
		default:
			s.writeResponse(conn, s.handler.HandleCommand(cmd))
		}
	}
}

func (s *Server) readFrame(conn net.Conn, connID string) ([]byte, bool) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return nil, false
	}
	msg, err := util.ReadWithLength(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			util.Warn("⚠️ [%s] Read error: %v", connID, err)
		}
		return nil, false
	}
	data, err := DecompressMessage(msg, s.cfg.EnableGzip)
	if err != nil {
		util.Warn("⚠️ [%s] Decompress error: %v", connID, err)
		return nil, false
	}
	return data, true
}

// handlePublish appends every following frame to upstream. Malformed
// records are answered with an error and skipped.
func (s *Server) handlePublish(conn net.Conn, connID, upstreamName string) {
	util.Debug("[%s] publishing to '%s'", connID, upstreamName)
	for {
		data, ok := s.readFrame(conn, connID)
		if !ok {
			return
		}
		if err := s.manager.Publish(upstreamName, data); err != nil {
			util.Warn("[%s] rejected record for '%s': %v", connID, upstreamName, err)
			s.writeResponse(conn, "ERROR: "+err.Error())
		}
	}
}

// handleSubscribe turns conn into a consumer. The acknowledgement is
// written before any record.
func (s *Server) handleSubscribe(conn net.Conn, connID string, cmd controller.Command) {
	ch := &connChannel{id: connID, conn: conn, gzip: s.cfg.EnableGzip}

	ch.mu.Lock()
	c, err := s.manager.Subscribe(upstream.SubscribeRequest{
		Upstream:    cmd.Upstream,
		Group:       cmd.Group,
		Partitions:  cmd.Partitions,
		StartMillis: cmd.StartMillis,
		Policy:      cmd.Policy,
	}, ch)
	if err != nil {
		ch.writeLocked([]byte("ERROR: " + err.Error()))
		ch.mu.Unlock()
		return
	}
	ackErr := ch.writeLocked([]byte("OK consumer=" + c.ID()))
	ch.mu.Unlock()

	util.Info("📡 [%s] consumer %s subscribed to %s/%s", connID, c.ID(), cmd.Upstream, cmd.Group)
	defer s.manager.Unsubscribe(cmd.Upstream, cmd.Group, ch)
	if ackErr != nil {
		return
	}

	// subscribers only close their side
	conn.SetReadDeadline(time.Time{})
	for {
		if _, err := util.ReadWithLength(conn); err != nil {
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, msg string) {
	frame, err := CompressMessage([]byte(msg), s.cfg.EnableGzip)
	if err != nil {
		util.Error("Failed to compress response: %v", err)
		return
	}
	if err := util.WriteWithLength(conn, frame); err != nil {
		util.Debug("Failed to write response: %v", err)
	}
}
