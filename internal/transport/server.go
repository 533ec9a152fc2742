// Package transport is the TCP front door: it accepts connections,
// frames/deframes the newline-JSON wire protocol, and feeds decoded
// messages into a matcher.Engine. None of the matching logic lives
// here — the transport is an external collaborator the engine trusts
// to have tagged each message with its originating participant, which
// is exactly the role Server plays.
//
// A tomb.v2-supervised accept loop hands connections to a worker
// pool, with zerolog logging throughout.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"clobsim/internal/matcher"
	"clobsim/internal/protocol"
	"clobsim/internal/registry"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const defaultWorkers = 64

// Server is the TCP listener wiring connections to one matching
// engine.
type Server struct {
	address string
	port    int
	engine  *matcher.Engine
	reg     *registry.Registry
	pool    *workerPool

	addr  atomic.Pointer[net.Addr]
	bound chan struct{}
}

// New builds a server bound to address:port, dispatching into engine
// and tracking connections in reg.
func New(address string, port int, engine *matcher.Engine, reg *registry.Registry) *Server {
	return &Server{
		address: address,
		port:    port,
		engine:  engine,
		reg:     reg,
		pool:    newWorkerPool(defaultWorkers),
		bound:   make(chan struct{}),
	}
}

// Addr blocks until the listener is bound, then returns its address —
// useful in tests that bind to port 0 and need the kernel-assigned
// port before dialing.
func (s *Server) Addr() net.Addr {
	<-s.bound
	return *s.addr.Load()
}

// Run starts accepting connections and blocks until ctx is cancelled
// or the listener fails. Every accepted connection is registered as
// both a trader and an observer, since a single underlying connection
// may play either role; subscribeDepth/unsubscribeDepth is what
// actually gates whether an observer receives broadcasts.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("closing listener")
		}
	}()

	addr := listener.Addr()
	s.addr.Store(&addr)
	close(s.bound)

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	// Accept blocks regardless of ctx, so close the listener ourselves
	// once the context is done to unblock it.
	t.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("exchange listening")

	for {
		select {
		case <-ctx.Done():
			return t.Wait()
		default:
			netConn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return t.Wait()
				default:
				}
				log.Error().Err(err).Msg("accept failed")
				continue
			}

			c := newConn(netConn)
			s.reg.AddTrader(c)
			s.reg.AddObserver(c)
			log.Info().Stringer("participant", c.id).Str("remote", netConn.RemoteAddr().String()).Msg("participant connected")

			s.pool.AddTask(c)
		}
	}
}

// handleConnection owns one connection for its entire lifetime: it
// reads newline-JSON frames until the peer disconnects, dispatching
// each to the engine, then cleans up the registry and purges the
// departed trader's resting orders.
func (s *Server) handleConnection(t *tomb.Tomb, c *conn) error {
	defer func() {
		// Purge while the trader is still registered, so the
		// synthetic orderCancelled notices it produces have somewhere
		// to go.
		s.engine.OnTraderDisconnect(c.id)
		s.reg.RemoveTrader(c.id)
		s.reg.RemoveObserver(c.id)
		if err := c.Close(); err != nil {
			log.Error().Stringer("participant", c.id).Err(err).Msg("closing connection")
		}
		log.Info().Stringer("participant", c.id).Msg("participant disconnected")
	}()

	scanner := protocol.NewScanner(c.netc)

	for scanner.Scan() {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		in, err := protocol.DecodeInbound(line)
		if err != nil {
			s.sendMalformed(c)
			continue
		}

		switch in.Message {
		case protocol.MsgSubscribeDepth, protocol.MsgUnsubscribeDepth:
			s.engine.OnClientMessage(c.id, in)
		default:
			s.engine.OnTraderMessage(c.id, in)
		}
	}
	return nil
}

func (s *Server) sendMalformed(c *conn) {
	frame, err := protocol.Encode(protocol.Error{Text: "malformed message"})
	if err != nil {
		log.Error().Err(err).Msg("encode malformed-message error")
		return
	}
	if err := c.Send(frame); err != nil {
		log.Error().Stringer("participant", c.id).Err(err).Msg("sending malformed-message error")
	}
}
