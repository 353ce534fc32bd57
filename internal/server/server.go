// internal/server/server.go
//
// Package server implements the authoritative TCP game server: a loopback
// listener, one reader goroutine per connection, a dispatcher that applies
// protocol messages to the game registry under a single mutex, and a
// broadcast fan-out keyed by PIN.
package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizwire/quizwire/internal/cache"
	"github.com/quizwire/quizwire/internal/codec"
	"github.com/quizwire/quizwire/internal/game"
)

// SweepInterval is how often the background sweeper reaps expired ended
// games, in addition to the sweep performed on every LIST_GAMES.
const SweepInterval = 30 * time.Second

// Conn is one accepted TCP socket. username and currentPIN are only touched
// by the dispatcher while it holds the server mutex.
type Conn struct {
	nc         net.Conn
	w          *codec.Writer
	username   string
	currentPIN string
}

// send writes one frame; the codec writer serializes concurrent writes.
func (c *Conn) send(v interface{}) error {
	return c.w.Write(v)
}

// Server owns the registry and the set of live connections.
type Server struct {
	logger  *logrus.Logger
	reg     *game.Registry
	results *cache.Publisher // nil when no result queue is configured

	mu    sync.Mutex
	conns map[*Conn]struct{}

	ln   net.Listener
	done chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithResultPublisher makes the server push a result record to the queue
// whenever a game ends.
func WithResultPublisher(p *cache.Publisher) Option {
	return func(s *Server) { s.results = p }
}

// WithEndedTTL overrides how long ended games linger before the sweeper
// reaps them.
func WithEndedTTL(ttl time.Duration) Option {
	return func(s *Server) { s.reg = game.NewRegistry(ttl) }
}

// New builds a Server with an empty registry.
func New(logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		logger: logger,
		reg:    game.NewRegistry(0),
		conns:  make(map[*Conn]struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the game registry, mainly for tests.
func (s *Server) Registry() *game.Registry {
	return s.reg
}

// Listen binds the TCP listener. addr is host:port; the game port is meant
// to stay on loopback.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Infof("game server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until the listener closes. It also runs the
// background ended-game sweeper.
func (s *Server) Serve() error {
	go s.sweepLoop()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		go s.readLoop(nc)
	}
}

// ListenAndServe binds addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting and closes every live connection.
func (s *Server) Close() error {
	close(s.done)
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()
	return err
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reg.SweepEnded(time.Now())
		}
	}
}

// readLoop registers the connection, decodes frames, and dispatches them.
// A disconnect only deregisters the connection; game membership is explicit
// via EXIT_GAME because the bridge aggregates many usernames per socket.
func (s *Server) readLoop(nc net.Conn) {
	c := &Conn{nc: nc, w: codec.NewWriter(nc)}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Infof("connection from %s", nc.RemoteAddr())

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		nc.Close()
		s.logger.Infof("connection from %s closed", nc.RemoteAddr())
	}()

	r := codec.NewReader(nc, s.logger)
	for {
		msg, err := r.Next()
		if err != nil {
			if errors.Is(err, codec.ErrHTTPRequest) {
				s.logger.Warnf("HTTP request on game port from %s, dropping connection", nc.RemoteAddr())
			} else if !errors.Is(err, io.EOF) {
				s.logger.Debugf("read from %s ended: %v", nc.RemoteAddr(), err)
			}
			return
		}
		s.dispatch(c, msg)
	}
}

// broadcastLocked writes one frame to every connection currently in pin.
// Failed writes are logged and skipped so one dead socket never starves the
// rest. Caller holds s.mu, which linearizes broadcasts with state changes.
func (s *Server) broadcastLocked(pin string, v interface{}) {
	for c := range s.conns {
		if c.currentPIN != pin {
			continue
		}
		if err := c.send(v); err != nil {
			s.logger.Warnf("broadcast to %s failed: %v", c.nc.RemoteAddr(), err)
		}
	}
}
