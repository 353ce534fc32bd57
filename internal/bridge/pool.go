// internal/bridge/pool.go
//
// Package bridge connects browsers to the game server. It keeps one logical
// TCP session per username, correlates synchronous HTTP calls with the
// asynchronous frames the game server pushes back, and fans every frame out
// to the user's open SSE streams.
package bridge

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizwire/quizwire/internal/codec"
	"github.com/quizwire/quizwire/internal/protocol"
)

// RequestTimeout bounds how long a correlated HTTP call waits for its reply
// frame. Tests shorten it.
var RequestTimeout = 5 * time.Second

// Pool maps usernames to their game-server sessions.
type Pool struct {
	addr   string
	logger *logrus.Logger
	hub    *Hub

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewPool creates a pool that dials the game server at addr. Frames received
// on any session are forwarded to hub.
func NewPool(addr string, hub *Hub, logger *logrus.Logger) *Pool {
	return &Pool{
		addr:     addr,
		logger:   logger,
		hub:      hub,
		sessions: make(map[string]*Session),
	}
}

// Connect ensures username has a live session: reuse a connected one,
// replace a stale one, or dial fresh. A new session has sent REGISTER and
// seen a matching REGISTER_OK before Connect returns.
func (p *Pool) Connect(username string) error {
	p.mu.Lock()
	if s, ok := p.sessions[username]; ok {
		if s.Connected() {
			p.mu.Unlock()
			return nil
		}
		s.Close()
		delete(p.sessions, username)
	}
	p.mu.Unlock()

	s, err := p.dial(username)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[username]; ok {
		// A concurrent /connect won the race.
		if cur.Connected() {
			s.Close()
			return nil
		}
		cur.Close()
	}
	p.sessions[username] = s
	return nil
}

// dial opens a TCP connection and registers username with the game server.
func (p *Pool) dial(username string) (*Session, error) {
	nc, err := net.DialTimeout("tcp", p.addr, RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to reach game server: %w", err)
	}

	s := &Session{
		username: username,
		nc:       nc,
		w:        codec.NewWriter(nc),
		logger:   p.logger,
		hub:      p.hub,
		subs:     make(map[*Subscription]struct{}),
		done:     make(chan struct{}),
	}
	s.connected = true
	go s.readLoop()

	_, err = s.Request(map[string]interface{}{
		"type":     protocol.TypeRegister,
		"username": username,
	}, protocol.TypeRegisterOK, func(m map[string]interface{}) bool {
		return protocol.String(m, "username") == username
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("registration for %s failed: %w", username, err)
	}

	p.logger.Infof("session established for %s", username)
	return s, nil
}

// Session returns username's session, if any.
func (p *Pool) Session(username string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[username]
	return s, ok
}

// Close tears down every session.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for username, s := range p.sessions {
		s.Close()
		delete(p.sessions, username)
	}
}

// Session is one username's TCP connection to the game server plus the
// fan-out of its inbound frames.
type Session struct {
	username string
	nc       net.Conn
	w        *codec.Writer
	logger   *logrus.Logger
	hub      *Hub

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	connected bool
	done      chan struct{}
}

// Subscription is a one-shot wait for the next frame of a given type.
type Subscription struct {
	msgType string
	match   func(map[string]interface{}) bool
	ch      chan map[string]interface{}
}

// Connected reports whether the reader is still attached to a live socket.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send writes one frame to the game server.
func (s *Session) Send(msg map[string]interface{}) error {
	if !s.Connected() {
		return fmt.Errorf("session for %s is not connected", s.username)
	}
	return s.w.Write(msg)
}

// Close shuts the socket; the reader goroutine then winds everything down.
func (s *Session) Close() {
	s.nc.Close()
}

// Subscribe registers a one-shot listener for the next frame whose type is
// msgType and which satisfies match (nil matches everything). The caller
// must Unsubscribe unless the subscription fired.
func (s *Session) Subscribe(msgType string, match func(map[string]interface{}) bool) *Subscription {
	sub := &Subscription{
		msgType: msgType,
		match:   match,
		ch:      make(chan map[string]interface{}, 1),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes a pending subscription. Safe to call after delivery.
func (s *Session) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Request sends msg and waits up to RequestTimeout for the first frame of
// replyType satisfying match. The subscription is registered before the
// write so the reply cannot slip past.
func (s *Session) Request(msg map[string]interface{}, replyType string, match func(map[string]interface{}) bool) (map[string]interface{}, error) {
	sub := s.Subscribe(replyType, match)
	defer s.Unsubscribe(sub)

	if err := s.Send(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-sub.ch:
		return reply, nil
	case <-s.done:
		return nil, fmt.Errorf("game server connection closed while waiting for %s", replyType)
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for %s", replyType)
	}
}

// readLoop decodes frames off the socket, hands each to the SSE hub, and
// fires at most one matching subscription per frame. On any read error the
// session is marked disconnected and SSE subscribers get an ERROR event so
// the UI can prompt a reconnect.
func (s *Session) readLoop() {
	r := codec.NewReader(s.nc, s.logger)
	for {
		msg, err := r.Next()
		if err != nil {
			s.mu.Lock()
			s.connected = false
			close(s.done)
			s.mu.Unlock()
			s.nc.Close()

			s.logger.Warnf("session for %s lost: %v", s.username, err)
			s.hub.Publish(s.username, map[string]interface{}{
				"type":    protocol.TypeError,
				"message": "Game server connection lost",
			})
			return
		}

		s.hub.Publish(s.username, msg)
		s.deliver(msg)
	}
}

// deliver completes the first pending subscription matching msg.
func (s *Session) deliver(msg map[string]interface{}) {
	msgType := protocol.String(msg, "type")

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.msgType != msgType {
			continue
		}
		if sub.match != nil && !sub.match(msg) {
			continue
		}
		delete(s.subs, sub)
		sub.ch <- msg
		return
	}
}
