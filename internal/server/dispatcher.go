// internal/server/dispatcher.go
package server

import (
	"context"
	"time"

	"github.com/quizwire/quizwire/internal/cache"
	"github.com/quizwire/quizwire/internal/game"
	"github.com/quizwire/quizwire/internal/protocol"
)

// dispatch routes one decoded frame. The whole handler body runs under the
// server mutex so every message observes a consistent registry and
// broadcasts linearize with state transitions. Malformed or unauthorized
// messages produce ERROR frames on the sender's socket, never a disconnect.
func (s *Server) dispatch(c *Conn, msg map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgType := protocol.String(msg, "type")
	switch msgType {
	case protocol.TypeRegister:
		s.handleRegister(c, msg)
	case protocol.TypeListGames:
		s.handleListGames(c)
	case protocol.TypeCreateGame:
		s.handleCreateGame(c, msg)
	case protocol.TypeJoinGame:
		s.handleJoinGame(c, msg)
	case protocol.TypeExitGame:
		s.handleExitGame(c, msg)
	case protocol.TypeSubmitQuestion:
		s.handleSubmitQuestion(c, msg)
	case protocol.TypeStartGame:
		s.handleStartGame(c, msg)
	case protocol.TypeAnswer:
		s.handleAnswer(c, msg)
	case protocol.TypeNextQuestion:
		s.handleNextQuestion(c, msg)
	case protocol.TypeEndGame:
		s.handleEndGame(c, msg)
	case protocol.TypeChat:
		s.handleChat(c, msg)
	default:
		s.sendError(c, "Unknown type: "+msgType)
	}
}

// sendError replies with an ERROR frame on the sender's socket only.
func (s *Server) sendError(c *Conn, message string) {
	if err := c.send(map[string]interface{}{
		"type":    protocol.TypeError,
		"message": message,
	}); err != nil {
		s.logger.Warnf("error reply to %s failed: %v", c.nc.RemoteAddr(), err)
	}
}

// actor resolves who a message acts as: the in-band username, else the
// connection's registered username, else "Unknown".
func actor(c *Conn, msg map[string]interface{}) string {
	if u := protocol.String(msg, "username"); u != "" {
		return u
	}
	if c.username != "" {
		return c.username
	}
	return "Unknown"
}

// pinOf resolves the target PIN: the in-band pin, else the connection's
// current game.
func pinOf(c *Conn, msg map[string]interface{}) string {
	if pin := protocol.String(msg, "pin"); pin != "" {
		return pin
	}
	return c.currentPIN
}

func (s *Server) handleRegister(c *Conn, msg map[string]interface{}) {
	c.username = protocol.String(msg, "username")
	if err := c.send(map[string]interface{}{
		"type":     protocol.TypeRegisterOK,
		"username": c.username,
	}); err != nil {
		s.logger.Warnf("REGISTER_OK to %s failed: %v", c.nc.RemoteAddr(), err)
	}
}

func (s *Server) handleListGames(c *Conn) {
	s.reg.SweepEnded(time.Now())

	games := []map[string]interface{}{}
	for _, g := range s.reg.List() {
		if g.State == game.StateLobby && g.IsPublic {
			games = append(games, g.Serialize())
		}
	}
	if err := c.send(map[string]interface{}{
		"type":  protocol.TypeGamesList,
		"games": games,
	}); err != nil {
		s.logger.Warnf("GAMES_LIST to %s failed: %v", c.nc.RemoteAddr(), err)
	}
}

func (s *Server) handleCreateGame(c *Conn, msg map[string]interface{}) {
	if c.username == "" {
		s.sendError(c, "Register before creating a game")
		return
	}
	host := protocol.String(msg, "username")
	if host == "" {
		host = c.username
	}

	g := s.reg.Create(host)
	g.Theme = protocol.String(msg, "theme")
	if _, ok := msg["isPublic"]; ok {
		g.IsPublic = protocol.Truthy(msg["isPublic"])
	}
	if mp := protocol.Int(msg, "maxPlayers", 0); mp > 0 {
		g.MaxPlayers = mp
	}
	c.currentPIN = g.PIN

	s.logger.Infof("game %s created by %s (public=%v)", g.PIN, host, g.IsPublic)
	if err := c.send(map[string]interface{}{
		"type": protocol.TypeGameCreated,
		"game": g.Serialize(),
	}); err != nil {
		s.logger.Warnf("GAME_CREATED to %s failed: %v", c.nc.RemoteAddr(), err)
	}
}

func (s *Server) handleJoinGame(c *Conn, msg map[string]interface{}) {
	pin := protocol.String(msg, "pin")
	g, ok := s.reg.Get(pin)
	if !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}

	username := protocol.String(msg, "username")
	if username == "" {
		username = c.username
	}
	if username == "" {
		s.sendError(c, "Username required")
		return
	}

	if err := g.AddPlayer(username); err != nil {
		s.sendError(c, err.Error())
		return
	}
	c.currentPIN = pin

	s.logger.Infof("%s joined game %s", username, pin)
	if err := c.send(map[string]interface{}{
		"type": protocol.TypeJoinedGame,
		"game": g.Serialize(),
	}); err != nil {
		s.logger.Warnf("JOINED_GAME to %s failed: %v", c.nc.RemoteAddr(), err)
	}
	s.broadcastLocked(pin, map[string]interface{}{
		"type": protocol.TypePlayerJoined,
		"pin":  pin,
		"game": g.Serialize(),
	})
}

func (s *Server) handleExitGame(c *Conn, msg map[string]interface{}) {
	pin := pinOf(c, msg)
	user := actor(c, msg)
	if pin == "" {
		s.sendError(c, "Not in a game")
		return
	}
	g, ok := s.reg.Get(pin)
	if !ok {
		c.currentPIN = ""
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}

	g.RemovePlayer(user)
	c.currentPIN = ""

	if len(g.Players) == 0 {
		s.reg.Remove(pin)
		s.logger.Infof("game %s deleted, last player %s left", pin, user)
		return
	}

	s.logger.Infof("%s left game %s, host is now %s", user, pin, g.Host)
	s.broadcastLocked(pin, map[string]interface{}{
		"type": protocol.TypePlayerLeft,
		"pin":  pin,
		"game": g.Serialize(),
	})
}

func (s *Server) handleSubmitQuestion(c *Conn, msg map[string]interface{}) {
	if c.username == "" && protocol.String(msg, "username") == "" {
		s.sendError(c, "Register before submitting questions")
		return
	}
	pin := pinOf(c, msg)
	g, ok := s.reg.Get(pin)
	if !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}

	author := actor(c, msg)
	text := protocol.String(msg, "question")
	answerTrue := protocol.Truthy(msg["answerTrue"])

	if err := g.AddQuestion(author, text, answerTrue); err != nil {
		s.sendError(c, err.Error())
		return
	}

	s.broadcastLocked(pin, map[string]interface{}{
		"type":       protocol.TypeQuestionSubmitted,
		"pin":        pin,
		"username":   author,
		"question":   text,
		"answerTrue": answerTrue,
	})
}

func (s *Server) handleStartGame(c *Conn, msg map[string]interface{}) {
	pin := pinOf(c, msg)
	g, ok := s.reg.Get(pin)
	if !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}
	if actor(c, msg) != g.Host {
		s.sendError(c, "Only host can start")
		return
	}
	if err := g.Start(); err != nil {
		s.sendError(c, err.Error())
		return
	}

	s.logger.Infof("game %s started with %d question(s)", pin, len(g.Questions))
	s.broadcastLocked(pin, map[string]interface{}{
		"type": protocol.TypeGameStarted,
		"pin":  pin,
		"game": g.Serialize(),
	})
}

func (s *Server) handleAnswer(c *Conn, msg map[string]interface{}) {
	pin := pinOf(c, msg)
	g, ok := s.reg.Get(pin)
	if !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}
	if g.State != game.StateInProgress {
		s.sendError(c, game.ErrNotInProgress.Error())
		return
	}

	user := actor(c, msg)
	correct := protocol.CorrectValue(msg["correct"])
	duplicate := g.RecordAnswer(user, correct)

	update := map[string]interface{}{
		"type":       protocol.TypeScoreUpdate,
		"pin":        pin,
		"game":       g.Serialize(),
		"answeredBy": user,
		"correct":    correct,
	}
	if duplicate {
		update["duplicate"] = true
	}
	s.broadcastLocked(pin, update)
}

func (s *Server) handleNextQuestion(c *Conn, msg map[string]interface{}) {
	pin := pinOf(c, msg)
	g, ok := s.reg.Get(pin)
	if !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}
	if g.State != game.StateInProgress {
		s.sendError(c, game.ErrNotInProgress.Error())
		return
	}
	if actor(c, msg) != g.Host {
		s.sendError(c, "Only host can advance")
		return
	}

	if ended := g.Advance(time.Now()); ended {
		s.finishGameLocked(g)
		return
	}
	s.broadcastLocked(pin, map[string]interface{}{
		"type": protocol.TypeNextQuestion,
		"pin":  pin,
		"game": g.Serialize(),
	})
}

func (s *Server) handleEndGame(c *Conn, msg map[string]interface{}) {
	pin := pinOf(c, msg)
	g, ok := s.reg.Get(pin)
	if !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}
	if actor(c, msg) != g.Host {
		s.sendError(c, "Only host can end the game")
		return
	}
	if g.State == game.StateEnded {
		// Idempotent: no re-broadcast, EndedAt untouched.
		return
	}
	g.End(time.Now())
	s.finishGameLocked(g)
}

func (s *Server) handleChat(c *Conn, msg map[string]interface{}) {
	pin := pinOf(c, msg)
	if _, ok := s.reg.Get(pin); !ok {
		s.sendError(c, game.ErrGameNotFound.Error())
		return
	}
	s.broadcastLocked(pin, map[string]interface{}{
		"type":    protocol.TypeChat,
		"pin":     pin,
		"from":    actor(c, msg),
		"message": protocol.String(msg, "message"),
	})
}

// finishGameLocked broadcasts GAME_ENDED and, when a result queue is
// configured, hands the final standings to it off the dispatcher goroutine.
func (s *Server) finishGameLocked(g *game.Game) {
	s.logger.Infof("game %s ended", g.PIN)
	s.broadcastLocked(g.PIN, map[string]interface{}{
		"type": protocol.TypeGameEnded,
		"pin":  g.PIN,
		"game": g.Serialize(),
	})

	if s.results == nil {
		return
	}
	rec := cache.GameResult{
		PIN:           g.PIN,
		Host:          g.Host,
		Players:       append([]string(nil), g.Players...),
		Scores:        make(map[string]int, len(g.Scores)),
		QuestionCount: len(g.Questions),
		EndedAt:       g.EndedAt.Unix(),
	}
	for u, sc := range g.Scores {
		rec.Scores[u] = sc
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.results.PublishResult(ctx, rec); err != nil {
			s.logger.Warnf("failed to publish result for game %s: %v", rec.PIN, err)
		}
	}()
}
