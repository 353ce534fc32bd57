// internal/game/game.go
package game

import (
	"errors"
	"time"
)

// State is the lifecycle phase of a game.
type State string

const (
	StateLobby      State = "lobby"
	StateInProgress State = "inProgress"
	StateEnded      State = "ended"
)

// DefaultMaxPlayers caps a game when the creator does not supply a limit.
const DefaultMaxPlayers = 20

// PointsPerCorrect is awarded for each first correct answer to a question.
const PointsPerCorrect = 100

// Errors with wire-visible text. The dispatcher sends these strings verbatim
// in ERROR frames.
var (
	ErrGameNotFound   = errors.New("Game not found")
	ErrGameFull       = errors.New("Game is full")
	ErrAlreadyStarted = errors.New("Game already started")
	ErrNotInProgress  = errors.New("Game not in progress")
	ErrNoQuestions    = errors.New("Add at least 1 question before starting")
)

// Question is a true/false question contributed by a player during the lobby
// phase.
type Question struct {
	Author     string `json:"author"`
	Text       string `json:"text"`
	AnswerTrue bool   `json:"answerTrue"`
}

// Game is the authoritative record for one quiz game. Players is kept in
// insertion order; the first remaining player inherits the host role when
// the host exits. All methods assume the caller serializes access (the
// dispatcher mutex owns every live Game).
type Game struct {
	PIN                  string
	Host                 string
	State                State
	Theme                string
	IsPublic             bool
	MaxPlayers           int
	Players              []string
	Scores               map[string]int
	Questions            []Question
	CurrentQuestionIndex int
	AnsweredByIndex      map[int]map[string]bool
	CreatedAt            time.Time
	EndedAt              time.Time
}

// New creates a lobby game hosted by host. The host is the first player and
// starts with a zero score.
func New(pin, host string) *Game {
	return &Game{
		PIN:             pin,
		Host:            host,
		State:           StateLobby,
		MaxPlayers:      DefaultMaxPlayers,
		Players:         []string{host},
		Scores:          map[string]int{host: 0},
		AnsweredByIndex: make(map[int]map[string]bool),
		CreatedAt:       time.Now(),
	}
}

// HasPlayer reports whether username is currently in the game.
func (g *Game) HasPlayer(username string) bool {
	for _, p := range g.Players {
		if p == username {
			return true
		}
	}
	return false
}

// AddPlayer joins username into a lobby game. Joining twice is a no-op.
func (g *Game) AddPlayer(username string) error {
	if g.State != StateLobby {
		return ErrAlreadyStarted
	}
	if g.HasPlayer(username) {
		return nil
	}
	if len(g.Players) >= g.MaxPlayers {
		return ErrGameFull
	}
	g.Players = append(g.Players, username)
	g.Scores[username] = 0
	return nil
}

// RemovePlayer takes username out of the game. In the lobby the score entry
// goes too; once the game has started the score survives so end screens keep
// every participant. If the host leaves and players remain, the first
// remaining player is promoted.
func (g *Game) RemovePlayer(username string) {
	for i, p := range g.Players {
		if p == username {
			g.Players = append(g.Players[:i], g.Players[i+1:]...)
			break
		}
	}
	if g.State == StateLobby {
		delete(g.Scores, username)
	}
	if g.Host == username && len(g.Players) > 0 {
		g.Host = g.Players[0]
	}
}

// AddQuestion appends a question while the game is still in the lobby.
func (g *Game) AddQuestion(author, text string, answerTrue bool) error {
	if g.State != StateLobby {
		return ErrAlreadyStarted
	}
	g.Questions = append(g.Questions, Question{Author: author, Text: text, AnswerTrue: answerTrue})
	return nil
}

// Start moves the game from lobby to inProgress at question zero.
func (g *Game) Start() error {
	if g.State != StateLobby {
		return ErrAlreadyStarted
	}
	if len(g.Questions) == 0 {
		return ErrNoQuestions
	}
	g.State = StateInProgress
	g.CurrentQuestionIndex = 0
	g.AnsweredByIndex = make(map[int]map[string]bool)
	return nil
}

// RecordAnswer registers username's answer to the current question. A user
// not yet in the game is admitted on the fly (late joiners via the bridge).
// The second and later answers by the same user to the same question index
// are reported as duplicates and never score.
func (g *Game) RecordAnswer(username string, correct bool) (duplicate bool) {
	if !g.HasPlayer(username) {
		g.Players = append(g.Players, username)
	}
	if _, ok := g.Scores[username]; !ok {
		g.Scores[username] = 0
	}

	idx := g.CurrentQuestionIndex
	answered := g.AnsweredByIndex[idx]
	if answered == nil {
		answered = make(map[string]bool)
		g.AnsweredByIndex[idx] = answered
	}
	if answered[username] {
		return true
	}
	answered[username] = true
	if correct {
		g.Scores[username] += PointsPerCorrect
	}
	return false
}

// Advance moves to the next question. It reports true when the game ran out
// of questions and has ended.
func (g *Game) Advance(now time.Time) (ended bool) {
	next := g.CurrentQuestionIndex + 1
	if next >= len(g.Questions) {
		g.End(now)
		return true
	}
	g.CurrentQuestionIndex = next
	return false
}

// End moves the game to its terminal state. Ending an ended game changes
// nothing, EndedAt included.
func (g *Game) End(now time.Time) {
	if g.State == StateEnded {
		return
	}
	g.State = StateEnded
	g.EndedAt = now
}

// Serialize renders the wire shape broadcast to clients.
func (g *Game) Serialize() map[string]interface{} {
	players := make([]string, len(g.Players))
	copy(players, g.Players)

	scores := make(map[string]int, len(g.Scores))
	for u, s := range g.Scores {
		scores[u] = s
	}

	questions := make([]Question, len(g.Questions))
	copy(questions, g.Questions)

	return map[string]interface{}{
		"pin":                  g.PIN,
		"host":                 g.Host,
		"state":                string(g.State),
		"theme":                g.Theme,
		"isPublic":             g.IsPublic,
		"maxPlayers":           g.MaxPlayers,
		"players":              players,
		"scores":               scores,
		"questions":            questions,
		"currentQuestionIndex": g.CurrentQuestionIndex,
	}
}
