// internal/server/server_test.go
package server

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizwire/quizwire/internal/game"
)

var pinPattern = regexp.MustCompile(`^\d{6}$`)

func startServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := New(logger)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

// testClient is a raw protocol client against a live listener.
type testClient struct {
	t  *testing.T
	nc net.Conn
	br *bufio.Reader
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return &testClient{t: t, nc: nc, br: bufio.NewReader(nc)}
}

func (c *testClient) send(v map[string]interface{}) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	_, err = c.nc.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

func (c *testClient) sendRaw(s string) {
	c.t.Helper()
	_, err := c.nc.Write([]byte(s))
	require.NoError(c.t, err)
}

// recv reads the next frame, failing the test after two seconds.
func (c *testClient) recv() map[string]interface{} {
	c.t.Helper()
	require.NoError(c.t, c.nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.br.ReadBytes('\n')
	require.NoError(c.t, err, "expected a frame")
	var m map[string]interface{}
	require.NoError(c.t, json.Unmarshal(line, &m))
	return m
}

// expect reads the next frame and asserts its type.
func (c *testClient) expect(msgType string) map[string]interface{} {
	c.t.Helper()
	m := c.recv()
	require.Equal(c.t, msgType, m["type"], "unexpected frame: %v", m)
	return m
}

func (c *testClient) register(username string) {
	c.t.Helper()
	c.send(map[string]interface{}{"type": "REGISTER", "username": username})
	m := c.expect("REGISTER_OK")
	require.Equal(c.t, username, m["username"])
}

func gameOf(t *testing.T, m map[string]interface{}) map[string]interface{} {
	t.Helper()
	g, ok := m["game"].(map[string]interface{})
	require.True(t, ok, "frame has no game: %v", m)
	return g
}

func playersOf(t *testing.T, g map[string]interface{}) []string {
	t.Helper()
	raw, ok := g["players"].([]interface{})
	require.True(t, ok)
	players := make([]string, len(raw))
	for i, p := range raw {
		players[i] = p.(string)
	}
	return players
}

func scoreOf(t *testing.T, g map[string]interface{}, username string) float64 {
	t.Helper()
	scores, ok := g["scores"].(map[string]interface{})
	require.True(t, ok)
	score, ok := scores[username].(float64)
	require.True(t, ok, "no score for %s", username)
	return score
}

func createGame(t *testing.T, c *testClient, extra map[string]interface{}) string {
	t.Helper()
	msg := map[string]interface{}{"type": "CREATE_GAME"}
	for k, v := range extra {
		msg[k] = v
	}
	c.send(msg)
	m := c.expect("GAME_CREATED")
	pin := gameOf(t, m)["pin"].(string)
	require.Regexp(t, pinPattern, pin)
	return pin
}

func TestTwoPlayerHappyPath(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, map[string]interface{}{
		"theme": "Math", "isPublic": true, "maxPlayers": 10,
	})

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})

	joined := bob.expect("JOINED_GAME")
	assert.Equal(t, []string{"Alice", "Bob"}, playersOf(t, gameOf(t, joined)))
	bob.expect("PLAYER_JOINED") // bob is in the game by broadcast time
	alice.expect("PLAYER_JOINED")

	alice.send(map[string]interface{}{
		"type": "SUBMIT_QUESTION", "pin": pin, "question": "2+2=4", "answerTrue": true,
	})
	submitted := alice.expect("QUESTION_SUBMITTED")
	assert.Equal(t, "2+2=4", submitted["question"])
	assert.Equal(t, true, submitted["answerTrue"])
	bob.expect("QUESTION_SUBMITTED")

	alice.send(map[string]interface{}{"type": "START_GAME", "pin": pin})
	alice.expect("GAME_STARTED")
	started := bob.expect("GAME_STARTED")
	assert.Equal(t, "inProgress", gameOf(t, started)["state"])

	bob.send(map[string]interface{}{"type": "ANSWER", "pin": pin, "correct": true})
	for _, c := range []*testClient{alice, bob} {
		update := c.expect("SCORE_UPDATE")
		assert.Equal(t, "Bob", update["answeredBy"])
		assert.Equal(t, true, update["correct"])
		assert.Nil(t, update["duplicate"])
		g := gameOf(t, update)
		assert.Equal(t, float64(0), scoreOf(t, g, "Alice"))
		assert.Equal(t, float64(100), scoreOf(t, g, "Bob"))
	}

	alice.send(map[string]interface{}{"type": "NEXT_QUESTION", "pin": pin})
	for _, c := range []*testClient{alice, bob} {
		ended := c.expect("GAME_ENDED")
		assert.Equal(t, "ended", gameOf(t, ended)["state"])
	}
}

func TestNonHostCannotStart(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})
	bob.expect("JOINED_GAME")
	bob.expect("PLAYER_JOINED")
	alice.expect("PLAYER_JOINED")

	bob.send(map[string]interface{}{"type": "START_GAME", "pin": pin})
	errFrame := bob.expect("ERROR")
	assert.Equal(t, "Only host can start", errFrame["message"])

	// A per-sender fence: if the failed start had broadcast anything,
	// alice would see it before this GAMES_LIST reply.
	alice.send(map[string]interface{}{"type": "LIST_GAMES"})
	alice.expect("GAMES_LIST")

	g, ok := s.Registry().Get(pin)
	require.True(t, ok)
	assert.Equal(t, game.StateLobby, g.State)
}

func TestStartWithNoQuestions(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	alice.send(map[string]interface{}{"type": "START_GAME", "pin": pin})
	errFrame := alice.expect("ERROR")
	assert.Equal(t, "Add at least 1 question before starting", errFrame["message"])

	g, _ := s.Registry().Get(pin)
	assert.Equal(t, game.StateLobby, g.State)
}

func TestDuplicateAnswer(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)
	alice.send(map[string]interface{}{
		"type": "SUBMIT_QUESTION", "pin": pin, "question": "q", "answerTrue": true,
	})
	alice.expect("QUESTION_SUBMITTED")
	alice.send(map[string]interface{}{"type": "START_GAME", "pin": pin})
	alice.expect("GAME_STARTED")

	alice.send(map[string]interface{}{"type": "ANSWER", "pin": pin, "correct": "true"})
	first := alice.expect("SCORE_UPDATE")
	assert.Nil(t, first["duplicate"])
	assert.Equal(t, float64(100), scoreOf(t, gameOf(t, first), "Alice"))

	alice.send(map[string]interface{}{"type": "ANSWER", "pin": pin, "correct": true})
	second := alice.expect("SCORE_UPDATE")
	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, float64(100), scoreOf(t, gameOf(t, second), "Alice"),
		"duplicate answer must not change the score")
}

func TestHostLeavesLobby(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})
	bob.expect("JOINED_GAME")
	bob.expect("PLAYER_JOINED")
	alice.expect("PLAYER_JOINED")

	carol := dial(t, s)
	carol.register("Carol")
	carol.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})
	carol.expect("JOINED_GAME")
	carol.expect("PLAYER_JOINED")
	bob.expect("PLAYER_JOINED")
	alice.expect("PLAYER_JOINED")

	alice.send(map[string]interface{}{"type": "EXIT_GAME", "pin": pin})
	for _, c := range []*testClient{bob, carol} {
		left := c.expect("PLAYER_LEFT")
		g := gameOf(t, left)
		assert.Equal(t, "Bob", g["host"], "first remaining player becomes host")
		assert.Equal(t, []string{"Bob", "Carol"}, playersOf(t, g))
	}
}

func TestLastPlayerExitDeletesGame(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	alice.send(map[string]interface{}{"type": "EXIT_GAME", "pin": pin})
	alice.send(map[string]interface{}{"type": "LIST_GAMES"})
	alice.expect("GAMES_LIST")

	_, ok := s.Registry().Get(pin)
	assert.False(t, ok, "empty game must be deleted")
}

func TestListGamesHygiene(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	publicPin := createGame(t, alice, map[string]interface{}{"isPublic": true})

	dave := dial(t, s)
	dave.register("Dave")
	createGame(t, dave, map[string]interface{}{"isPublic": false})

	alice.send(map[string]interface{}{"type": "LIST_GAMES"})
	list := alice.expect("GAMES_LIST")
	games, ok := list["games"].([]interface{})
	require.True(t, ok)
	require.Len(t, games, 1, "only public lobby games are listed")
	assert.Equal(t, publicPin, games[0].(map[string]interface{})["pin"])
}

func TestJoinFullGame(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, map[string]interface{}{"maxPlayers": 1})

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})
	errFrame := bob.expect("ERROR")
	assert.Equal(t, "Game is full", errFrame["message"])

	g, _ := s.Registry().Get(pin)
	assert.Equal(t, []string{"Alice"}, g.Players)
}

func TestJoinMissingGame(t *testing.T) {
	s := startServer(t)

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": "000000"})
	errFrame := bob.expect("ERROR")
	assert.Equal(t, "Game not found", errFrame["message"])
}

func TestEndGameIdempotent(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	alice.send(map[string]interface{}{"type": "END_GAME", "pin": pin})
	alice.expect("GAME_ENDED")

	g, _ := s.Registry().Get(pin)
	endedAt := g.EndedAt

	// The second END_GAME neither re-broadcasts nor moves EndedAt; the
	// GAMES_LIST reply arriving next proves no GAME_ENDED was queued.
	alice.send(map[string]interface{}{"type": "END_GAME", "pin": pin})
	alice.send(map[string]interface{}{"type": "LIST_GAMES"})
	alice.expect("GAMES_LIST")
	assert.Equal(t, endedAt, g.EndedAt)
}

func TestChatBroadcast(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})
	bob.expect("JOINED_GAME")
	bob.expect("PLAYER_JOINED")
	alice.expect("PLAYER_JOINED")

	alice.send(map[string]interface{}{"type": "CHAT", "pin": pin, "message": "hello"})
	for _, c := range []*testClient{alice, bob} {
		chat := c.expect("CHAT")
		assert.Equal(t, "Alice", chat["from"])
		assert.Equal(t, "hello", chat["message"])
	}
}

func TestUnknownType(t *testing.T) {
	s := startServer(t)

	c := dial(t, s)
	c.send(map[string]interface{}{"type": "BOGUS"})
	errFrame := c.expect("ERROR")
	assert.Equal(t, "Unknown type: BOGUS", errFrame["message"])
}

func TestCreateGameRequiresRegistration(t *testing.T) {
	s := startServer(t)

	c := dial(t, s)
	c.send(map[string]interface{}{"type": "CREATE_GAME"})
	errFrame := c.expect("ERROR")
	assert.Contains(t, errFrame["message"], "Register")
}

func TestHTTPProbeTerminatesConnection(t *testing.T) {
	s := startServer(t)

	c := dial(t, s)
	c.sendRaw("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")

	require.NoError(t, c.nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.br.ReadByte()
	assert.ErrorIs(t, err, io.EOF, "server must close the connection on an HTTP probe")
}

func TestNoiseFramesAreIgnored(t *testing.T) {
	s := startServer(t)

	c := dial(t, s)
	c.sendRaw("hello server\n\n{broken json\n")
	c.register("Alice") // connection still fully usable
}

func TestDisconnectDoesNotTouchGameState(t *testing.T) {
	s := startServer(t)

	alice := dial(t, s)
	alice.register("Alice")
	pin := createGame(t, alice, nil)

	bob := dial(t, s)
	bob.register("Bob")
	bob.send(map[string]interface{}{"type": "JOIN_GAME", "pin": pin})
	bob.expect("JOINED_GAME")
	bob.expect("PLAYER_JOINED")
	alice.expect("PLAYER_JOINED")

	// A dropped socket is not an EXIT_GAME: the bridge owns many user
	// identities per connection.
	bob.nc.Close()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	g, ok := s.Registry().Get(pin)
	require.True(t, ok)
	assert.Equal(t, []string{"Alice", "Bob"}, g.Players)
}
