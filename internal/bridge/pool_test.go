// internal/bridge/pool_test.go
package bridge

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizwire/quizwire/internal/protocol"
	"github.com/quizwire/quizwire/internal/server"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// startGameServer runs a real game server on a loopback port.
func startGameServer(t *testing.T) *server.Server {
	t.Helper()
	s := server.New(quietLogger())
	require.NoError(t, s.Listen("127.0.0.1:0"))
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPool(t *testing.T, addr string) (*Pool, *Hub) {
	t.Helper()
	hub := NewHub(quietLogger())
	pool := NewPool(addr, hub, quietLogger())
	t.Cleanup(pool.Close)
	return pool, hub
}

func TestConnectRegistersSession(t *testing.T) {
	gs := startGameServer(t)
	pool, _ := newTestPool(t, gs.Addr().String())

	require.NoError(t, pool.Connect("alice"))
	s, ok := pool.Session("alice")
	require.True(t, ok)
	assert.True(t, s.Connected())

	// reconnecting reuses the live session
	require.NoError(t, pool.Connect("alice"))
	again, _ := pool.Session("alice")
	assert.Same(t, s, again)
}

func TestConnectIsPerUsername(t *testing.T) {
	gs := startGameServer(t)
	pool, _ := newTestPool(t, gs.Addr().String())

	require.NoError(t, pool.Connect("alice"))
	require.NoError(t, pool.Connect("bob"))

	a, _ := pool.Session("alice")
	b, _ := pool.Session("bob")
	assert.NotSame(t, a, b)
}

func TestConnectReplacesStaleSession(t *testing.T) {
	gs := startGameServer(t)
	pool, _ := newTestPool(t, gs.Addr().String())

	require.NoError(t, pool.Connect("alice"))
	stale, _ := pool.Session("alice")
	stale.Close()
	require.Eventually(t, func() bool { return !stale.Connected() },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, pool.Connect("alice"))
	fresh, ok := pool.Session("alice")
	require.True(t, ok)
	assert.NotSame(t, stale, fresh)
	assert.True(t, fresh.Connected())
}

func TestConnectUnreachableServer(t *testing.T) {
	pool, _ := newTestPool(t, "127.0.0.1:1")

	err := pool.Connect("alice")
	require.Error(t, err)
	_, ok := pool.Session("alice")
	assert.False(t, ok)
}

func TestRequestCorrelatesReply(t *testing.T) {
	gs := startGameServer(t)
	pool, _ := newTestPool(t, gs.Addr().String())
	require.NoError(t, pool.Connect("alice"))
	s, _ := pool.Session("alice")

	reply, err := s.Request(map[string]interface{}{
		"type": protocol.TypeCreateGame,
	}, protocol.TypeGameCreated, nil)
	require.NoError(t, err)

	game, ok := reply["game"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", game["host"])
}

func TestRequestPredicateSkipsNonMatching(t *testing.T) {
	gs := startGameServer(t)
	pool, hub := newTestPool(t, gs.Addr().String())
	require.NoError(t, pool.Connect("alice"))
	s, _ := pool.Session("alice")

	events := hub.Subscribe("alice")
	defer hub.Unsubscribe("alice", events)

	old := RequestTimeout
	RequestTimeout = 500 * time.Millisecond
	defer func() { RequestTimeout = old }()

	// The predicate rejects every frame, so even though a GAME_CREATED
	// does arrive (visible on the hub), the request times out.
	done := make(chan error, 1)
	go func() {
		_, err := s.Request(map[string]interface{}{
			"type": protocol.TypeCreateGame,
		}, protocol.TypeGameCreated, func(map[string]interface{}) bool { return false })
		done <- err
	}()

	select {
	case data := <-events:
		assert.Contains(t, string(data), protocol.TypeGameCreated)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the hub")
	}

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	gs := startGameServer(t)
	pool, _ := newTestPool(t, gs.Addr().String())
	require.NoError(t, pool.Connect("alice"))
	s, _ := pool.Session("alice")

	old := RequestTimeout
	RequestTimeout = 100 * time.Millisecond
	defer func() { RequestTimeout = old }()

	// CHAT on an unknown pin draws an ERROR frame, never a GAMES_LIST.
	_, err := s.Request(map[string]interface{}{
		"type": protocol.TypeChat,
		"pin":  "000000",
	}, protocol.TypeGamesList, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for GAMES_LIST")
}

func TestSessionLossPublishesError(t *testing.T) {
	gs := startGameServer(t)
	pool, hub := newTestPool(t, gs.Addr().String())
	require.NoError(t, pool.Connect("alice"))
	s, _ := pool.Session("alice")

	events := hub.Subscribe("alice")
	defer hub.Unsubscribe("alice", events)

	s.Close()

	select {
	case data := <-events:
		assert.Contains(t, string(data), "Game server connection lost")
	case <-time.After(2 * time.Second):
		t.Fatal("no ERROR event after connection loss")
	}
	assert.False(t, s.Connected())
}

func TestFramesFlowToHub(t *testing.T) {
	gs := startGameServer(t)
	pool, hub := newTestPool(t, gs.Addr().String())
	require.NoError(t, pool.Connect("alice"))
	s, _ := pool.Session("alice")

	events := hub.Subscribe("alice")
	defer hub.Unsubscribe("alice", events)

	require.NoError(t, s.Send(map[string]interface{}{"type": protocol.TypeListGames}))

	select {
	case data := <-events:
		assert.Contains(t, string(data), protocol.TypeGamesList)
	case <-time.After(2 * time.Second):
		t.Fatal("GAMES_LIST never reached the hub")
	}
}
