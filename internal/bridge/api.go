// internal/bridge/api.go
package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quizwire/quizwire/internal/auth"
	"github.com/quizwire/quizwire/internal/database"
	"github.com/quizwire/quizwire/internal/middleware"
	"github.com/quizwire/quizwire/internal/protocol"
)

// APIServer is the bridge's HTTP surface: account endpoints, game endpoints
// forwarded over the session pool, and the per-user SSE stream.
type APIServer struct {
	pool   *Pool
	hub    *Hub
	logger *logrus.Logger
}

// NewAPIServer wires the HTTP surface to a pool and hub.
func NewAPIServer(pool *Pool, hub *Hub, logger *logrus.Logger) *APIServer {
	return &APIServer{pool: pool, hub: hub, logger: logger}
}

// Routes registers every /api endpoint on a fresh mux.
func (a *APIServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// account endpoints
	mux.HandleFunc("/api/signup", SignupHandler)
	mux.HandleFunc("/api/login", LoginHandler)
	mux.HandleFunc("/api/me", MeHandler)
	mux.HandleFunc("/api/scoreboard", ScoreboardHandler)
	mux.HandleFunc("/api/awardWinner", AwardWinnerHandler)

	// game endpoints
	mux.HandleFunc("/api/connect", a.handleConnect)
	mux.HandleFunc("/api/listGames", a.handleListGames)
	mux.HandleFunc("/api/createGame", a.handleCreateGame)
	mux.HandleFunc("/api/joinGame", a.handleJoinGame)
	mux.HandleFunc("/api/startGame", a.forward(buildStartGame))
	mux.HandleFunc("/api/exitGame", a.forward(buildExitGame))
	mux.HandleFunc("/api/sendAnswer", a.forward(buildAnswer))
	mux.HandleFunc("/api/nextQuestion", a.forward(buildNextQuestion))
	mux.HandleFunc("/api/endGame", a.forward(buildEndGame))
	mux.HandleFunc("/api/submitQuestion", a.forward(buildSubmitQuestion))
	mux.HandleFunc("/api/chat", a.forward(buildChat))

	// event stream
	mux.HandleFunc("/api/events", a.handleEvents)

	return mux
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Too late for a status change; nothing else to do.
		_ = err
	}
}

// decodeBody reads the request body as a loose JSON object. A missing or
// empty body yields an empty map.
func decodeBody(r *http.Request) map[string]interface{} {
	var m map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&m)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m
}

// bearerToken pulls the token out of an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// resolveUsername applies the resolution order: body username field (a
// string, or an object carrying one), then the X-Username header, then the
// bearer token's subject.
func (a *APIServer) resolveUsername(r *http.Request, body map[string]interface{}) string {
	switch u := body["username"].(type) {
	case string:
		if u != "" {
			return u
		}
	case map[string]interface{}:
		if s, ok := u["username"].(string); ok && s != "" {
			return s
		}
	}
	if u := r.Header.Get("X-Username"); u != "" {
		return u
	}
	if tok := bearerToken(r); tok != "" && database.DB != nil {
		if sub, err := auth.VerifyToken(tok); err == nil {
			if id, err := uuid.Parse(sub); err == nil {
				if u, err := database.GetUserByID(r.Context(), id); err == nil {
					return u.Username
				}
			}
		}
	}
	return ""
}

// pinFromBody accepts the PIN under either key the UI uses, as a string or
// a bare number.
func pinFromBody(body map[string]interface{}) string {
	for _, key := range []string{"pin", "gameId"} {
		switch v := body[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.Itoa(int(v))
		}
	}
	return ""
}

// session resolves the acting username and its live session, writing the
// 400 responses itself when either is missing.
func (a *APIServer) session(w http.ResponseWriter, r *http.Request, body map[string]interface{}) (*Session, string, bool) {
	username := a.resolveUsername(r, body)
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "username required"})
		return nil, "", false
	}
	sess, ok := a.pool.Session(username)
	if !ok || !sess.Connected() {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "Not connected"})
		return nil, "", false
	}
	return sess, username, true
}

// handleConnect establishes (or refreshes) the user's game-server session.
func (a *APIServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	username := a.resolveUsername(r, body)
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "username required"})
		return
	}
	if err := a.pool.Connect(username); err != nil {
		a.logger.Warnf("connect failed for %s: %v", username, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// handleListGames is a correlated call: LIST_GAMES out, GAMES_LIST back.
func (a *APIServer) handleListGames(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	sess, _, ok := a.session(w, r, body)
	if !ok {
		return
	}

	reply, err := sess.Request(map[string]interface{}{
		"type": protocol.TypeListGames,
	}, protocol.TypeGamesList, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "games": reply["games"]})
}

// handleCreateGame is a correlated call: CREATE_GAME out, GAME_CREATED back.
func (a *APIServer) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	sess, username, ok := a.session(w, r, body)
	if !ok {
		return
	}

	msg := map[string]interface{}{
		"type":     protocol.TypeCreateGame,
		"username": username,
	}
	for _, key := range []string{"theme", "isPublic", "maxPlayers"} {
		if v, present := body[key]; present {
			msg[key] = v
		}
	}

	reply, err := sess.Request(msg, protocol.TypeGameCreated, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "game": reply["game"]})
}

// handleJoinGame is a correlated call: the reply must be a JOINED_GAME whose
// game carries the requested PIN, so parallel joins by the same user do not
// cross wires.
func (a *APIServer) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	sess, username, ok := a.session(w, r, body)
	if !ok {
		return
	}
	pin := pinFromBody(body)
	if pin == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "gameId required"})
		return
	}

	reply, err := sess.Request(map[string]interface{}{
		"type":     protocol.TypeJoinGame,
		"pin":      pin,
		"username": username,
	}, protocol.TypeJoinedGame, func(m map[string]interface{}) bool {
		g, _ := m["game"].(map[string]interface{})
		return g != nil && protocol.String(g, "pin") == pin
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "game": reply["game"]})
}

// forward wraps the fire-and-forget endpoints: build the frame, send it,
// answer {ok:true}. Outcomes reach the browser over SSE.
func (a *APIServer) forward(build func(body map[string]interface{}, username string) (map[string]interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		sess, username, ok := a.session(w, r, body)
		if !ok {
			return
		}
		msg, err := build(body, username)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": err.Error()})
			return
		}
		if err := sess.Send(msg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	}
}

func buildStartGame(body map[string]interface{}, username string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":     protocol.TypeStartGame,
		"pin":      pinFromBody(body),
		"username": username,
	}, nil
}

func buildExitGame(body map[string]interface{}, username string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":     protocol.TypeExitGame,
		"pin":      pinFromBody(body),
		"username": username,
	}, nil
}

func buildAnswer(body map[string]interface{}, username string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":     protocol.TypeAnswer,
		"pin":      pinFromBody(body),
		"correct":  body["answer"],
		"username": username,
	}, nil
}

func buildNextQuestion(body map[string]interface{}, username string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":     protocol.TypeNextQuestion,
		"pin":      pinFromBody(body),
		"username": username,
	}, nil
}

func buildEndGame(body map[string]interface{}, username string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":     protocol.TypeEndGame,
		"pin":      pinFromBody(body),
		"username": username,
	}, nil
}

func buildSubmitQuestion(body map[string]interface{}, username string) (map[string]interface{}, error) {
	text, _ := body["question"].(string)
	if text == "" {
		return nil, fmt.Errorf("question required")
	}
	return map[string]interface{}{
		"type":       protocol.TypeSubmitQuestion,
		"pin":        pinFromBody(body),
		"question":   text,
		"answerTrue": body["answerTrue"],
		"username":   username,
	}, nil
}

func buildChat(body map[string]interface{}, username string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":     protocol.TypeChat,
		"pin":      pinFromBody(body),
		"message":  protocol.String(body, "message"),
		"username": username,
	}, nil
}

// handleEvents is the per-user SSE stream: every frame seen on the user's
// session is written as one data: line. The writer lives until the client
// hangs up.
func (a *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		username = a.resolveUsername(r, map[string]interface{}{})
	}
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "username required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := a.hub.Subscribe(username)
	defer a.hub.Unsubscribe(username, ch)

	middleware.LogSSEConnect(a.logger, r.RemoteAddr, username)
	defer middleware.LogSSEDisconnect(a.logger, r.RemoteAddr, username)

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
