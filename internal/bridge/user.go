// internal/bridge/user.go
package bridge

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/quizwire/quizwire/internal/auth"
	"github.com/quizwire/quizwire/internal/database"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupHandler creates an account. Usernames are unique; a conflict is 409.
func SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid payload"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "username and password required"})
		return
	}

	_, err := database.CreateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "username already taken"})
			return
		}
		log.Warnf("signup failed for %s: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "error creating user"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true})
}

// LoginHandler verifies credentials and returns a session token.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid payload"})
		return
	}

	u, token, err := database.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Infof("failed login for %s: %v", req.Username, err)
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "authentication failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":       u.ID,
			"username": u.Username,
		},
	})
}

// MeHandler returns the profile behind the bearer token.
func MeHandler(w http.ResponseWriter, r *http.Request) {
	tok := bearerToken(r)
	if tok == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "missing token"})
		return
	}
	sub, err := auth.VerifyToken(tok)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "invalid token"})
		return
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "invalid token subject"})
		return
	}

	u, err := database.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "user not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

// ScoreboardHandler lists the top ten winners.
func ScoreboardHandler(w http.ResponseWriter, r *http.Request) {
	users, err := database.TopWinners(r.Context(), 10)
	if err != nil {
		log.Warnf("scoreboard query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "scoreboard unavailable"})
		return
	}

	leaders := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		leaders = append(leaders, map[string]interface{}{
			"username": u.Username,
			"wins":     u.Wins,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaders": leaders})
}

// AwardWinnerHandler bumps a user's win counter after a game.
func AwardWinnerHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "username required"})
		return
	}

	if err := database.AwardWin(r.Context(), req.Username); err != nil {
		log.Warnf("awardWinner failed for %s: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "failed to award win"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
