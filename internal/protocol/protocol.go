// internal/protocol/protocol.go
//
// Package protocol defines the message types of the game-server wire
// protocol and the loose-typing helpers both sides use to read fields out
// of decoded frames.
package protocol

// Inbound message types (client -> server).
const (
	TypeRegister       = "REGISTER"
	TypeListGames      = "LIST_GAMES"
	TypeCreateGame     = "CREATE_GAME"
	TypeJoinGame       = "JOIN_GAME"
	TypeExitGame       = "EXIT_GAME"
	TypeSubmitQuestion = "SUBMIT_QUESTION"
	TypeStartGame      = "START_GAME"
	TypeAnswer         = "ANSWER"
	TypeNextQuestion   = "NEXT_QUESTION"
	TypeEndGame        = "END_GAME"
	TypeChat           = "CHAT"
)

// Outbound message types (server -> client). NEXT_QUESTION and CHAT reuse
// the inbound name.
const (
	TypeRegisterOK        = "REGISTER_OK"
	TypeGamesList         = "GAMES_LIST"
	TypeGameCreated       = "GAME_CREATED"
	TypeJoinedGame        = "JOINED_GAME"
	TypePlayerJoined      = "PLAYER_JOINED"
	TypePlayerLeft        = "PLAYER_LEFT"
	TypeQuestionSubmitted = "QUESTION_SUBMITTED"
	TypeGameStarted       = "GAME_STARTED"
	TypeScoreUpdate       = "SCORE_UPDATE"
	TypeGameEnded         = "GAME_ENDED"
	TypeError             = "ERROR"
)

// String returns m[key] as a string, or "" when absent or not a string.
func String(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns m[key] as an int, tolerating the float64 that encoding/json
// produces for numbers. def is returned when the field is absent or not
// numeric.
func Int(m map[string]interface{}, key string, def int) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

// Truthy applies plain JS-style truthiness: nil, false, 0 and "" are false,
// everything else is true.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

// CorrectValue coerces the ANSWER "correct" field. Only true, "true", 1 and
// "1" count as a correct answer.
func CorrectValue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case string:
		return t == "true" || t == "1"
	}
	return false
}
