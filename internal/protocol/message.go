// Package protocol defines the wire envelope and the closed message
// catalogue spoken by both transports. Messages are UTF-8 JSON; the
// connection-oriented transport delimits them with a single newline byte,
// the connectionless transport sends exactly one message per datagram.
package protocol

import "quiznet/internal/domain"

// Type enumerates every message the protocol knows. Handlers switch over
// the full set and treat anything else as a protocol error.
type Type string

const (
	TypeRegister     Type = "register"
	TypeRegistered   Type = "registered"
	TypePlayerJoined Type = "player_joined"
	TypeStartGame    Type = "start_game"
	TypeGameStart    Type = "game_start"
	TypeQuestion     Type = "question"
	TypeAnswer       Type = "answer"
	TypeAnswerResult Type = "answer_result"
	TypeQuestionEnd  Type = "question_end"
	TypeLeaderboard  Type = "leaderboard"
	TypeGameEnd      Type = "game_end"
	TypeGetStatus    Type = "get_status"
	TypeStatus       Type = "status"
	TypeError        Type = "error"
	TypeHeartbeat    Type = "heartbeat"
	TypeHostUpdate   Type = "host_update"
	TypeDisconnected Type = "disconnected"
)

// RegisterData is sent by a client to claim a display name.
type RegisterData struct {
	Name string `json:"name"`
}

// RegisteredData acknowledges a registration on the connectionless transport.
type RegisteredData struct {
	Message     string `json:"message"`
	PlayerCount int    `json:"player_count"`
}

// HostRegisteredData acknowledges a registration on the connection-oriented
// transport, which additionally tells the client whether it holds the host role.
type HostRegisteredData struct {
	Message     string `json:"message"`
	PlayerCount int    `json:"player_count"`
	IsHost      bool   `json:"is_host"`
}

// PlayerJoinedData notifies everyone else that a player registered.
type PlayerJoinedData struct {
	PlayerName   string `json:"player_name"`
	TotalPlayers int    `json:"total_players"`
}

// GameStartData announces a new game to all clients.
type GameStartData struct {
	Message        string `json:"message,omitempty"`
	TotalQuestions int    `json:"total_questions"`
}

// QuestionData carries one round's question to all clients.
type QuestionData struct {
	QuestionNumber int      `json:"question_number"`
	TotalQuestions int      `json:"total_questions"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	TimeLimit      int      `json:"time_limit"`
}

// AnswerData is a client's answer submission, a single letter A-D.
type AnswerData struct {
	Answer string `json:"answer"`
}

// AnswerResultData privately reports the outcome of a submission.
type AnswerResultData struct {
	Correct       bool    `json:"correct"`
	CorrectAnswer string  `json:"correct_answer"`
	Points        int     `json:"points"`
	TotalScore    int     `json:"total_score"`
	TimeTaken     float64 `json:"time_taken"`
}

// QuestionEndData closes a round and reveals the correct answer.
type QuestionEndData struct {
	CorrectAnswer  string `json:"correct_answer"`
	QuestionNumber int    `json:"question_number"`
}

// LeaderboardData is the per-round standings snapshot.
type LeaderboardData struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	Round       int                       `json:"round"`
	TotalRounds int                       `json:"total_rounds"`
}

// GameEndData carries the final standings.
type GameEndData struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	Message     string                    `json:"message,omitempty"`
}

// StatusData answers a get_status query.
type StatusData struct {
	ActiveGame      bool `json:"active_game"`
	PlayerCount     int  `json:"player_count"`
	CurrentQuestion int  `json:"current_question"`
}

// ErrorData reports a protocol or state error to one client.
type ErrorData struct {
	Message string `json:"message"`
}

// HeartbeatData is the connectionless transport's idle liveness broadcast.
type HeartbeatData struct {
	Note string `json:"note"`
}

// HostUpdateData announces the newly elected host after a disconnect.
type HostUpdateData struct {
	HostName string `json:"host_name"`
}
