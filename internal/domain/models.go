package domain

// Question is one entry of the question bank: the prompt text, the
// pre-labelled option lines ("A. ..."), and the letter of the correct option.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
}

// LeaderboardEntry is a snapshot-friendly view of a player's standing.
// Address is populated only by the connectionless coordinator's final
// leaderboard, where the network address is the player's identity.
type LeaderboardEntry struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Address string `json:"address,omitempty"`
}
