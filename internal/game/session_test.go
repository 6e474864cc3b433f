package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"quiznet/internal/domain"
	"quiznet/internal/protocol"
)

type sent struct {
	id  PlayerID
	msg protocol.Message
}

// captureSender records everything the coordinator sends and can be told to
// fail writes for specific clients.
type captureSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[PlayerID]bool
}

func newCaptureSender() *captureSender {
	return &captureSender{fail: make(map[PlayerID]bool)}
}

func (c *captureSender) Send(id PlayerID, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[id] {
		return domain.ErrUnknownClient
	}
	c.sent = append(c.sent, sent{id: id, msg: msg})
	return nil
}

func (c *captureSender) to(id PlayerID) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, s := range c.sent {
		if s.id == id {
			out = append(out, s.msg)
		}
	}
	return out
}

func (c *captureSender) lastTo(t *testing.T, id PlayerID, want protocol.Type) protocol.Message {
	t.Helper()
	msgs := c.to(id)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == want {
			return msgs[i]
		}
	}
	t.Fatalf("no %s message sent to %s", want, id)
	return protocol.Message{}
}

func (c *captureSender) countTo(id PlayerID, want protocol.Type) int {
	n := 0
	for _, m := range c.to(id) {
		if m.Type == want {
			n++
		}
	}
	return n
}

func questionsFixture() []domain.Question {
	return []domain.Question{
		{Text: "What is 2+2?", Options: []string{"A. 3", "B. 4", "C. 5", "D. 6"}, Answer: "B"},
		{Text: "Capital of France?", Options: []string{"A. Paris", "B. Rome", "C. Oslo", "D. Bern"}, Answer: "A"},
		{Text: "Largest ocean?", Options: []string{"A. Atlantic", "B. Arctic", "C. Pacific", "D. Indian"}, Answer: "C"},
	}
}

func newTestSession(sender Sender, now func() time.Time) *Session {
	return NewSession(Config{
		Sender:    sender,
		Questions: questionsFixture(),
		TimeLimit: 10 * time.Second,
		Now:       now,
	})
}

// beginRound forces the session into RoundActive without the real timeline so
// scoring can use a deterministic clock.
func beginRound(s *Session, round int, startedAt time.Time) {
	s.mu.Lock()
	s.active = true
	s.round = round
	s.roundStart = startedAt
	s.mu.Unlock()
}

func TestScoreFormula(t *testing.T) {
	limit := 10 * time.Second
	cases := []struct {
		elapsed float64
		want    int
	}{
		{0, 3},
		{2, 2},
		{4.9, 2},
		{5, 2},
		{9.9, 1},
		{10, 1},
		{10.5, 0},
		{30, 0},
	}
	for _, tc := range cases {
		if got := Score(limit, tc.elapsed); got != tc.want {
			t.Fatalf("Score(%v, %v) = %d, want %d", limit, tc.elapsed, got, tc.want)
		}
	}
}

func TestAnswerScoredBySpeed(t *testing.T) {
	base := time.Now()
	sender := newCaptureSender()
	s := newTestSession(sender, func() time.Time { return base })

	s.Register("p1", "Alice")
	beginRound(s, 0, base.Add(-2*time.Second))

	s.SubmitAnswer("p1", " b ")

	result := sender.lastTo(t, "p1", protocol.TypeAnswerResult)
	data := result.Data.(protocol.AnswerResultData)
	if !data.Correct {
		t.Fatalf("expected correct answer, got %+v", data)
	}
	if data.Points != 2 || data.TotalScore != 2 {
		t.Fatalf("expected 2 points at elapsed=2s, got %+v", data)
	}
	if data.TimeTaken != 2 {
		t.Fatalf("expected time_taken 2, got %v", data.TimeTaken)
	}
}

func TestIncorrectAnswerAwardsNothing(t *testing.T) {
	base := time.Now()
	sender := newCaptureSender()
	s := newTestSession(sender, func() time.Time { return base })

	s.Register("p1", "Alice")
	beginRound(s, 0, base)

	s.SubmitAnswer("p1", "D")

	data := sender.lastTo(t, "p1", protocol.TypeAnswerResult).Data.(protocol.AnswerResultData)
	if data.Correct || data.Points != 0 || data.TotalScore != 0 {
		t.Fatalf("expected zero-point incorrect result, got %+v", data)
	}
}

func TestLateAnswerAwardsNothing(t *testing.T) {
	base := time.Now()
	sender := newCaptureSender()
	s := newTestSession(sender, func() time.Time { return base })

	s.Register("p1", "Alice")
	beginRound(s, 0, base.Add(-11*time.Second))

	s.SubmitAnswer("p1", "B")

	data := sender.lastTo(t, "p1", protocol.TypeAnswerResult).Data.(protocol.AnswerResultData)
	if !data.Correct {
		t.Fatalf("letter was correct, got %+v", data)
	}
	if data.Points != 0 || data.TotalScore != 0 {
		t.Fatalf("expected no points past the window, got %+v", data)
	}
}

func TestDuplicateAnswerIsIdempotent(t *testing.T) {
	base := time.Now()
	sender := newCaptureSender()
	s := newTestSession(sender, func() time.Time { return base })

	s.Register("p1", "Alice")
	beginRound(s, 0, base)

	s.SubmitAnswer("p1", "B")
	s.SubmitAnswer("p1", "B") // duplicate delivery
	s.SubmitAnswer("p1", "A") // changed mind, still rejected

	if n := sender.countTo("p1", protocol.TypeAnswerResult); n != 1 {
		t.Fatalf("expected exactly one answer_result, got %d", n)
	}
	p, _ := s.registry.Get("p1")
	if p.Score != 3 {
		t.Fatalf("expected score applied exactly once (3), got %d", p.Score)
	}
	if len(p.Answers) != 1 {
		t.Fatalf("expected one recorded answer, got %d", len(p.Answers))
	}
}

func TestAnswerOncePerRoundAfterSkippedRound(t *testing.T) {
	base := time.Now()
	sender := newCaptureSender()
	s := newTestSession(sender, func() time.Time { return base })

	s.Register("p1", "Alice")
	beginRound(s, 0, base)
	// No answer for round 0.
	beginRound(s, 1, base)
	s.SubmitAnswer("p1", "A")
	s.SubmitAnswer("p1", "A")

	if n := sender.countTo("p1", protocol.TypeAnswerResult); n != 1 {
		t.Fatalf("expected one accepted answer for round 1, got %d", n)
	}
}

func TestStartResetsRoundClock(t *testing.T) {
	base := time.Now()
	sender := newCaptureSender()
	s := newTestSession(sender, func() time.Time { return base })

	s.Register("p1", "Alice")
	// Leave a stale round clock behind from an earlier game.
	beginRound(s, 0, base.Add(-time.Hour))
	s.Close()

	s.Start("p1")
	s.SubmitAnswer("p1", "B")

	data := sender.lastTo(t, "p1", protocol.TypeAnswerResult).Data.(protocol.AnswerResultData)
	if !data.Correct || data.Points != 3 {
		t.Fatalf("answer before the first question broadcast must score against the fresh clock, got %+v", data)
	}
	if data.TimeTaken != 0 {
		t.Fatalf("expected time_taken 0, got %v", data.TimeTaken)
	}
	s.Close()
}

func TestAnswerIgnoredInLobby(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	s.SubmitAnswer("p1", "B")

	if n := sender.countTo("p1", protocol.TypeAnswerResult); n != 0 {
		t.Fatalf("expected no answer_result without an active round, got %d", n)
	}
	if n := sender.countTo("p1", protocol.TypeError); n != 0 {
		t.Fatalf("late/idle answers must be dropped silently, got %d errors", n)
	}
}

func TestRegisterRejectedMidGame(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	beginRound(s, 0, time.Now())
	s.Register("p2", "Bob")

	errMsg := sender.lastTo(t, "p2", protocol.TypeError).Data.(protocol.ErrorData)
	if errMsg.Message != "Game already in progress" {
		t.Fatalf("unexpected error message %q", errMsg.Message)
	}
	if _, ok := s.registry.Get("p2"); ok {
		t.Fatalf("rejected registration must not mutate the registry")
	}
}

func TestStartRejectedWhenUnregisteredOrActive(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Start("ghost")
	errMsg := sender.lastTo(t, "ghost", protocol.TypeError).Data.(protocol.ErrorData)
	if errMsg.Message != "Not registered" {
		t.Fatalf("unexpected error %q", errMsg.Message)
	}

	s.Register("p1", "Alice")
	beginRound(s, 0, time.Now())
	s.Start("p1")
	errMsg = sender.lastTo(t, "p1", protocol.TypeError).Data.(protocol.ErrorData)
	if errMsg.Message != "Cannot start game now" {
		t.Fatalf("unexpected error %q", errMsg.Message)
	}
}

func TestRegistrationBroadcastsJoinNotice(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	s.Register("p2", "Bob")

	joined := sender.lastTo(t, "p1", protocol.TypePlayerJoined).Data.(protocol.PlayerJoinedData)
	if joined.PlayerName != "Bob" || joined.TotalPlayers != 2 {
		t.Fatalf("unexpected join notice %+v", joined)
	}
	if n := sender.countTo("p2", protocol.TypePlayerJoined); n != 0 {
		t.Fatalf("join notice must exclude the registrant, got %d", n)
	}
	reg := sender.lastTo(t, "p2", protocol.TypeRegistered).Data.(protocol.RegisteredData)
	if reg.PlayerCount != 2 {
		t.Fatalf("expected player_count 2, got %+v", reg)
	}
}

func TestFinalLeaderboardSortedAndComplete(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	s.Register("p2", "Bob")
	s.Register("p3", "Carol")
	s.mu.Lock()
	s.active = true
	for id, score := range map[PlayerID]int{"p1": 2, "p2": 7, "p3": 4} {
		p, _ := s.registry.Get(id)
		p.Score = score
	}
	s.mu.Unlock()

	s.finish()

	end := sender.lastTo(t, "p1", protocol.TypeGameEnd).Data.(protocol.GameEndData)
	if len(end.Leaderboard) != 3 {
		t.Fatalf("expected one entry per registered player, got %d", len(end.Leaderboard))
	}
	wantOrder := []string{"Bob", "Carol", "Alice"}
	for i, want := range wantOrder {
		if end.Leaderboard[i].Name != want {
			t.Fatalf("position %d: got %s, want %s", i, end.Leaderboard[i].Name, want)
		}
	}
	if s.active {
		t.Fatalf("session must return to lobby after game end")
	}
}

func TestLeaderboardTiesKeepRegistrationOrder(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	s.Register("p2", "Bob")

	s.mu.Lock()
	lb := s.leaderboardLocked(false)
	s.mu.Unlock()
	if lb[0].Name != "Alice" || lb[1].Name != "Bob" {
		t.Fatalf("tied scores must keep registration order, got %+v", lb)
	}
}

func TestStatusReportsWithoutMutation(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	s.Status("p1")

	status := sender.lastTo(t, "p1", protocol.TypeStatus).Data.(protocol.StatusData)
	if status.ActiveGame || status.PlayerCount != 1 || status.CurrentQuestion != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestBroadcastDropsFailedClients(t *testing.T) {
	sender := newCaptureSender()
	s := NewSession(Config{
		Sender:          sender,
		Questions:       questionsFixture(),
		TimeLimit:       10 * time.Second,
		DropOnSendError: true,
		Now:             time.Now,
	})

	s.Register("p1", "Alice")
	s.Register("p2", "Bob")
	sender.mu.Lock()
	sender.fail["p2"] = true
	sender.mu.Unlock()

	s.Broadcast(protocol.TypeHeartbeat, protocol.HeartbeatData{Note: "x"})

	if _, ok := s.registry.Get("p2"); ok {
		t.Fatalf("failed broadcast target must be evicted")
	}
	if _, ok := s.registry.Get("p1"); !ok {
		t.Fatalf("healthy clients must survive a partial broadcast failure")
	}
}

func TestBroadcastKeepsFailedClientsOnLossyTransport(t *testing.T) {
	sender := newCaptureSender()
	s := newTestSession(sender, time.Now)

	s.Register("p1", "Alice")
	sender.mu.Lock()
	sender.fail["p1"] = true
	sender.mu.Unlock()

	s.Broadcast(protocol.TypeHeartbeat, protocol.HeartbeatData{Note: "x"})

	if _, ok := s.registry.Get("p1"); !ok {
		t.Fatalf("connectionless clients are never purged on send failure")
	}
}

func TestTimelineRunsAllRounds(t *testing.T) {
	sender := newCaptureSender()
	s := NewSession(Config{
		Sender:     sender,
		Questions:  questionsFixture()[:2],
		TimeLimit:  40 * time.Millisecond,
		RoundPause: 10 * time.Millisecond,
		Now:        time.Now,
	})

	s.Register("p1", "Alice")
	s.Start("p1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.countTo("p1", protocol.TypeGameEnd) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := sender.countTo("p1", protocol.TypeGameStart); n != 1 {
		t.Fatalf("expected one game_start, got %d", n)
	}
	if n := sender.countTo("p1", protocol.TypeQuestion); n != 2 {
		t.Fatalf("expected two question broadcasts, got %d", n)
	}
	if n := sender.countTo("p1", protocol.TypeQuestionEnd); n != 2 {
		t.Fatalf("expected two question_end broadcasts, got %d", n)
	}
	if n := sender.countTo("p1", protocol.TypeLeaderboard); n != 2 {
		t.Fatalf("expected a leaderboard after each round, got %d", n)
	}
	if n := sender.countTo("p1", protocol.TypeGameEnd); n != 1 {
		t.Fatalf("expected one game_end, got %d", n)
	}

	// Back in the lobby: a second game may start.
	s.Start("p1")
	if n := sender.countTo("p1", protocol.TypeGameStart); n != 2 {
		t.Fatalf("expected a fresh game to start after game end, got %d starts", n)
	}
	s.Close()
}

func TestTimelineRebroadcastsQuestions(t *testing.T) {
	sender := newCaptureSender()
	s := NewSession(Config{
		Sender:      sender,
		Questions:   questionsFixture()[:1],
		TimeLimit:   100 * time.Millisecond,
		Rebroadcast: 25 * time.Millisecond,
		Now:         time.Now,
	})

	s.Register("p1", "Alice")
	s.Start("p1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.countTo("p1", protocol.TypeGameEnd) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := sender.countTo("p1", protocol.TypeQuestion); n < 2 {
		t.Fatalf("expected the question to be rebroadcast during the window, got %d sends", n)
	}
}

func TestCloseStopsTimeline(t *testing.T) {
	sender := newCaptureSender()
	s := NewSession(Config{
		Sender:     sender,
		Questions:  questionsFixture(),
		TimeLimit:  50 * time.Millisecond,
		RoundPause: 10 * time.Millisecond,
		Now:        time.Now,
	})

	s.Register("p1", "Alice")
	s.Start("p1")
	s.Close()

	time.Sleep(200 * time.Millisecond)
	if n := sender.countTo("p1", protocol.TypeGameEnd); n != 0 {
		t.Fatalf("closed session must not finish the game, got %d game_end", n)
	}
}

// Marshalling one full envelope here keeps the session and protocol layers
// honest about the agreed field names.
func TestEnvelopeFieldNames(t *testing.T) {
	msg := protocol.Message{
		Type: protocol.TypeQuestion,
		Data: protocol.QuestionData{
			QuestionNumber: 1,
			TotalQuestions: 3,
			Question:       "What is 2+2?",
			Options:        []string{"A. 3", "B. 4"},
			TimeLimit:      10,
		},
		Timestamp: 1234.5,
	}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data object in %s", raw)
	}
	for _, field := range []string{"question_number", "total_questions", "question", "options", "time_limit"} {
		if _, ok := data[field]; !ok {
			t.Fatalf("missing field %s in %s", field, raw)
		}
	}
	if _, ok := decoded["seq"]; ok {
		t.Fatalf("seq must be omitted unless the connectionless transport set it")
	}
}
