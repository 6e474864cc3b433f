// Package game implements the session coordinator: the state machine that
// owns registration, the question timeline, scoring, and broadcast fan-out.
// Two configurations share the machinery: Session serves the connectionless
// transport, HostedSession layers host arbitration on top for the
// connection-oriented one.
package game

import (
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"quiznet/internal/domain"
	"quiznet/internal/protocol"
)

// Sender delivers one encoded message to one client. Implemented by the
// transport adapters; sends are fire-and-forget apart from the returned error,
// which the coordinator uses to evict dead connection-oriented clients.
type Sender interface {
	Send(id PlayerID, msg protocol.Message) error
}

// Config wires a session to its transport and fixes the game's timing.
type Config struct {
	Sender    Sender
	Questions []domain.Question

	// TimeLimit is the answer window per round; RoundPause the gap between
	// rounds.
	TimeLimit  time.Duration
	RoundPause time.Duration

	// Rebroadcast repeats the in-flight question at this interval during the
	// answer window. Zero disables it; only the connectionless transport
	// sets it.
	Rebroadcast time.Duration

	// DropOnSendError evicts clients whose broadcast writes fail. The
	// connection-oriented transport sets it; the connectionless one never
	// purges silent clients.
	DropOnSendError bool

	// IncludeAddresses adds each player's address to the final leaderboard,
	// matching the connectionless variant where the address is the identity.
	IncludeAddresses bool

	// Now is the clock; tests inject a deterministic one.
	Now func() time.Time
}

// Session is the single-instance coordinator for one transport. All state is
// guarded by mu; handlers run their full read-decide-mutate-broadcast cycle
// under it.
type Session struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	registry   *Registry
	active     bool
	round      int
	roundStart time.Time
	stop       chan struct{}

	// afterRemove runs under mu whenever a player leaves the registry;
	// HostedSession hooks host re-election here.
	afterRemove func(id PlayerID)
	// onEvict runs under mu when the coordinator drops a client after a
	// failed write, letting the transport close the underlying connection.
	onEvict func(id PlayerID)
}

func NewSession(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		cfg:      cfg,
		now:      cfg.Now,
		registry: NewRegistry(),
	}
}

// OnEvict installs the transport's cleanup hook for clients dropped after
// write failures. Call before serving traffic.
func (s *Session) OnEvict(fn func(id PlayerID)) {
	s.onEvict = fn
}

// Register handles a register message. Allowed only while no game is active;
// mid-game attempts get an error reply and no state change.
func (s *Session) Register(id PlayerID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, count, ok := s.registerLocked(id, name)
	if !ok {
		return
	}
	s.sendLocked(id, protocol.TypeRegistered, protocol.RegisteredData{
		Message:     "Welcome " + p.Name + "!",
		PlayerCount: count,
	})
	s.dropLocked(s.broadcastLocked(protocol.TypePlayerJoined, protocol.PlayerJoinedData{
		PlayerName:   p.Name,
		TotalPlayers: count,
	}, id))
}

// registerLocked performs the shared registration mutation and returns ok
// false (after replying with an error) when a game is in progress.
func (s *Session) registerLocked(id PlayerID, name string) (*Player, int, bool) {
	if s.active {
		s.sendLocked(id, protocol.TypeError, protocol.ErrorData{Message: "Game already in progress"})
		return nil, 0, false
	}
	p := s.registry.Upsert(id, name)
	p.Score = 0
	p.Answers = nil
	log.Printf("player %s (%s) registered", p.Name, id)
	return p, s.registry.Named(), true
}

// Start handles a start_game message. On the connectionless transport any
// registered client may start; unknown sources were already filtered by the
// adapter, but an unregistered identity still gets an explicit rejection.
func (s *Session) Start(id PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registry.Get(id); !ok {
		s.sendLocked(id, protocol.TypeError, protocol.ErrorData{Message: "Not registered"})
		return
	}
	s.startLocked(id)
}

// startLocked begins a new game. Callers hold mu and have already authorized
// the requester.
func (s *Session) startLocked(id PlayerID) {
	if s.active || s.registry.Named() == 0 || len(s.cfg.Questions) == 0 {
		s.sendLocked(id, protocol.TypeError, protocol.ErrorData{Message: "Cannot start game now"})
		return
	}
	s.active = true
	s.round = 0
	// An answer can land between game_start and the timeline's first
	// question broadcast; it must not be timed against the previous game.
	s.roundStart = s.now()
	for _, p := range s.registry.Players() {
		p.Score = 0
		p.Answers = nil
	}
	log.Printf("game started with %d players, %d questions", s.registry.Named(), len(s.cfg.Questions))
	s.dropLocked(s.broadcastLocked(protocol.TypeGameStart, protocol.GameStartData{
		Message:        "Game starting!",
		TotalQuestions: len(s.cfg.Questions),
	}))
	s.stop = make(chan struct{})
	go s.runTimeline(s.stop)
}

// SubmitAnswer handles an answer message. Duplicate and late submissions are
// dropped silently: under the connectionless transport a lost ack can cause
// legitimate retransmissions, so no error must be signalled.
func (s *Session) SubmitAnswer(id PlayerID, letter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.registry.Get(id)
	if !ok {
		return
	}
	if !s.active || s.round >= len(s.cfg.Questions) {
		return
	}
	if _, answered := p.Answers[s.round]; answered {
		return // at most one answer per round
	}

	letter = strings.ToUpper(strings.TrimSpace(letter))
	q := s.cfg.Questions[s.round]
	correct := letter == strings.TrimSpace(q.Answer)
	elapsed := s.now().Sub(s.roundStart).Seconds()
	if p.Answers == nil {
		p.Answers = make(map[int]AnswerRecord)
	}
	p.Answers[s.round] = AnswerRecord{Letter: letter, Elapsed: elapsed}

	points := 0
	if correct {
		points = Score(s.cfg.TimeLimit, elapsed)
		p.Score += points
	}
	s.sendLocked(id, protocol.TypeAnswerResult, protocol.AnswerResultData{
		Correct:       correct,
		CorrectAnswer: q.Answer,
		Points:        points,
		TotalScore:    p.Score,
		TimeTaken:     math.Round(elapsed*100) / 100,
	})
}

// Status handles a get_status query without mutating state.
func (s *Session) Status(id PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(id, protocol.TypeStatus, protocol.StatusData{
		ActiveGame:      s.active,
		PlayerCount:     s.registry.Named(),
		CurrentQuestion: s.round,
	})
}

// Registered reports whether the identity has joined; the connectionless
// adapter uses it to ignore answer/start datagrams from unknown sources.
func (s *Session) Registered(id PlayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.registry.Get(id)
	return ok && p.Name != ""
}

// PlayerCount reports the current registry size.
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

// Broadcast fans one message out to every registered client; the
// connectionless transport uses it for heartbeats.
func (s *Session) Broadcast(t protocol.Type, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(s.broadcastLocked(t, data))
}

// Close halts any running timeline; the next game starts from a clean lobby.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// runTimeline drives the rounds of one game. It owns no state directly:
// every wake point re-acquires the lock and re-checks active so a Close
// mid-game stops it at the next transition.
func (s *Session) runTimeline(stop chan struct{}) {
	total := len(s.cfg.Questions)
	for i := 0; i < total; i++ {
		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			return
		}
		s.round = i
		s.roundStart = s.now()
		q := s.cfg.Questions[i]
		data := protocol.QuestionData{
			QuestionNumber: i + 1,
			TotalQuestions: total,
			Question:       q.Text,
			Options:        q.Options,
			TimeLimit:      int(s.cfg.TimeLimit / time.Second),
		}
		s.dropLocked(s.broadcastLocked(protocol.TypeQuestion, data))
		s.mu.Unlock()

		if !s.answerWindow(stop, data) {
			return
		}

		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			return
		}
		s.dropLocked(s.broadcastLocked(protocol.TypeQuestionEnd, protocol.QuestionEndData{
			CorrectAnswer:  q.Answer,
			QuestionNumber: i + 1,
		}))
		s.dropLocked(s.broadcastLocked(protocol.TypeLeaderboard, protocol.LeaderboardData{
			Leaderboard: s.leaderboardLocked(false),
			Round:       i + 1,
			TotalRounds: total,
		}))
		s.mu.Unlock()

		if i < total-1 {
			select {
			case <-time.After(s.cfg.RoundPause):
			case <-stop:
				return
			}
		}
	}
	s.finish()
}

// answerWindow waits out one round's time limit, rebroadcasting the question
// at the configured interval to mitigate datagram loss. Returns false if the
// game was stopped.
func (s *Session) answerWindow(stop chan struct{}, q protocol.QuestionData) bool {
	deadline := time.After(s.cfg.TimeLimit)
	if s.cfg.Rebroadcast <= 0 {
		select {
		case <-deadline:
			return true
		case <-stop:
			return false
		}
	}
	tick := time.NewTicker(s.cfg.Rebroadcast)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return true
		case <-stop:
			return false
		case <-tick.C:
			s.mu.Lock()
			if s.active {
				log.Printf("rebroadcast question %d", q.QuestionNumber)
				s.broadcastLocked(protocol.TypeQuestion, q)
			}
			s.mu.Unlock()
		}
	}
}

// finish closes the game: final leaderboard out, state back to lobby.
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.round = 0
	s.stop = nil

	lb := s.leaderboardLocked(s.cfg.IncludeAddresses)
	for i, entry := range lb {
		log.Printf("final standings %d. %s: %d points", i+1, entry.Name, entry.Score)
	}
	s.dropLocked(s.broadcastLocked(protocol.TypeGameEnd, protocol.GameEndData{
		Leaderboard: lb,
		Message:     "Game finished!",
	}))
}

// leaderboardLocked snapshots standings sorted by score descending; ties keep
// registration order.
func (s *Session) leaderboardLocked(withAddresses bool) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, s.registry.Len())
	for _, p := range s.registry.Players() {
		if p.Name == "" {
			continue
		}
		entry := domain.LeaderboardEntry{Name: p.Name, Score: p.Score}
		if withAddresses {
			entry.Address = string(p.ID)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

// broadcastLocked writes to an insertion-ordered snapshot of the registry and
// returns the identities whose writes failed; the batch always completes.
func (s *Session) broadcastLocked(t protocol.Type, data any, exclude ...PlayerID) []PlayerID {
	msg := protocol.Message{Type: t, Data: data, Timestamp: timestamp(s.now())}
	var failed []PlayerID
	for _, p := range s.registry.Players() {
		if excluded(p.ID, exclude) {
			continue
		}
		if err := s.cfg.Sender.Send(p.ID, msg); err != nil {
			log.Printf("broadcast %s to %s: %v", t, p.ID, err)
			failed = append(failed, p.ID)
		}
	}
	return failed
}

// sendLocked replies to a single client; a failed direct write is only
// logged, the read loop notices the dead peer soon enough.
func (s *Session) sendLocked(id PlayerID, t protocol.Type, data any) {
	msg := protocol.Message{Type: t, Data: data, Timestamp: timestamp(s.now())}
	if err := s.cfg.Sender.Send(id, msg); err != nil {
		log.Printf("send %s to %s: %v", t, id, err)
	}
}

// dropLocked evicts clients that failed a broadcast write when the transport
// wants that (connection-oriented only).
func (s *Session) dropLocked(failed []PlayerID) {
	if !s.cfg.DropOnSendError {
		return
	}
	for _, id := range failed {
		s.removeLocked(id)
	}
}

func (s *Session) removeLocked(id PlayerID) {
	if !s.registry.Remove(id) {
		return
	}
	if s.onEvict != nil {
		s.onEvict(id)
	}
	if s.afterRemove != nil {
		s.afterRemove(id)
	}
}

// Score awards speed-scaled points for a correct answer: at least 1 inside
// the window, one extra point per 5 unspent seconds, 0 once the window has
// passed.
func Score(limit time.Duration, elapsed float64) int {
	remaining := limit.Seconds() - elapsed
	if remaining < 0 {
		return 0
	}
	points := int(remaining/5) + 1
	if points < 1 {
		points = 1
	}
	return points
}

func timestamp(t time.Time) float64 {
	return protocol.Timestamp(t)
}

func excluded(id PlayerID, exclude []PlayerID) bool {
	for _, other := range exclude {
		if id == other {
			return true
		}
	}
	return false
}
