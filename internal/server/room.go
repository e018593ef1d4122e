package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

// player is a participant plus the battle bookkeeping kept for them
type player struct {
	protocol.Participant
	client   *Client
	score    int
	correct  int
	answered bool
}

// Room is one battle. All state is owned by the Run goroutine; the exported
// methods hand work to it.
type Room struct {
	ID int64

	log        *zap.Logger
	users      *UserManager
	minPlayers int
	questions  []bankQuestion
	tickRate   time.Duration

	actions chan func()
	done    chan struct{}

	players  map[int64]*player
	order    []int64
	status   protocol.BattleStatus
	current  int
	deadline time.Time
}

// NewRoom creates a new battle room
func NewRoom(id int64, cfg Config, users *UserManager, log *zap.Logger) *Room {
	return &Room{
		ID:         id,
		log:        log.With(zap.Int64("room_id", id)),
		users:      users,
		minPlayers: cfg.MinPlayers,
		questions:  questionsFor(cfg.QuestionsPerBattle),
		tickRate:   250 * time.Millisecond,
		actions:    make(chan func(), 64),
		done:       make(chan struct{}),
		players:    make(map[int64]*player),
		status:     protocol.StatusWaiting,
	}
}

// Run starts the room's main loop
func (r *Room) Run() {
	ticker := time.NewTicker(r.tickRate)
	defer ticker.Stop()

	for {
		select {
		case action := <-r.actions:
			action()

		case <-ticker.C:
			r.update()

		case <-r.done:
			return
		}
	}
}

func (r *Room) do(action func()) {
	select {
	case r.actions <- action:
	case <-r.done:
	}
}

func (r *Room) stop() {
	close(r.done)
}

// Join registers c as userID's connection and brings it up to date
func (r *Room) Join(c *Client, userID int64) {
	r.do(func() {
		if r.status == protocol.StatusFinished {
			r.resetBattle()
		}

		p, ok := r.players[userID]
		if !ok {
			p = &player{Participant: r.users.Profile(userID)}
			r.players[userID] = p
			r.order = append(r.order, userID)
			r.log.Info("player joined", zap.Int64("user_id", userID))
		} else {
			r.log.Info("player rejoined", zap.Int64("user_id", userID))
		}
		p.client = c

		r.broadcastParticipants()
		r.broadcast(protocol.KindStatus, protocol.StatusPayload{Status: r.status})

		if r.status == protocol.StatusInProgress {
			c.deliver(protocol.Topic(protocol.KindNextQuestion, r.ID), mustEncode(r.questions[r.current].Question))
			c.deliver(protocol.Topic(protocol.KindProgress, r.ID), mustEncode(r.progress()))
		}
	})
}

// Ready toggles userID's ready flag and starts the battle once everyone is ready
func (r *Room) Ready(c *Client, userID int64) {
	r.do(func() {
		p, ok := r.players[userID]
		if !ok {
			c.sendError("join the room before getting ready")
			return
		}
		if r.status != protocol.StatusWaiting && r.status != protocol.StatusReady {
			c.sendError("battle already started")
			return
		}

		p.Ready = !p.Ready
		r.broadcastParticipants()

		if r.allReady() {
			r.start()
		}
	})
}

// Answer scores userID's answer to the active question
func (r *Room) Answer(c *Client, cmd protocol.AnswerCommand) {
	r.do(func() {
		p, ok := r.players[cmd.UserID]
		if !ok {
			c.sendError("not a participant of this room")
			return
		}
		if r.status != protocol.StatusInProgress {
			c.sendError("battle is not in progress")
			return
		}
		q := r.questions[r.current]
		if cmd.QuestionID != q.QuestionID {
			c.sendError("question is no longer active")
			return
		}
		if p.answered {
			c.sendError("already answered")
			return
		}

		p.answered = true
		result := protocol.AnswerResult{
			QuestionID:    q.QuestionID,
			Correct:       strings.EqualFold(strings.TrimSpace(cmd.Answer), q.Answer),
			CorrectAnswer: q.Answer,
		}
		if result.Correct {
			result.EarnedPoints = q.Points
			p.score += q.Points
			p.correct++
		}
		result.TotalScore = p.score

		c.deliver(protocol.QueueResult, mustEncode(result))
		r.broadcast(protocol.KindProgress, r.progress())

		if r.allAnswered() {
			r.advance()
		}
	})
}

// ForceAdvance moves past questionID; 0 means whatever is active
func (r *Room) ForceAdvance(c *Client, cmd protocol.ForceAdvanceCommand) {
	r.do(func() {
		if r.status != protocol.StatusInProgress {
			c.sendError("battle is not in progress")
			return
		}
		if cmd.QuestionID != 0 && cmd.QuestionID != r.questions[r.current].QuestionID {
			r.log.Debug("stale force advance", zap.Int64("question_id", cmd.QuestionID))
			return
		}
		r.advance()
	})
}

// Leave removes userID from the battle
func (r *Room) Leave(userID int64) {
	r.do(func() {
		if _, ok := r.players[userID]; !ok {
			return
		}
		delete(r.players, userID)
		for i, id := range r.order {
			if id == userID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.log.Info("player left", zap.Int64("user_id", userID))

		if len(r.players) == 0 {
			r.resetBattle()
			return
		}
		r.broadcastParticipants()

		switch {
		case r.status == protocol.StatusInProgress && r.allAnswered():
			r.advance()
		case r.status != protocol.StatusInProgress && r.allReady():
			r.start()
		}
	})
}

// Detach forgets c after its transport closed; the player stays in the room
func (r *Room) Detach(c *Client) {
	r.do(func() {
		for _, p := range r.players {
			if p.client == c {
				p.client = nil
			}
		}
	})
}

// update enforces the per-question time limit
func (r *Room) update() {
	if r.status == protocol.StatusInProgress && time.Now().After(r.deadline) {
		r.log.Info("question timed out", zap.Int64("question_id", r.questions[r.current].QuestionID))
		r.advance()
	}
}

func (r *Room) start() {
	r.status = protocol.StatusReady
	r.broadcast(protocol.KindStatus, protocol.StatusPayload{Status: r.status})

	r.current = 0
	for _, p := range r.players {
		p.score, p.correct, p.answered = 0, 0, false
	}
	first := r.questions[0]
	r.status = protocol.StatusInProgress
	r.deadline = time.Now().Add(time.Duration(first.TimeLimit) * time.Second)

	r.log.Info("battle started", zap.Int("players", len(r.players)))
	r.broadcast(protocol.KindStart, protocol.StartPayload{
		RoomID:         r.ID,
		TotalQuestions: len(r.questions),
		FirstQuestion:  first.Question,
		StartedAt:      time.Now().UnixMilli(),
	})
	r.broadcast(protocol.KindStatus, protocol.StatusPayload{Status: r.status})
	r.broadcast(protocol.KindProgress, r.progress())
}

func (r *Room) advance() {
	r.current++
	for _, p := range r.players {
		p.answered = false
	}
	if r.current >= len(r.questions) {
		r.finish()
		return
	}

	q := r.questions[r.current]
	r.deadline = time.Now().Add(time.Duration(q.TimeLimit) * time.Second)
	r.broadcast(protocol.KindNextQuestion, q.Question)
	r.broadcast(protocol.KindProgress, r.progress())
}

func (r *Room) finish() {
	r.status = protocol.StatusFinished
	r.broadcast(protocol.KindStatus, protocol.StatusPayload{Status: r.status})

	rankings := r.rankings()
	end := protocol.EndPayload{RoomID: r.ID, Rankings: rankings}
	if len(rankings) > 0 && rankings[0].Score > 0 &&
		(len(rankings) == 1 || rankings[1].Score < rankings[0].Score) {
		end.WinnerID = rankings[0].UserID
	}

	r.log.Info("battle finished", zap.Int64("winner_id", end.WinnerID))
	r.broadcast(protocol.KindEnd, end)
}

func (r *Room) resetBattle() {
	r.status = protocol.StatusWaiting
	r.current = 0
	for _, p := range r.players {
		p.Ready = false
		p.score, p.correct, p.answered = 0, 0, false
	}
}

func (r *Room) allReady() bool {
	if len(r.players) < r.minPlayers || len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) allAnswered() bool {
	for _, p := range r.players {
		if !p.answered {
			return false
		}
	}
	return true
}

func (r *Room) participants() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id].Participant)
	}
	return out
}

func (r *Room) progress() protocol.ProgressPayload {
	progress := protocol.ProgressPayload{
		CurrentQuestionIndex: r.current,
		TotalQuestions:       len(r.questions),
		ParticipantProgress:  make(map[int64]protocol.ParticipantProgress, len(r.players)),
	}
	for id, p := range r.players {
		progress.ParticipantProgress[id] = protocol.ParticipantProgress{
			UserID:         id,
			Username:       p.Username,
			Score:          p.score,
			CorrectAnswers: p.correct,
			Answered:       p.answered,
		}
	}
	return progress
}

func (r *Room) rankings() []protocol.Ranking {
	rankings := make([]protocol.Ranking, 0, len(r.order))
	for _, id := range r.order {
		p := r.players[id]
		rankings = append(rankings, protocol.Ranking{
			UserID:         id,
			Username:       p.Username,
			Score:          p.score,
			CorrectAnswers: p.correct,
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		return rankings[i].CorrectAnswers > rankings[j].CorrectAnswers
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
	return rankings
}

func (r *Room) broadcastParticipants() {
	r.broadcast(protocol.KindParticipants, r.participants())
}

// broadcast sends payload on kind's room topic to every connected player
func (r *Room) broadcast(kind protocol.EventKind, payload any) {
	topic := protocol.Topic(kind, r.ID)
	body := mustEncode(payload)

	for _, p := range r.players {
		if p.client != nil {
			p.client.deliver(topic, body)
		}
	}
}

// RoomManager manages all battle rooms
type RoomManager struct {
	cfg   Config
	users *UserManager
	log   *zap.Logger
	rooms map[int64]*Room
	mu    sync.RWMutex
}

// NewRoomManager creates a new room manager
func NewRoomManager(cfg Config, users *UserManager, log *zap.Logger) *RoomManager {
	return &RoomManager{
		cfg:   cfg,
		users: users,
		log:   log,
		rooms: make(map[int64]*Room),
	}
}

// GetOrCreateRoom gets an existing room or creates a new one
func (rm *RoomManager) GetOrCreateRoom(roomID int64) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[roomID]; ok {
		return room
	}

	room := NewRoom(roomID, rm.cfg, rm.users, rm.log)
	rm.rooms[roomID] = room
	go room.Run()

	rm.log.Info("created room", zap.Int64("room_id", roomID))
	return room
}

// GetRoom gets an existing room
func (rm *RoomManager) GetRoom(roomID int64) *Room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.rooms[roomID]
}

// Close stops every room loop
func (rm *RoomManager) Close() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, room := range rm.rooms {
		room.stop()
		delete(rm.rooms, id)
	}
}
