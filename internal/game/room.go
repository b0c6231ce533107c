package game

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"klasskamp-service/internal/constants"
)

var (
	ErrGameFinished    = errors.New("game is finished")
	ErrNotWaiting      = errors.New("game has already started")
	ErrNotPlaying      = errors.New("game is not in progress")
	ErrNoPlayers       = errors.New("cannot start a game without players")
	ErrNoQuestions     = errors.New("cannot start a game without questions")
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrStaleQuestion   = errors.New("question is no longer active")
	ErrAlreadyAnswered = errors.New("answer already submitted for this question")
)

// Question is one rotation step: a sentence containing a target word, and the
// word class the player has to pick for it.
type Question struct {
	ID            string   `json:"id"`
	Sentence      string   `json:"sentence"`
	Word          string   `json:"word"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"-"`
}

type Player struct {
	ID             string `json:"id"`
	Nickname       string `json:"nickname"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	IsConnected    bool   `json:"isConnected"`

	joinOrder int
	answered  map[int]bool
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	PlayerID       string `json:"playerId"`
	Nickname       string `json:"nickname"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
}

type AnswerResult struct {
	Correct    bool
	Points     int
	TotalScore int
}

type TickResult struct {
	Rotated  bool
	Finished bool
}

// Settings fixes the timing and scoring parameters of one room. Values are
// frozen at room creation so a running game is unaffected by config reloads.
type Settings struct {
	Duration       time.Duration
	RotationWindow time.Duration
	BasePoints     int
}

// Room is the authoritative record of one Klasskampen round. It is a plain
// state machine with no locking of its own: all calls must come from the
// room's single owning goroutine (the hub loop).
type Room struct {
	ID          string
	Code        string
	TeacherName string
	Status      string
	Questions   []Question

	CurrentQuestionIndex int
	StartTime            time.Time
	FinishedAt           time.Time
	CreatedAt            time.Time

	settings     Settings
	players      []*Player
	playersByID  map[string]*Player
	lastRotation time.Time
	leaderboard  []LeaderboardEntry
}

func NewRoom(code, teacherName string, questions []Question, settings Settings, now time.Time) *Room {
	return &Room{
		ID:          uuid.New().String(),
		Code:        code,
		TeacherName: teacherName,
		Status:      constants.GameStatusWaiting,
		Questions:   questions,
		CreatedAt:   now,
		settings:    settings,
		playersByID: make(map[string]*Player),
	}
}

func (r *Room) Settings() Settings { return r.settings }

// Join adds a player to the roster, or re-attaches a returning one. A known
// playerID always re-attaches with its score intact; otherwise a disconnected
// player with the same nickname is resumed. New joins are accepted while the
// game is waiting or playing, never after it finished.
func (r *Room) Join(nickname, playerID string) (*Player, error) {
	if playerID != "" {
		if p, ok := r.playersByID[playerID]; ok {
			p.IsConnected = true
			return p, nil
		}
	}
	for _, p := range r.players {
		if !p.IsConnected && strings.EqualFold(p.Nickname, nickname) {
			p.IsConnected = true
			return p, nil
		}
	}

	if r.Status == constants.GameStatusFinished {
		return nil, ErrGameFinished
	}

	p := &Player{
		ID:          uuid.New().String(),
		Nickname:    nickname,
		IsConnected: true,
		joinOrder:   len(r.players),
		answered:    make(map[int]bool),
	}
	r.players = append(r.players, p)
	r.playersByID[p.ID] = p
	return p, nil
}

func (r *Room) MarkDisconnected(playerID string) {
	if p, ok := r.playersByID[playerID]; ok {
		p.IsConnected = false
	}
}

// Start moves the room from waiting to playing, recording the start time and
// arming the first question.
func (r *Room) Start(now time.Time) error {
	if r.Status != constants.GameStatusWaiting {
		if r.Status == constants.GameStatusFinished {
			return ErrGameFinished
		}
		return ErrNotWaiting
	}
	if len(r.players) == 0 {
		return ErrNoPlayers
	}
	if len(r.Questions) == 0 {
		return ErrNoQuestions
	}

	r.Status = constants.GameStatusPlaying
	r.StartTime = now
	r.lastRotation = now
	r.CurrentQuestionIndex = 0
	return nil
}

// SubmitAnswer scores one player's answer to the currently active question.
// The score only ever grows: wrong answers add zero, and a question can be
// answered at most once per player.
func (r *Room) SubmitAnswer(playerID string, questionIndex int, answer string, now time.Time) (AnswerResult, error) {
	switch r.Status {
	case constants.GameStatusFinished:
		return AnswerResult{}, ErrGameFinished
	case constants.GameStatusWaiting:
		return AnswerResult{}, ErrNotPlaying
	}

	p, ok := r.playersByID[playerID]
	if !ok {
		return AnswerResult{}, ErrUnknownPlayer
	}
	if questionIndex != r.CurrentQuestionIndex {
		return AnswerResult{}, ErrStaleQuestion
	}
	if p.answered[questionIndex] {
		return AnswerResult{}, ErrAlreadyAnswered
	}
	p.answered[questionIndex] = true

	question := r.Questions[questionIndex]
	correct := answersMatch(answer, question.CorrectAnswer)

	points := 0
	if correct {
		points = ScorePoints(r.settings.BasePoints, now.Sub(r.lastRotation), r.settings.RotationWindow)
		p.Score += points
		p.CorrectAnswers++
	}

	return AnswerResult{Correct: correct, Points: points, TotalScore: p.Score}, nil
}

// Tick advances the game clock. It rotates to the next question once the
// rotation window has elapsed and finishes the game when the duration expires
// or the questions run out, whichever comes first.
func (r *Room) Tick(now time.Time) TickResult {
	if r.Status != constants.GameStatusPlaying {
		return TickResult{}
	}

	if !now.Before(r.StartTime.Add(r.settings.Duration)) {
		r.finish(now)
		return TickResult{Finished: true}
	}

	if now.Sub(r.lastRotation) >= r.settings.RotationWindow {
		r.CurrentQuestionIndex++
		if r.CurrentQuestionIndex >= len(r.Questions) {
			r.finish(now)
			return TickResult{Finished: true}
		}
		r.lastRotation = now
		return TickResult{Rotated: true}
	}

	return TickResult{}
}

func (r *Room) finish(now time.Time) {
	r.Status = constants.GameStatusFinished
	r.FinishedAt = now
	r.leaderboard = r.computeLeaderboard()
}

// computeLeaderboard ranks players by score, then correct answers, then join
// order, so identical inputs always produce the identical ranking.
func (r *Room) computeLeaderboard() []LeaderboardEntry {
	ranked := make([]*Player, len(r.players))
	copy(ranked, r.players)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].CorrectAnswers != ranked[j].CorrectAnswers {
			return ranked[i].CorrectAnswers > ranked[j].CorrectAnswers
		}
		return ranked[i].joinOrder < ranked[j].joinOrder
	})

	leaderboard := make([]LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		leaderboard[i] = LeaderboardEntry{
			Rank:           i + 1,
			PlayerID:       p.ID,
			Nickname:       p.Nickname,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
		}
	}
	return leaderboard
}

// Leaderboard returns the frozen final ranking, or nil while the game is
// still running.
func (r *Room) Leaderboard() []LeaderboardEntry {
	return r.leaderboard
}

func (r *Room) Players() []*Player {
	return r.players
}

func (r *Room) GetPlayer(playerID string) (*Player, bool) {
	p, ok := r.playersByID[playerID]
	return p, ok
}

func (r *Room) CurrentQuestion() (Question, bool) {
	if r.Status != constants.GameStatusPlaying {
		return Question{}, false
	}
	if r.CurrentQuestionIndex >= len(r.Questions) {
		return Question{}, false
	}
	return r.Questions[r.CurrentQuestionIndex], true
}

// TimeRemaining reports whole seconds left on the game clock, never negative.
func (r *Room) TimeRemaining(now time.Time) int {
	if r.Status != constants.GameStatusPlaying {
		return 0
	}
	remaining := r.StartTime.Add(r.settings.Duration).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining / time.Second)
}

func answersMatch(answer, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(correct))
}

// ScorePoints is the time-weighted score for a correct answer: full points on
// an instant answer, tapering to half at the end of the rotation window.
func ScorePoints(basePoints int, elapsed, window time.Duration) int {
	if window <= 0 {
		return basePoints
	}

	ratio := float64(elapsed) / float64(window)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	return int(float64(basePoints) * (1.0 - 0.5*ratio))
}
