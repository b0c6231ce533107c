package models

import (
	"database/sql"
	"time"
)

type GameRecord struct {
	ID              string
	Code            string
	TeacherName     string
	Status          string // "waiting", "playing", "finished"
	QuestionCount   int
	DurationSeconds int
	CreatedAt       time.Time
	StartedAt       sql.NullTime
	FinishedAt      sql.NullTime
}

type GameResult struct {
	GameID         string
	PlayerID       string
	Nickname       string
	Score          int
	CorrectAnswers int
	Rank           int
}

// Sentence is one row of the grammar question bank: a sentence, the word in
// it the player classifies, the correct word class and the offered options.
type Sentence struct {
	ID        string
	Text      string
	Word      string
	WordClass string
	Options   string // JSON array of word classes
}
