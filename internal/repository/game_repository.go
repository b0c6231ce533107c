package repository

import (
	"context"
	"database/sql"
	"time"

	"klasskamp-service/internal/game"
	"klasskamp-service/internal/models"
)

type GameRepository struct {
	db *sql.DB
}

func NewGameRepository(db *sql.DB) *GameRepository {
	return &GameRepository{db: db}
}

func (r *GameRepository) CreateGame(ctx context.Context, record *models.GameRecord) error {
	query := `
		INSERT INTO klasskamp_games (id, code, teacher_name, status, question_count, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Code,
		record.TeacherName,
		record.Status,
		record.QuestionCount,
		record.DurationSeconds,
		record.CreatedAt,
	)
	return err
}

func (r *GameRepository) MarkStarted(ctx context.Context, gameID string, startedAt time.Time) error {
	query := `UPDATE klasskamp_games SET status = 'playing', started_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, startedAt, gameID)
	return err
}

// SaveResults finalizes the game row and writes the frozen leaderboard in one
// transaction.
func (r *GameRepository) SaveResults(ctx context.Context, gameID string, finishedAt time.Time, leaderboard []game.LeaderboardEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE klasskamp_games SET status = 'finished', finished_at = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, finishedAt, gameID); err != nil {
		return err
	}

	insert := `
		INSERT INTO klasskamp_results (game_id, player_id, nickname, score, correct_answers, rank)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, entry := range leaderboard {
		if _, err := tx.ExecContext(ctx, insert,
			gameID,
			entry.PlayerID,
			entry.Nickname,
			entry.Score,
			entry.CorrectAnswers,
			entry.Rank,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetResultsByCode returns the leaderboard of the most recently finished game
// played under the given code.
func (r *GameRepository) GetResultsByCode(ctx context.Context, code string) ([]*models.GameResult, error) {
	query := `
		SELECT r.game_id, r.player_id, r.nickname, r.score, r.correct_answers, r.rank
		FROM klasskamp_results r
		WHERE r.game_id = (
			SELECT id FROM klasskamp_games
			WHERE code = $1 AND status = 'finished'
			ORDER BY finished_at DESC
			LIMIT 1
		)
		ORDER BY r.rank ASC
	`
	rows, err := r.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.GameResult
	for rows.Next() {
		result := &models.GameResult{}
		err := rows.Scan(
			&result.GameID,
			&result.PlayerID,
			&result.Nickname,
			&result.Score,
			&result.CorrectAnswers,
			&result.Rank,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
