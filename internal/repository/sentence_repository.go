package repository

import (
	"context"
	"database/sql"
	"fmt"

	"klasskamp-service/internal/models"
)

type SentenceRepository struct {
	db *sql.DB
}

func NewSentenceRepository(db *sql.DB) *SentenceRepository {
	return &SentenceRepository{db: db}
}

// Random draws count sentences from the question bank in random order.
func (r *SentenceRepository) Random(ctx context.Context, count int) ([]*models.Sentence, error) {
	query := `
		SELECT id, text, word, word_class, options
		FROM sentences
		ORDER BY RANDOM()
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sentences []*models.Sentence
	for rows.Next() {
		sentence := &models.Sentence{}
		err := rows.Scan(
			&sentence.ID,
			&sentence.Text,
			&sentence.Word,
			&sentence.WordClass,
			&sentence.Options,
		)
		if err != nil {
			return nil, err
		}
		sentences = append(sentences, sentence)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(sentences) == 0 {
		return nil, fmt.Errorf("sentence bank is empty")
	}
	return sentences, nil
}

func (r *SentenceRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sentences`).Scan(&count)
	return count, err
}
