package database

import (
	"context"
	"database/sql"
	"fmt"

	"klasskamp-service/config"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	db     *sql.DB
	config *config.DBConfig
}

func NewPostgresClient(cfg *config.DBConfig) (*PostgresClient, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{
		db:     db,
		config: cfg,
	}, nil
}

func (c *PostgresClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *PostgresClient) GetDB() *sql.DB {
	return c.db
}

func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS klasskamp_games (
			id VARCHAR(36) PRIMARY KEY,
			code VARCHAR(8) NOT NULL,
			teacher_name VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'waiting',
			question_count INTEGER NOT NULL DEFAULT 0,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_klasskamp_games_code ON klasskamp_games(code);
		CREATE INDEX IF NOT EXISTS idx_klasskamp_games_status ON klasskamp_games(status);

		CREATE TABLE IF NOT EXISTS klasskamp_results (
			game_id VARCHAR(36) NOT NULL REFERENCES klasskamp_games(id),
			player_id VARCHAR(36) NOT NULL,
			nickname VARCHAR(255) NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			correct_answers INTEGER NOT NULL DEFAULT 0,
			rank INTEGER NOT NULL,
			PRIMARY KEY (game_id, player_id)
		);
		CREATE INDEX IF NOT EXISTS idx_klasskamp_results_game_id ON klasskamp_results(game_id);

		CREATE TABLE IF NOT EXISTS sentences (
			id VARCHAR(36) PRIMARY KEY,
			text TEXT NOT NULL,
			word VARCHAR(100) NOT NULL,
			word_class VARCHAR(50) NOT NULL,
			options JSONB NOT NULL DEFAULT '[]'
		);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
