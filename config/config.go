package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
	Game     GameConfig
}

type ServerConfig struct {
	HTTPPort string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// GameConfig holds the tunables of a Klasskampen round. Duration-valued
// settings are read as whole seconds from the environment.
type GameConfig struct {
	DefaultDurationSeconds int
	DefaultQuestionCount   int
	RotationInterval       time.Duration
	TickInterval           time.Duration
	BasePoints             int
	RoomIdleTimeout        time.Duration
	EvictionInterval       time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: getEnv("HTTP_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "glosmastaren"),
			Password: getEnv("DB_PASSWORD", "glosmastaren_password"),
			DBName:   getEnv("DB_NAME", "glosmastaren"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "redis"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "rabbitmq"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
		},
		Game: GameConfig{
			DefaultDurationSeconds: getEnvAsInt("GAME_DURATION_SECONDS", 90),
			DefaultQuestionCount:   getEnvAsInt("GAME_QUESTION_COUNT", 20),
			RotationInterval:       getEnvAsSeconds("QUESTION_ROTATION_SECONDS", 3*time.Second),
			TickInterval:           getEnvAsSeconds("GAME_TICK_SECONDS", 1*time.Second),
			BasePoints:             getEnvAsInt("GAME_BASE_POINTS", 100),
			RoomIdleTimeout:        getEnvAsSeconds("ROOM_IDLE_TIMEOUT_SECONDS", 10*time.Minute),
			EvictionInterval:       getEnvAsSeconds("ROOM_EVICTION_SECONDS", time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil && value > 0 {
		return time.Duration(value) * time.Second
	}
	return defaultValue
}
