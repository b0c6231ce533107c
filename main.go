package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"klasskamp-service/config"
	"klasskamp-service/internal/handlers"
	"klasskamp-service/internal/repository"
	ws "klasskamp-service/internal/websocket"
	"klasskamp-service/pkg/cache"
	"klasskamp-service/pkg/database"
	"klasskamp-service/pkg/messaging"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	cfg := config.Load()
	log.Info().Msg("configuration loaded")

	pgClient, err := database.NewPostgresClient(&cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	log.Info().Msg("connected to PostgreSQL")
	defer pgClient.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pgClient.InitSchema(schemaCtx); err != nil {
		log.Warn().Err(err).Msg("failed to initialize PostgreSQL schema")
	} else {
		log.Info().Msg("PostgreSQL schema initialized")
	}
	cancelSchema()

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
		redisClient = nil
	} else {
		log.Info().Msg("connected to Redis")
		defer redisClient.Close()
	}

	mqClient, err := messaging.NewRabbitMQClient(&cfg.RabbitMQ)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to RabbitMQ, continuing without events")
		mqClient = nil
	} else {
		log.Info().Msg("connected to RabbitMQ")
		defer mqClient.Close()
	}

	gameRepo := repository.NewGameRepository(pgClient.GetDB())
	sentenceRepo := repository.NewSentenceRepository(pgClient.GetDB())

	countCtx, cancelCount := context.WithTimeout(context.Background(), 5*time.Second)
	if count, err := sentenceRepo.Count(countCtx); err != nil {
		log.Warn().Err(err).Msg("failed to count sentence bank")
	} else if count == 0 {
		log.Warn().Msg("sentence bank is empty, rooms cannot be created until it is seeded")
	} else {
		log.Info().Int("sentences", count).Msg("sentence bank loaded")
	}
	cancelCount()

	var publisher ws.EventPublisher
	if mqClient != nil {
		publisher = mqClient
	}

	hub := ws.NewHub(gameRepo, redisClient, publisher, clockwork.NewRealClock(), cfg.Game)

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)
	log.Info().Msg("websocket hub started")

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "klasskamp-service",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		if pgClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	roomHandler := handlers.NewRoomHandler(hub, sentenceRepo, gameRepo, redisClient, cfg)
	router.POST("/api/klasskamp", roomHandler.CreateRoom)
	router.GET("/api/klasskamp/:code", roomHandler.RoomStatus)
	router.GET("/api/klasskamp/:code/results", roomHandler.RoomResults)

	wsHandler := handlers.NewWebSocketHandler(hub)
	router.GET("/klasskamp-ws", wsHandler.HandleWebSocket)

	httpAddr := ":" + cfg.Server.HTTPPort
	log.Info().Str("addr", httpAddr).Msg("HTTP server starting")

	go func() {
		if err := router.Run(httpAddr); err != nil {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancelHub()
	log.Info().Msg("klasskamp service stopped")
}
