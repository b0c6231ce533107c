package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"klasskamp-service/config"
	"klasskamp-service/internal/auth"
	"klasskamp-service/internal/constants"
	"klasskamp-service/internal/game"
	"klasskamp-service/internal/models"
	"klasskamp-service/internal/repository"
	ws "klasskamp-service/internal/websocket"
	"klasskamp-service/pkg/cache"
)

type RoomHandler struct {
	hub       *ws.Hub
	sentences *repository.SentenceRepository
	games     *repository.GameRepository
	redis     *cache.RedisClient
	cfg       *config.Config
}

func NewRoomHandler(
	hub *ws.Hub,
	sentences *repository.SentenceRepository,
	games *repository.GameRepository,
	redisClient *cache.RedisClient,
	cfg *config.Config,
) *RoomHandler {
	return &RoomHandler{
		hub:       hub,
		sentences: sentences,
		games:     games,
		redis:     redisClient,
		cfg:       cfg,
	}
}

type createRoomRequest struct {
	DurationSeconds int `json:"durationSeconds"`
	QuestionCount   int `json:"questionCount"`
}

// CreateRoom opens a new Klasskampen room for the authenticated teacher.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	claims, ok := h.teacherClaims(c)
	if !ok {
		return
	}

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = h.cfg.Game.DefaultDurationSeconds
	}
	if req.QuestionCount <= 0 {
		req.QuestionCount = h.cfg.Game.DefaultQuestionCount
	}

	rows, err := h.sentences.Random(c.Request.Context(), req.QuestionCount)
	if err != nil {
		log.Error().Err(err).Msg("failed to load sentences")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load questions"})
		return
	}

	questions := make([]game.Question, 0, len(rows))
	for _, sentence := range rows {
		var options []string
		if err := json.Unmarshal([]byte(sentence.Options), &options); err != nil {
			log.Warn().Err(err).Str("sentence_id", sentence.ID).Msg("skipping sentence with bad options")
			continue
		}
		questions = append(questions, game.Question{
			ID:            sentence.ID,
			Sentence:      sentence.Text,
			Word:          sentence.Word,
			Options:       options,
			CorrectAnswer: sentence.WordClass,
		})
	}
	if len(questions) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load questions"})
		return
	}

	info, err := h.hub.CreateRoom(ws.CreateRoomParams{
		TeacherName: claims.Name,
		Questions:   questions,
		Settings: game.Settings{
			Duration:       time.Duration(req.DurationSeconds) * time.Second,
			RotationWindow: h.cfg.Game.RotationInterval,
			BasePoints:     h.cfg.Game.BasePoints,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	if h.games != nil {
		record := &models.GameRecord{
			ID:              info.ID,
			Code:            info.Code,
			TeacherName:     claims.Name,
			Status:          constants.GameStatusWaiting,
			QuestionCount:   info.QuestionCount,
			DurationSeconds: info.GameDurationSeconds,
			CreatedAt:       time.Now(),
		}
		if err := h.games.CreateGame(c.Request.Context(), record); err != nil {
			log.Warn().Err(err).Str("room", info.Code).Msg("failed to persist game record")
		}
	}

	c.JSON(http.StatusCreated, info)
}

// RoomStatus returns the lobby snapshot for a room code, used by clients
// polling before they open the socket.
func (h *RoomHandler) RoomStatus(c *gin.Context) {
	code := c.Param("code")
	snapshot, ok := h.hub.RoomSnapshot(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// RoomResults serves the final leaderboard of a finished game, preferring the
// Redis archive and falling back to Postgres.
func (h *RoomHandler) RoomResults(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))

	if h.redis != nil {
		key := "klasskamp:" + code + ":leaderboard"
		if data, err := h.redis.Get(c.Request.Context(), key); err == nil {
			var leaderboard []game.LeaderboardEntry
			if err := json.Unmarshal([]byte(data), &leaderboard); err == nil {
				c.JSON(http.StatusOK, gin.H{"leaderboard": leaderboard})
				return
			}
		}
	}

	if h.games == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results for this room"})
		return
	}

	results, err := h.games.GetResultsByCode(c.Request.Context(), code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("failed to load results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load results"})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results for this room"})
		return
	}

	leaderboard := make([]game.LeaderboardEntry, len(results))
	for i, result := range results {
		leaderboard[i] = game.LeaderboardEntry{
			Rank:           result.Rank,
			PlayerID:       result.PlayerID,
			Nickname:       result.Nickname,
			Score:          result.Score,
			CorrectAnswers: result.CorrectAnswers,
		}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": leaderboard})
}

func (h *RoomHandler) teacherClaims(c *gin.Context) (*auth.Claims, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return nil, false
	}

	claims, err := auth.ValidateToken(token, h.cfg.Auth.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	if claims.Role != "teacher" {
		c.JSON(http.StatusForbidden, gin.H{"error": "only teachers can create rooms"})
		return nil, false
	}
	return claims, true
}
