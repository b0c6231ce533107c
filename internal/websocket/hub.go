package websocket

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"klasskamp-service/config"
	"klasskamp-service/internal/constants"
	"klasskamp-service/internal/game"
	"klasskamp-service/pkg/cache"
)

// GameStore persists game lifecycle changes and final results.
type GameStore interface {
	MarkStarted(ctx context.Context, gameID string, startedAt time.Time) error
	SaveResults(ctx context.Context, gameID string, finishedAt time.Time, leaderboard []game.LeaderboardEntry) error
}

// EventPublisher pushes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

type ClientMessage struct {
	Client  *Client
	Message InboundMessage
}

type roomEntry struct {
	room    *game.Room
	clients map[*Client]bool
	host    *Client

	// stopTicker is non-nil while the room's lifecycle ticker runs.
	stopTicker chan struct{}
	// emptySince is set when the last connection leaves, zero while occupied.
	emptySince time.Time
}

// Hub owns every active room. All room mutations happen on the single
// goroutine running Run, so rooms need no locking; the channels and the exec
// queue are the only ways in.
type Hub struct {
	Register      chan *Client
	Unregister    chan *Client
	HandleMessage chan *ClientMessage

	rooms       map[string]*roomEntry
	connections map[*Client]bool
	exec        chan func()

	gameStore GameStore
	redis     *cache.RedisClient
	publisher EventPublisher
	clock     clockwork.Clock
	cfg       config.GameConfig
}

func NewHub(
	gameStore GameStore,
	redisClient *cache.RedisClient,
	publisher EventPublisher,
	clock clockwork.Clock,
	cfg config.GameConfig,
) *Hub {
	return &Hub{
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		rooms:         make(map[string]*roomEntry),
		connections:   make(map[*Client]bool),
		exec:          make(chan func()),
		gameStore:     gameStore,
		redis:         redisClient,
		publisher:     publisher,
		clock:         clock,
		cfg:           cfg,
	}
}

func (h *Hub) Run(ctx context.Context) {
	janitor := h.clock.NewTicker(h.cfg.EvictionInterval)
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case clientMsg := <-h.HandleMessage:
			h.handleClientMessage(clientMsg)

		case fn := <-h.exec:
			fn()

		case <-janitor.Chan():
			h.evictIdleRooms()
		}
	}
}

// do runs fn on the hub goroutine and waits for it. Must not be called from
// the hub goroutine itself.
func (h *Hub) do(fn func()) {
	done := make(chan struct{})
	h.exec <- func() {
		fn()
		close(done)
	}
	<-done
}

type CreateRoomParams struct {
	TeacherName string
	Questions   []game.Question
	Settings    game.Settings
}

type RoomInfo struct {
	ID                  string `json:"id"`
	Code                string `json:"gameCode"`
	QuestionCount       int    `json:"questionCount"`
	GameDurationSeconds int    `json:"gameDurationSeconds"`
}

// CreateRoom registers a new waiting room under a fresh code.
func (h *Hub) CreateRoom(params CreateRoomParams) (RoomInfo, error) {
	var info RoomInfo
	var err error
	h.do(func() {
		var code string
		code, err = h.generateRoomCode()
		if err != nil {
			return
		}

		now := h.clock.Now()
		room := game.NewRoom(code, params.TeacherName, params.Questions, params.Settings, now)
		h.rooms[code] = &roomEntry{
			room:       room,
			clients:    make(map[*Client]bool),
			emptySince: now,
		}
		info = RoomInfo{
			ID:                  room.ID,
			Code:                code,
			QuestionCount:       len(room.Questions),
			GameDurationSeconds: int(params.Settings.Duration / time.Second),
		}
		log.Info().Str("room", code).Str("teacher", params.TeacherName).
			Int("questions", len(room.Questions)).Msg("room created")
	})
	return info, err
}

// RoomSnapshot returns the lobby view of a room, for the pre-join status poll.
func (h *Hub) RoomSnapshot(code string) (RoomUpdateMessage, bool) {
	var msg RoomUpdateMessage
	var ok bool
	h.do(func() {
		entry, exists := h.rooms[normalizeCode(code)]
		if !exists {
			return
		}
		msg = EncodeRoomUpdate(entry.room)
		ok = true
	})
	return msg, ok
}

func (h *Hub) registerClient(client *Client) {
	h.connections[client] = true
	log.Debug().Int("connections", len(h.connections)).Msg("connection opened")
}

func (h *Hub) unregisterClient(client *Client) {
	if !h.connections[client] {
		return
	}
	delete(h.connections, client)
	client.closeSend()

	if client.RoomCode == "" {
		return
	}
	entry, ok := h.rooms[client.RoomCode]
	if !ok {
		return
	}

	delete(entry.clients, client)
	if entry.host == client {
		entry.host = nil
		log.Info().Str("room", client.RoomCode).Msg("host disconnected, host slot freed")
	}
	if client.PlayerID != "" {
		entry.room.MarkDisconnected(client.PlayerID)
	}

	if len(entry.clients) == 0 {
		entry.emptySince = h.clock.Now()
		h.stopTicker(entry)
		if entry.room.Status == constants.GameStatusFinished {
			h.removeRoom(client.RoomCode)
		}
		return
	}

	h.broadcast(entry, EncodeRoomUpdate(entry.room))
}

func (h *Hub) handleClientMessage(clientMsg *ClientMessage) {
	client := clientMsg.Client
	msg := clientMsg.Message

	switch msg.Type {
	case MessageTypeJoin:
		h.handleJoin(client, msg)

	case MessageTypeStartGame:
		h.handleStartGame(client)

	case MessageTypeAnswer:
		h.handleAnswer(client, msg)

	case MessageTypePing:
		client.SendJSON(PongMessage{Type: MessageTypePong})

	default:
		client.SendError(fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (h *Hub) handleJoin(client *Client, msg InboundMessage) {
	code := normalizeCode(msg.GameCode)
	entry, ok := h.rooms[code]
	if !ok {
		client.SendError("unknown room")
		return
	}
	if client.RoomCode != "" && client.RoomCode != code {
		client.SendError("connection already belongs to another room")
		return
	}

	if msg.IsTeacher {
		if entry.host != nil && entry.host != client {
			client.SendError("room already has a host")
			return
		}
		entry.host = client
		client.RoomCode = code
		client.Role = constants.RoleHost
		client.SendJSON(EncodeJoinSuccess(entry.room, constants.RoleHost, ""))
		log.Info().Str("room", code).Msg("host joined")
	} else {
		nickname := strings.TrimSpace(msg.Nickname)
		if nickname == "" {
			client.SendError("nickname is required")
			return
		}
		playerID := msg.PlayerID
		if client.PlayerID != "" {
			// A join retry from a connection that already holds a player
			// re-attaches that player instead of minting a duplicate.
			playerID = client.PlayerID
		}
		player, err := entry.room.Join(nickname, playerID)
		if err != nil {
			client.SendError(err.Error())
			return
		}
		client.RoomCode = code
		client.Role = constants.RolePlayer
		client.PlayerID = player.ID
		client.Nickname = player.Nickname
		client.SendJSON(EncodeJoinSuccess(entry.room, constants.RolePlayer, player.ID))
		log.Info().Str("room", code).Str("nickname", player.Nickname).Msg("player joined")
	}

	entry.clients[client] = true
	entry.emptySince = time.Time{}

	h.broadcast(entry, EncodeRoomUpdate(entry.room))

	switch entry.room.Status {
	case constants.GameStatusPlaying:
		// Catch a late or returning participant up with the running game.
		client.SendJSON(EncodeGameState(entry.room, h.clock.Now()))
		if entry.stopTicker == nil {
			h.startTicker(entry)
		}
	case constants.GameStatusFinished:
		client.SendJSON(EncodeGameFinished(entry.room))
	}
}

func (h *Hub) handleStartGame(client *Client) {
	entry := h.entryFor(client)
	if entry == nil {
		client.SendError("join a room first")
		return
	}
	if entry.host != client {
		client.SendError("only the host can start the game")
		return
	}

	now := h.clock.Now()
	if err := entry.room.Start(now); err != nil {
		client.SendError(err.Error())
		return
	}

	log.Info().Str("room", entry.room.Code).
		Int("players", len(entry.room.Players())).
		Int("questions", len(entry.room.Questions)).Msg("game started")

	if h.gameStore != nil {
		gameID := entry.room.ID
		go func() {
			if err := h.gameStore.MarkStarted(context.Background(), gameID, now); err != nil {
				log.Error().Err(err).Str("game_id", gameID).Msg("failed to persist game start")
			}
		}()
	}

	h.broadcast(entry, EncodeGameStarted(entry.room))
	if questionMsg, ok := EncodeNewQuestion(entry.room); ok {
		h.broadcast(entry, questionMsg)
	}
	h.broadcast(entry, EncodeGameState(entry.room, now))
	h.startTicker(entry)
}

func (h *Hub) handleAnswer(client *Client, msg InboundMessage) {
	entry := h.entryFor(client)
	if entry == nil {
		client.SendError("join a room first")
		return
	}
	if client.Role != constants.RolePlayer {
		client.SendError("only players can submit answers")
		return
	}
	if msg.QuestionIndex == nil {
		client.SendError("missing questionIndex")
		return
	}

	result, err := entry.room.SubmitAnswer(client.PlayerID, *msg.QuestionIndex, msg.Answer, h.clock.Now())
	if err != nil {
		if errors.Is(err, game.ErrGameFinished) {
			// Late answers race the finish broadcast; drop them quietly.
			log.Debug().Str("room", entry.room.Code).Str("nickname", client.Nickname).Msg("answer after finish dropped")
			return
		}
		client.SendError(err.Error())
		return
	}

	client.SendJSON(AnswerResultMessage{
		Type:       MessageTypeAnswerResult,
		Correct:    result.Correct,
		Points:     result.Points,
		TotalScore: result.TotalScore,
	})
}

func (h *Hub) handleTick(code string) {
	entry, ok := h.rooms[code]
	if !ok {
		return
	}
	if entry.room.Status != constants.GameStatusPlaying {
		h.stopTicker(entry)
		return
	}

	now := h.clock.Now()
	result := entry.room.Tick(now)

	if result.Finished {
		log.Info().Str("room", code).Int("players", len(entry.room.Players())).Msg("game finished")
		h.broadcast(entry, EncodeGameFinished(entry.room))
		h.stopTicker(entry)
		h.archiveResults(entry.room)
		return
	}

	if result.Rotated {
		if questionMsg, ok := EncodeNewQuestion(entry.room); ok {
			h.broadcast(entry, questionMsg)
		}
	}
	h.broadcast(entry, EncodeGameState(entry.room, now))
}

// archiveResults copies the frozen outcome and hands it to storage, cache and
// the broker off the hub goroutine.
func (h *Hub) archiveResults(room *game.Room) {
	leaderboard := make([]game.LeaderboardEntry, len(room.Leaderboard()))
	copy(leaderboard, room.Leaderboard())

	gameID := room.ID
	code := room.Code
	teacherName := room.TeacherName
	finishedAt := room.FinishedAt

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if h.gameStore != nil {
			if err := h.gameStore.SaveResults(ctx, gameID, finishedAt, leaderboard); err != nil {
				log.Error().Err(err).Str("game_id", gameID).Msg("failed to persist results")
			}
		}

		if h.redis != nil {
			data, err := json.Marshal(leaderboard)
			if err == nil {
				key := fmt.Sprintf("klasskamp:%s:leaderboard", code)
				if err := h.redis.Set(ctx, key, string(data), 24*time.Hour); err != nil {
					log.Warn().Err(err).Str("room", code).Msg("failed to cache leaderboard")
				}
			}
		}

		if h.publisher != nil {
			event := gameFinishedEvent{
				GameID:      gameID,
				GameCode:    code,
				TeacherName: teacherName,
				FinishedAt:  finishedAt.UnixMilli(),
				Leaderboard: leaderboard,
			}
			body, err := json.Marshal(event)
			if err == nil {
				if err := h.publisher.Publish(ctx, constants.QueueGameFinished, body); err != nil {
					log.Error().Err(err).Str("room", code).Msg("failed to publish finish event")
				}
			}
		}
	}()
}

type gameFinishedEvent struct {
	GameID      string                  `json:"gameId"`
	GameCode    string                  `json:"gameCode"`
	TeacherName string                  `json:"teacherName"`
	FinishedAt  int64                   `json:"finishedAt"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

func (h *Hub) startTicker(entry *roomEntry) {
	stop := make(chan struct{})
	entry.stopTicker = stop
	code := entry.room.Code

	go func() {
		ticker := h.clock.NewTicker(h.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				select {
				case h.exec <- func() { h.handleTick(code) }:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (h *Hub) stopTicker(entry *roomEntry) {
	if entry.stopTicker != nil {
		close(entry.stopTicker)
		entry.stopTicker = nil
	}
}

func (h *Hub) removeRoom(code string) {
	entry, ok := h.rooms[code]
	if !ok {
		return
	}
	h.stopTicker(entry)
	delete(h.rooms, code)
	log.Info().Str("room", code).Str("status", entry.room.Status).Msg("room removed")
}

func (h *Hub) evictIdleRooms() {
	now := h.clock.Now()
	for code, entry := range h.rooms {
		if len(entry.clients) > 0 || entry.emptySince.IsZero() {
			continue
		}
		if now.Sub(entry.emptySince) >= h.cfg.RoomIdleTimeout {
			log.Info().Str("room", code).Msg("evicting idle room")
			h.removeRoom(code)
		}
	}
}

func (h *Hub) shutdown() {
	for code, entry := range h.rooms {
		h.stopTicker(entry)
		delete(h.rooms, code)
	}
	log.Info().Msg("hub stopped")
}

func (h *Hub) entryFor(client *Client) *roomEntry {
	if client.RoomCode == "" {
		return nil
	}
	return h.rooms[client.RoomCode]
}

func (h *Hub) broadcast(entry *roomEntry, v any) {
	for client := range entry.clients {
		client.SendJSON(v)
	}
}

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

func (h *Hub) generateRoomCode() (string, error) {
	maxAttempts := 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := make([]byte, 4)
		for i := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
			if err != nil {
				return "", err
			}
			code[i] = roomCodeAlphabet[n.Int64()]
		}
		if _, exists := h.rooms[string(code)]; !exists {
			return string(code), nil
		}
	}
	return "", fmt.Errorf("failed to generate unique room code after %d attempts", maxAttempts)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
