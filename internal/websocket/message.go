package websocket

import "klasskamp-service/internal/game"

type MessageType string

const (
	// Client -> Server
	MessageTypeJoin      MessageType = "join"
	MessageTypeStartGame MessageType = "start_game"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypePing      MessageType = "ping"

	// Server -> Client
	MessageTypeJoinSuccess     MessageType = "join_success"
	MessageTypeRoomUpdate      MessageType = "room_update"
	MessageTypeGameStateUpdate MessageType = "game_state_update"
	MessageTypeGameStarted     MessageType = "game_started"
	MessageTypeNewQuestion     MessageType = "new_question"
	MessageTypeAnswerResult    MessageType = "answer_result"
	MessageTypeGameFinished    MessageType = "game_finished"
	MessageTypeError           MessageType = "error"
	MessageTypePong            MessageType = "pong"
)

// InboundMessage is the single flat envelope clients send. The gameCode in
// the join message selects the room; the WebSocket URL carries none.
type InboundMessage struct {
	Type MessageType `json:"type"`

	// join
	GameCode  string `json:"gameCode,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	IsTeacher bool   `json:"isTeacher,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`

	// answer
	QuestionIndex *int   `json:"questionIndex,omitempty"`
	Answer        string `json:"answer,omitempty"`
}

// GameSnapshot is the wire view of a room embedded in most broadcasts.
// StartTime is unix milliseconds, zero (omitted) before the game starts.
type GameSnapshot struct {
	ID                   string `json:"id"`
	Code                 string `json:"code"`
	TeacherName          string `json:"teacherName"`
	Status               string `json:"status"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
	QuestionCount        int    `json:"questionCount"`
	StartTime            int64  `json:"startTime,omitempty"`
	GameDurationSeconds  int    `json:"gameDurationSeconds"`
}

type JoinSuccessMessage struct {
	Type     MessageType  `json:"type"`
	Role     string       `json:"role"`
	PlayerID string       `json:"playerId,omitempty"`
	Game     GameSnapshot `json:"game"`
}

type RoomUpdateMessage struct {
	Type    MessageType    `json:"type"`
	Game    GameSnapshot   `json:"game"`
	Players []*game.Player `json:"players"`
}

type GameStateUpdateMessage struct {
	Type            MessageType    `json:"type"`
	Game            GameSnapshot   `json:"game"`
	Players         []*game.Player `json:"players"`
	TimeRemaining   int            `json:"timeRemaining"`
	CurrentSentence *game.Question `json:"currentSentence,omitempty"`
}

type GameStartedMessage struct {
	Type                MessageType `json:"type"`
	StartTime           int64       `json:"startTime"`
	GameDurationSeconds int         `json:"gameDurationSeconds"`
}

type NewQuestionMessage struct {
	Type          MessageType   `json:"type"`
	QuestionIndex int           `json:"questionIndex"`
	QuestionCount int           `json:"questionCount"`
	Sentence      game.Question `json:"sentence"`
}

type AnswerResultMessage struct {
	Type       MessageType `json:"type"`
	Correct    bool        `json:"correct"`
	Points     int         `json:"points"`
	TotalScore int         `json:"totalScore"`
}

type GameFinishedMessage struct {
	Type        MessageType             `json:"type"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type PongMessage struct {
	Type MessageType `json:"type"`
}
