package websocket

import (
	"time"

	"klasskamp-service/internal/game"
)

// Encoders map room state to wire messages. They are pure: the same room
// snapshot always encodes to the same message, which keeps broadcasts
// testable without a socket in sight.

func Snapshot(r *game.Room) GameSnapshot {
	snapshot := GameSnapshot{
		ID:                   r.ID,
		Code:                 r.Code,
		TeacherName:          r.TeacherName,
		Status:               r.Status,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		QuestionCount:        len(r.Questions),
		GameDurationSeconds:  int(r.Settings().Duration / time.Second),
	}
	if !r.StartTime.IsZero() {
		snapshot.StartTime = r.StartTime.UnixMilli()
	}
	return snapshot
}

func EncodeJoinSuccess(r *game.Room, role, playerID string) JoinSuccessMessage {
	return JoinSuccessMessage{
		Type:     MessageTypeJoinSuccess,
		Role:     role,
		PlayerID: playerID,
		Game:     Snapshot(r),
	}
}

func EncodeRoomUpdate(r *game.Room) RoomUpdateMessage {
	return RoomUpdateMessage{
		Type:    MessageTypeRoomUpdate,
		Game:    Snapshot(r),
		Players: r.Players(),
	}
}

func EncodeGameState(r *game.Room, now time.Time) GameStateUpdateMessage {
	msg := GameStateUpdateMessage{
		Type:          MessageTypeGameStateUpdate,
		Game:          Snapshot(r),
		Players:       r.Players(),
		TimeRemaining: r.TimeRemaining(now),
	}
	if question, ok := r.CurrentQuestion(); ok {
		msg.CurrentSentence = &question
	}
	return msg
}

func EncodeGameStarted(r *game.Room) GameStartedMessage {
	return GameStartedMessage{
		Type:                MessageTypeGameStarted,
		StartTime:           r.StartTime.UnixMilli(),
		GameDurationSeconds: int(r.Settings().Duration / time.Second),
	}
}

func EncodeNewQuestion(r *game.Room) (NewQuestionMessage, bool) {
	question, ok := r.CurrentQuestion()
	if !ok {
		return NewQuestionMessage{}, false
	}
	return NewQuestionMessage{
		Type:          MessageTypeNewQuestion,
		QuestionIndex: r.CurrentQuestionIndex,
		QuestionCount: len(r.Questions),
		Sentence:      question,
	}, true
}

func EncodeGameFinished(r *game.Room) GameFinishedMessage {
	return GameFinishedMessage{
		Type:        MessageTypeGameFinished,
		Leaderboard: r.Leaderboard(),
	}
}
