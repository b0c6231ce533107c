package websocket

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"klasskamp-service/internal/constants"
	"klasskamp-service/internal/game"
)

func encoderTestRoom() *game.Room {
	questions := []game.Question{
		{
			ID:            "q-0",
			Sentence:      "Katten sover på soffan",
			Word:          "sover",
			Options:       []string{"substantiv", "verb", "adjektiv"},
			CorrectAnswer: "verb",
		},
		{
			ID:            "q-1",
			Sentence:      "Den röda bilen är snabb",
			Word:          "röda",
			Options:       []string{"substantiv", "verb", "adjektiv"},
			CorrectAnswer: "adjektiv",
		},
	}
	settings := game.Settings{
		Duration:       30 * time.Second,
		RotationWindow: 3 * time.Second,
		BasePoints:     100,
	}
	return game.NewRoom("QRST", "Herr Berg", questions, settings, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
}

func TestSnapshotBeforeStart(t *testing.T) {
	room := encoderTestRoom()
	snapshot := Snapshot(room)

	if snapshot.Code != "QRST" {
		t.Errorf("Code = %q, want QRST", snapshot.Code)
	}
	if snapshot.Status != constants.GameStatusWaiting {
		t.Errorf("Status = %q, want waiting", snapshot.Status)
	}
	if snapshot.StartTime != 0 {
		t.Errorf("StartTime = %d, want 0 before start", snapshot.StartTime)
	}
	if snapshot.QuestionCount != 2 {
		t.Errorf("QuestionCount = %d, want 2", snapshot.QuestionCount)
	}
	if snapshot.GameDurationSeconds != 30 {
		t.Errorf("GameDurationSeconds = %d, want 30", snapshot.GameDurationSeconds)
	}

	// startTime must be omitted from the wire before the game starts.
	data, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]any
	json.Unmarshal(data, &fields)
	if _, present := fields["startTime"]; present {
		t.Error("startTime serialized for a waiting room")
	}
}

func TestEncodersDeterministic(t *testing.T) {
	room := encoderTestRoom()
	room.Join("Alice", "")
	room.Join("Bob", "")
	start := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	room.Start(start)
	now := start.Add(4 * time.Second)

	if a, b := EncodeRoomUpdate(room), EncodeRoomUpdate(room); !reflect.DeepEqual(a, b) {
		t.Error("EncodeRoomUpdate not deterministic for identical state")
	}
	if a, b := EncodeGameState(room, now), EncodeGameState(room, now); !reflect.DeepEqual(a, b) {
		t.Error("EncodeGameState not deterministic for identical state")
	}
	if a, b := EncodeGameStarted(room), EncodeGameStarted(room); !reflect.DeepEqual(a, b) {
		t.Error("EncodeGameStarted not deterministic for identical state")
	}
}

func TestEncodeGameStateCarriesQuestion(t *testing.T) {
	room := encoderTestRoom()
	room.Join("Alice", "")
	start := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	room.Start(start)

	msg := EncodeGameState(room, start.Add(2*time.Second))
	if msg.TimeRemaining != 28 {
		t.Errorf("TimeRemaining = %d, want 28", msg.TimeRemaining)
	}
	if msg.CurrentSentence == nil {
		t.Fatal("CurrentSentence missing while playing")
	}
	if msg.CurrentSentence.ID != "q-0" {
		t.Errorf("CurrentSentence.ID = %q, want q-0", msg.CurrentSentence.ID)
	}

	// The correct answer must never reach the wire.
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]any
	json.Unmarshal(data, &fields)
	sentence := fields["currentSentence"].(map[string]any)
	if _, leaked := sentence["CorrectAnswer"]; leaked {
		t.Error("correct answer leaked into game_state_update")
	}
}

func TestEncodeNewQuestion(t *testing.T) {
	room := encoderTestRoom()
	room.Join("Alice", "")

	if _, ok := EncodeNewQuestion(room); ok {
		t.Error("EncodeNewQuestion produced a question for a waiting room")
	}

	start := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	room.Start(start)
	msg, ok := EncodeNewQuestion(room)
	if !ok {
		t.Fatal("EncodeNewQuestion returned no question while playing")
	}
	if msg.QuestionIndex != 0 || msg.QuestionCount != 2 {
		t.Errorf("question index/count = %d/%d, want 0/2", msg.QuestionIndex, msg.QuestionCount)
	}
	if msg.Sentence.Word != "sover" {
		t.Errorf("Sentence.Word = %q, want sover", msg.Sentence.Word)
	}
}
