package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"klasskamp-service/config"
	"klasskamp-service/internal/constants"
	"klasskamp-service/internal/game"
)

func testGameCfg() config.GameConfig {
	return config.GameConfig{
		DefaultDurationSeconds: 10,
		DefaultQuestionCount:   20,
		RotationInterval:       3 * time.Second,
		TickInterval:           time.Second,
		BasePoints:             100,
		RoomIdleTimeout:        5 * time.Second,
		EvictionInterval:       2 * time.Second,
	}
}

func fixtureQuestions(n int) []game.Question {
	questions := make([]game.Question, n)
	for i := range questions {
		questions[i] = game.Question{
			ID:            fmt.Sprintf("q-%d", i),
			Sentence:      "Hunden springer fort i parken",
			Word:          "springer",
			Options:       []string{"substantiv", "verb", "adjektiv", "adverb"},
			CorrectAnswer: "verb",
		}
	}
	return questions
}

func startTestHub(t *testing.T) (*Hub, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	hub := NewHub(nil, nil, nil, clock, testGameCfg())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	// Wait for the eviction janitor so fake-clock advances reach it.
	clock.BlockUntil(1)
	return hub, clock
}

func createTestRoom(t *testing.T, hub *Hub, durationSeconds, questionCount int) RoomInfo {
	t.Helper()
	info, err := hub.CreateRoom(CreateRoomParams{
		TeacherName: "Fru Lindqvist",
		Questions:   fixtureQuestions(questionCount),
		Settings: game.Settings{
			Duration:       time.Duration(durationSeconds) * time.Second,
			RotationWindow: 3 * time.Second,
			BasePoints:     100,
		},
	})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	return info
}

func connect(hub *Hub) *Client {
	client := NewClient(hub, nil)
	hub.Register <- client
	return client
}

func send(hub *Hub, client *Client, msg InboundMessage) {
	hub.HandleMessage <- &ClientMessage{Client: client, Message: msg}
}

func intPtr(i int) *int { return &i }

func recvFrame(t *testing.T, client *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-client.Send:
		if !ok {
			t.Fatal("send channel closed while waiting for frame")
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("failed to decode frame %q: %v", data, err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func recvType(t *testing.T, client *Client, want MessageType) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		frame := recvFrame(t, client)
		if frame["type"] == string(want) {
			return frame
		}
	}
	t.Fatalf("did not receive a %s frame", want)
	return nil
}

func joinPlayer(t *testing.T, hub *Hub, client *Client, code, nickname string) string {
	t.Helper()
	send(hub, client, InboundMessage{Type: MessageTypeJoin, GameCode: code, Nickname: nickname})
	frame := recvType(t, client, MessageTypeJoinSuccess)
	playerID, _ := frame["playerId"].(string)
	if playerID == "" {
		t.Fatalf("join_success for %s carried no playerId", nickname)
	}
	return playerID
}

func joinHost(t *testing.T, hub *Hub, client *Client, code string) {
	t.Helper()
	send(hub, client, InboundMessage{Type: MessageTypeJoin, GameCode: code, IsTeacher: true})
	frame := recvType(t, client, MessageTypeJoinSuccess)
	if frame["role"] != constants.RoleHost {
		t.Fatalf("host join_success role = %v, want host", frame["role"])
	}
}

// advanceTick moves simulated time one tick and returns the frame closing
// that tick on the given client: a game_state_update, or game_finished.
func advanceTick(t *testing.T, clock *clockwork.FakeClock, client *Client) map[string]any {
	t.Helper()
	clock.Advance(time.Second)
	for {
		frame := recvFrame(t, client)
		switch frame["type"] {
		case string(MessageTypeGameStateUpdate), string(MessageTypeGameFinished):
			return frame
		}
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	hub, _ := startTestHub(t)
	client := connect(hub)

	send(hub, client, InboundMessage{Type: MessageTypeJoin, GameCode: "ZZZZ", Nickname: "Alice"})
	frame := recvType(t, client, MessageTypeError)
	if frame["message"] != "unknown room" {
		t.Errorf("error message = %v, want unknown room", frame["message"])
	}
}

func TestJoinBuildsRoomRoster(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)

	alice := connect(hub)
	aliceID := joinPlayer(t, hub, alice, info.Code, "Alice")
	bob := connect(hub)
	bobID := joinPlayer(t, hub, bob, info.Code, "Bob")
	if aliceID == bobID {
		t.Error("two players share an id")
	}

	snapshot, ok := hub.RoomSnapshot(info.Code)
	if !ok {
		t.Fatal("room not found after joins")
	}
	if len(snapshot.Players) != 2 {
		t.Errorf("roster size = %d, want 2", len(snapshot.Players))
	}
	if snapshot.Game.Status != constants.GameStatusWaiting {
		t.Errorf("room status = %s, want waiting", snapshot.Game.Status)
	}
}

func TestDuplicateJoinReattaches(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	alice := connect(hub)
	first := joinPlayer(t, hub, alice, info.Code, "Alice")
	// A client-side retry over the same connection must re-attach, not mint
	// a second player.
	second := joinPlayer(t, hub, alice, info.Code, "Alice")
	if second != first {
		t.Errorf("join retry minted a new player: %s vs %s", second, first)
	}

	snapshot, ok := hub.RoomSnapshot(info.Code)
	if !ok {
		t.Fatal("room not found after joins")
	}
	if len(snapshot.Players) != 1 {
		t.Errorf("roster size after duplicate join = %d, want 1", len(snapshot.Players))
	}
}

func TestJoinIsCaseInsensitiveOnCode(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	alice := connect(hub)
	send(hub, alice, InboundMessage{Type: MessageTypeJoin, GameCode: " " + strings.ToLower(info.Code) + " ", Nickname: "Alice"})
	recvType(t, alice, MessageTypeJoinSuccess)
}

func TestSecondHostRejected(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)

	intruder := connect(hub)
	send(hub, intruder, InboundMessage{Type: MessageTypeJoin, GameCode: info.Code, IsTeacher: true})
	frame := recvType(t, intruder, MessageTypeError)
	if frame["message"] != "room already has a host" {
		t.Errorf("error message = %v, want room already has a host", frame["message"])
	}

	// The original host keeps exclusive start rights.
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")
	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, host, MessageTypeGameStarted)
}

func TestHostDisconnectFreesSlot(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	first := connect(hub)
	joinHost(t, hub, first, info.Code)
	hub.Unregister <- first

	second := connect(hub)
	joinHost(t, hub, second, info.Code)
}

func TestStartGameAuthorization(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")

	send(hub, alice, InboundMessage{Type: MessageTypeStartGame})
	frame := recvType(t, alice, MessageTypeError)
	if frame["message"] != "only the host can start the game" {
		t.Errorf("error message = %v", frame["message"])
	}

	stranger := connect(hub)
	send(hub, stranger, InboundMessage{Type: MessageTypeStartGame})
	frame = recvType(t, stranger, MessageTypeError)
	if frame["message"] != "join a room first" {
		t.Errorf("error message = %v", frame["message"])
	}

	// No state change, no broadcast beyond the errors.
	snapshot, _ := hub.RoomSnapshot(info.Code)
	if snapshot.Game.Status != constants.GameStatusWaiting {
		t.Errorf("room status = %s, want waiting", snapshot.Game.Status)
	}
}

func TestStartGameRequiresPlayers(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	frame := recvType(t, host, MessageTypeError)
	if frame["message"] != game.ErrNoPlayers.Error() {
		t.Errorf("error message = %v, want %q", frame["message"], game.ErrNoPlayers.Error())
	}
}

func TestStartGameBroadcasts(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})

	for _, client := range []*Client{host, alice} {
		started := recvType(t, client, MessageTypeGameStarted)
		if started["gameDurationSeconds"] != float64(10) {
			t.Errorf("gameDurationSeconds = %v, want 10", started["gameDurationSeconds"])
		}
		question := recvType(t, client, MessageTypeNewQuestion)
		if question["questionIndex"] != float64(0) {
			t.Errorf("first questionIndex = %v, want 0", question["questionIndex"])
		}
		state := recvType(t, client, MessageTypeGameStateUpdate)
		if state["timeRemaining"] != float64(10) {
			t.Errorf("timeRemaining = %v, want 10", state["timeRemaining"])
		}
	}

	// A second start_game is an error only, no second broadcast.
	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	frame := recvType(t, host, MessageTypeError)
	if frame["message"] != game.ErrNotWaiting.Error() {
		t.Errorf("error message = %v, want %q", frame["message"], game.ErrNotWaiting.Error())
	}
}

func TestQuestionRotation(t *testing.T) {
	hub, clock := startTestHub(t)
	info := createTestRoom(t, hub, 30, 20)

	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")
	host := connect(hub)
	joinHost(t, hub, host, info.Code)

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, alice, MessageTypeGameStateUpdate)
	clock.BlockUntil(2)

	// Two ticks inside the window rotate nothing.
	advanceTick(t, clock, alice)
	advanceTick(t, clock, alice)

	clock.Advance(time.Second)
	question := recvType(t, alice, MessageTypeNewQuestion)
	if question["questionIndex"] != float64(1) {
		t.Errorf("questionIndex after first rotation = %v, want 1", question["questionIndex"])
	}
	recvType(t, alice, MessageTypeGameStateUpdate)
}

func TestGameFinishesOnTimerExactlyOnce(t *testing.T) {
	hub, clock := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")
	bob := connect(hub)
	joinPlayer(t, hub, bob, info.Code, "Bob")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, alice, MessageTypeGameStateUpdate)
	clock.BlockUntil(2)

	var finished map[string]any
	for i := 1; i <= 10; i++ {
		frame := advanceTick(t, clock, alice)
		if frame["type"] == string(MessageTypeGameFinished) {
			if i != 10 {
				t.Fatalf("game finished on tick %d, want 10", i)
			}
			finished = frame
		}
	}
	if finished == nil {
		t.Fatal("no game_finished after the duration elapsed")
	}

	leaderboard, ok := finished["leaderboard"].([]any)
	if !ok || len(leaderboard) != 2 {
		t.Fatalf("leaderboard = %v, want 2 entries", finished["leaderboard"])
	}
	for _, raw := range leaderboard {
		entry := raw.(map[string]any)
		if entry["score"] != float64(0) || entry["correctAnswers"] != float64(0) {
			t.Errorf("idle player has score %v correct %v, want 0/0", entry["score"], entry["correctAnswers"])
		}
	}
	// Join-order tie break: Alice before Bob.
	if leaderboard[0].(map[string]any)["nickname"] != "Alice" {
		t.Errorf("leaderboard[0] = %v, want Alice", leaderboard[0].(map[string]any)["nickname"])
	}

	// The ticker is gone: further time produces no frames at all.
	clock.Advance(2 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := len(alice.Send); n != 0 {
		t.Errorf("%d frames after finish, want 0", n)
	}
}

func TestAnswerScoring(t *testing.T) {
	hub, clock := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")
	bob := connect(hub)
	joinPlayer(t, hub, bob, info.Code, "Bob")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, alice, MessageTypeGameStateUpdate)
	clock.BlockUntil(2)

	send(hub, alice, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "verb"})
	result := recvType(t, alice, MessageTypeAnswerResult)
	if result["correct"] != true || result["points"] != float64(100) || result["totalScore"] != float64(100) {
		t.Errorf("answer_result = %v, want correct 100/100", result)
	}

	send(hub, bob, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "substantiv"})
	result = recvType(t, bob, MessageTypeAnswerResult)
	if result["correct"] != false || result["points"] != float64(0) {
		t.Errorf("wrong answer_result = %v, want incorrect 0", result)
	}

	var finished map[string]any
	for i := 1; i <= 10; i++ {
		frame := advanceTick(t, clock, alice)
		if frame["type"] == string(MessageTypeGameFinished) {
			finished = frame
		}
	}
	if finished == nil {
		t.Fatal("game never finished")
	}

	leaderboard := finished["leaderboard"].([]any)
	top := leaderboard[0].(map[string]any)
	if top["nickname"] != "Alice" || top["score"] != float64(100) || top["correctAnswers"] != float64(1) {
		t.Errorf("leaderboard[0] = %v, want Alice 100/1", top)
	}
	second := leaderboard[1].(map[string]any)
	if second["nickname"] != "Bob" || second["score"] != float64(0) {
		t.Errorf("leaderboard[1] = %v, want Bob 0", second)
	}
}

func TestDuplicateAnswerRejected(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, alice, MessageTypeGameStateUpdate)

	send(hub, alice, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "verb"})
	recvType(t, alice, MessageTypeAnswerResult)

	send(hub, alice, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "verb"})
	frame := recvType(t, alice, MessageTypeError)
	if frame["message"] != game.ErrAlreadyAnswered.Error() {
		t.Errorf("error message = %v, want %q", frame["message"], game.ErrAlreadyAnswered.Error())
	}
}

func TestAnswerFromHostRejected(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, host, MessageTypeGameStateUpdate)

	send(hub, host, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "verb"})
	frame := recvType(t, host, MessageTypeError)
	if frame["message"] != "only players can submit answers" {
		t.Errorf("error message = %v", frame["message"])
	}
}

func TestAnswerAfterFinishSilentlyDropped(t *testing.T) {
	hub, clock := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	joinPlayer(t, hub, alice, info.Code, "Alice")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, alice, MessageTypeGameStateUpdate)
	clock.BlockUntil(2)

	for i := 1; i <= 10; i++ {
		if frame := advanceTick(t, clock, alice); frame["type"] == string(MessageTypeGameFinished) {
			break
		}
	}

	send(hub, alice, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "verb"})
	// A ping rides behind the dropped answer: its pong must be the very next
	// frame, proving no error was emitted.
	send(hub, alice, InboundMessage{Type: MessageTypePing})
	frame := recvFrame(t, alice)
	if frame["type"] != string(MessageTypePong) {
		t.Errorf("frame after late answer = %v, want pong", frame["type"])
	}
}

func TestReconnectKeepsScore(t *testing.T) {
	hub, _ := startTestHub(t)
	info := createTestRoom(t, hub, 60, 20)

	host := connect(hub)
	joinHost(t, hub, host, info.Code)
	alice := connect(hub)
	aliceID := joinPlayer(t, hub, alice, info.Code, "Alice")

	send(hub, host, InboundMessage{Type: MessageTypeStartGame})
	recvType(t, alice, MessageTypeGameStateUpdate)
	recvType(t, host, MessageTypeGameStateUpdate)

	send(hub, alice, InboundMessage{Type: MessageTypeAnswer, QuestionIndex: intPtr(0), Answer: "verb"})
	recvType(t, alice, MessageTypeAnswerResult)

	hub.Unregister <- alice
	update := recvType(t, host, MessageTypeRoomUpdate)
	players := update["players"].([]any)
	if players[0].(map[string]any)["isConnected"] != false {
		t.Error("disconnected player still marked connected")
	}

	again := connect(hub)
	send(hub, again, InboundMessage{Type: MessageTypeJoin, GameCode: info.Code, Nickname: "Alice", PlayerID: aliceID})
	frame := recvType(t, again, MessageTypeJoinSuccess)
	if frame["playerId"] != aliceID {
		t.Errorf("reconnect playerId = %v, want %s", frame["playerId"], aliceID)
	}

	// The returning player is caught up with the running game.
	state := recvType(t, again, MessageTypeGameStateUpdate)
	for _, raw := range state["players"].([]any) {
		player := raw.(map[string]any)
		if player["id"] == aliceID && player["score"] != float64(100) {
			t.Errorf("score after reconnect = %v, want 100", player["score"])
		}
	}
}

func TestUnknownMessageType(t *testing.T) {
	hub, _ := startTestHub(t)
	client := connect(hub)

	send(hub, client, InboundMessage{Type: "teleport"})
	frame := recvType(t, client, MessageTypeError)
	if frame["message"] != "unknown message type: teleport" {
		t.Errorf("error message = %v", frame["message"])
	}

	// The connection survives and keeps working.
	send(hub, client, InboundMessage{Type: MessageTypePing})
	recvType(t, client, MessageTypePong)
}

func TestIdleRoomEvicted(t *testing.T) {
	hub, clock := startTestHub(t)
	info := createTestRoom(t, hub, 10, 20)

	if _, ok := hub.RoomSnapshot(info.Code); !ok {
		t.Fatal("room missing right after creation")
	}

	// Idle timeout is 5s, janitor runs every 2s: gone by 6s.
	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := hub.RoomSnapshot(info.Code); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("idle room was not evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
