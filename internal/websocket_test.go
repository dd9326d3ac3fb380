package internal_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-buzzer-room/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsClient 測試用 WebSocket 客戶端
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startServer(t *testing.T, cooldown time.Duration) (*testServer, string) {
	t.Helper()
	s := newTestServer(t, cooldown)
	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect 讀取事件直到出現指定名稱，略過其他事件
func (c *wsClient) expect(event string) json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg inbound
		require.NoError(c.t, c.conn.ReadJSON(&msg), "等待 %s", event)
		if msg.Event == event {
			return msg.Data
		}
	}
}

// expectState 讀取狀態更新直到條件成立
func (c *wsClient) expectState(match func(s internal.Snapshot) bool) internal.Snapshot {
	c.t.Helper()
	for {
		var snap internal.Snapshot
		require.NoError(c.t, json.Unmarshal(c.expect(internal.EventRoomStateUpdate), &snap))
		if match(snap) {
			return snap
		}
	}
}

func decodeInto[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

type createdReply struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participantId"`
}

type joinedReply struct {
	RoomCode      string `json:"roomCode"`
	DisplayName   string `json:"displayName"`
	ParticipantID string `json:"participantId"`
}

type messageReply struct {
	Message string `json:"message"`
}

// createRoom 建立房間並等待第一次狀態更新
func createRoom(t *testing.T, url string) (*wsClient, string) {
	t.Helper()
	host := dial(t, url)
	host.send(internal.EventCreateRoom, map[string]any{})
	created := decodeInto[createdReply](t, host.expect(internal.EventRoomCreated))
	require.Len(t, created.Code, 6)
	assert.NotEmpty(t, created.ParticipantID)

	snap := host.expectState(func(s internal.Snapshot) bool { return true })
	assert.Equal(t, created.Code, snap.Code)
	return host, created.Code
}

func joinRoom(t *testing.T, url, code, name string) (*wsClient, joinedReply) {
	t.Helper()
	c := dial(t, url)
	c.send(internal.EventJoinRoom, map[string]any{"roomCode": code, "displayName": name})
	joined := decodeInto[joinedReply](t, c.expect(internal.EventRoomJoined))
	return c, joined
}

// TestWebSocket_CreateAndJoin 測試建立與加入房間
func TestWebSocket_CreateAndJoin(t *testing.T) {
	_, url := startServer(t, time.Minute)
	host, code := createRoom(t, url)

	alice, joined := joinRoom(t, url, code, "Alice")
	assert.Equal(t, code, joined.RoomCode)
	assert.Equal(t, "Alice", joined.DisplayName)
	assert.NotEmpty(t, joined.ParticipantID)

	// 加入者與主持人都收到包含新參與者的狀態
	hasAlice := func(s internal.Snapshot) bool { return len(s.Participants) == 2 }
	aliceView := alice.expectState(hasAlice)
	hostView := host.expectState(hasAlice)
	assert.Equal(t, "Alice", aliceView.Participants[1].DisplayName)
	assert.Equal(t, aliceView.Participants, hostView.Participants)
}

// TestWebSocket_JoinErrors 測試加入失敗回覆
func TestWebSocket_JoinErrors(t *testing.T) {
	_, url := startServer(t, time.Minute)
	_, code := createRoom(t, url)
	joinRoom(t, url, code, "Alice")

	tests := []struct {
		name     string
		code     string
		display  string
		expected error
	}{
		{name: "duplicate name", code: code, display: "Alice", expected: internal.ErrDuplicateDisplayName},
		{name: "unknown room", code: "000000", display: "Bob", expected: internal.ErrRoomNotFound},
		{name: "empty name", code: code, display: "", expected: internal.ErrDisplayNameRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, url)
			c.send(internal.EventJoinRoom, map[string]any{"roomCode": tt.code, "displayName": tt.display})
			reply := decodeInto[messageReply](t, c.expect(internal.EventJoinRoomError))
			assert.Equal(t, tt.expected.Error(), reply.Message)
		})
	}
}

// TestWebSocket_BuzzFlow 主持人開鈴、參賽者搶答、所有人看到結果
func TestWebSocket_BuzzFlow(t *testing.T) {
	_, url := startServer(t, time.Minute)
	host, code := createRoom(t, url)
	alice, joined := joinRoom(t, url, code, "Alice")
	bob, _ := joinRoom(t, url, code, "Bob")

	host.send(internal.EventHostUpdateRoom, map[string]any{
		"roomCode": code,
		"data":     map[string]any{"bellStatus": "open_infinite"},
	})
	open := alice.expectState(func(s internal.Snapshot) bool { return s.BellStatus == internal.StatusOpenInfinite })
	require.NotNil(t, open.BellOpenTimestamp)

	alice.send(internal.EventBuzz, map[string]any{
		"roomCode":      code,
		"participantId": joined.ParticipantID,
		"displayName":   "Alice",
		"bellSessionId": open.BellSessionID,
	})

	won := host.expectState(func(s internal.Snapshot) bool { return len(s.Buzzes) == 1 })
	assert.Equal(t, internal.StatusLockedWinner, won.BellStatus)
	assert.Equal(t, "Alice", won.Buzzes[0].DisplayName)
	assert.Equal(t, joined.ParticipantID, won.Buzzes[0].ParticipantID)
	assert.GreaterOrEqual(t, won.Buzzes[0].ElapsedSeconds, 0.0)

	bobView := bob.expectState(func(s internal.Snapshot) bool { return len(s.Buzzes) == 1 })
	assert.Equal(t, won.Buzzes, bobView.Buzzes)
}

// TestWebSocket_ContestantCannotUpdate 參賽者的更新被靜默忽略
func TestWebSocket_ContestantCannotUpdate(t *testing.T) {
	s, url := startServer(t, time.Minute)
	_, code := createRoom(t, url)
	alice, _ := joinRoom(t, url, code, "Alice")

	alice.send(internal.EventHostUpdateRoom, map[string]any{
		"roomCode": code,
		"data":     map[string]any{"bellStatus": "open_infinite"},
	})
	// 同一連接的事件依序處理，pong 到達時更新已經被處理過
	alice.send(internal.EventPing, nil)
	alice.expect(internal.EventPong)

	room, err := s.manager.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, internal.StatusLocked, room.Status())
}

// TestWebSocket_ManagerJoin 管理員可以操作鈴聲
func TestWebSocket_ManagerJoin(t *testing.T) {
	_, url := startServer(t, time.Minute)
	host, code := createRoom(t, url)

	mgr := dial(t, url)
	mgr.send(internal.EventJoinRoomAsManager, map[string]any{
		"roomCode":      code,
		"displayName":   "Quizmaster",
		"participantId": "mgr-1",
	})
	joined := decodeInto[joinedReply](t, mgr.expect(internal.EventJoinedAsManager))
	assert.Equal(t, "mgr-1", joined.ParticipantID)

	mgr.send(internal.EventHostUpdateRoom, map[string]any{
		"roomCode": code,
		"data":     map[string]any{"bellStatus": "open_timed", "bellDuration": 10},
	})
	snap := host.expectState(func(s internal.Snapshot) bool { return s.BellStatus == internal.StatusOpenTimed })
	require.NotNil(t, snap.BellDuration)
	assert.Equal(t, 10.0, *snap.BellDuration)
}

// TestWebSocket_HostDisconnect 主持人斷線時所有參與者收到 roomClosed
func TestWebSocket_HostDisconnect(t *testing.T) {
	s, url := startServer(t, time.Minute)
	host, code := createRoom(t, url)
	alice, _ := joinRoom(t, url, code, "Alice")

	require.NoError(t, host.conn.Close())

	reply := decodeInto[messageReply](t, alice.expect(internal.EventRoomClosed))
	assert.NotEmpty(t, reply.Message)

	require.Eventually(t, func() bool {
		_, err := s.manager.GetRoom(code)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocket_ContestantDisconnect 參賽者斷線時主持人收到新狀態
func TestWebSocket_ContestantDisconnect(t *testing.T) {
	s, url := startServer(t, time.Minute)
	host, code := createRoom(t, url)
	alice, _ := joinRoom(t, url, code, "Alice")
	host.expectState(func(s internal.Snapshot) bool { return len(s.Participants) == 2 })

	require.NoError(t, alice.conn.Close())

	snap := host.expectState(func(s internal.Snapshot) bool { return len(s.Participants) == 1 })
	assert.Equal(t, internal.RoleHost, snap.Participants[0].Role)

	require.Eventually(t, func() bool {
		return s.hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocket_Ping 測試應用層心跳
func TestWebSocket_Ping(t *testing.T) {
	_, url := startServer(t, time.Minute)
	c := dial(t, url)

	c.send(internal.EventPing, nil)
	c.expect(internal.EventPong)
}

// TestWebSocket_MalformedMessage 格式錯誤的訊息不會中斷連接
func TestWebSocket_MalformedMessage(t *testing.T) {
	_, url := startServer(t, time.Minute)
	c := dial(t, url)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	c.send("unknownEvent", map[string]any{})
	c.send(internal.EventBuzz, "wrong shape")

	c.send(internal.EventPing, nil)
	c.expect(internal.EventPong)
}
