package internal

import "encoding/json"

// 客戶端 → 伺服器事件
const (
	EventCreateRoom        = "createRoom"
	EventHostUpdateRoom    = "hostUpdateRoom"
	EventJoinRoomAsManager = "joinRoomAsManager"
	EventJoinRoom          = "joinRoom"
	EventBuzz              = "buzz"
	EventPing              = "ping"
)

// 伺服器 → 客戶端事件
const (
	EventRoomCreated     = "roomCreated"
	EventRoomJoined      = "roomJoined"
	EventJoinedAsManager = "joinedAsManager"
	EventJoinRoomError   = "joinRoomError"
	EventRoomClosed      = "roomClosed"
	EventRoomStateUpdate = "roomStateUpdate"
	EventPong            = "pong"
)

// Event 伺服器送出的事件
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Message 客戶端送來的事件，Data 延後到 Router 再解析
type Message struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Broadcaster 廣播閘道
//
// 實作必須是非阻塞的：Room 在持有鎖的情況下呼叫 Publish，
// 以保證快照依照狀態變更的順序送達。發送失敗不重試。
type Broadcaster interface {
	// Subscribe 將連接加入房間的廣播對象
	Subscribe(roomCode, connID string)
	// Publish 送出事件給房間內所有連接
	Publish(roomCode string, event Event)
	// CloseRoom 送出最後一個事件，之後該房間不再有任何廣播
	CloseRoom(roomCode string, event Event)
}

// 直接回覆給單一連接的 payload
type roomCreatedPayload struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participantId"`
}

type joinedPayload struct {
	RoomCode      string `json:"roomCode"`
	DisplayName   string `json:"displayName"`
	ParticipantID string `json:"participantId"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// 客戶端 payload
type hostUpdatePayload struct {
	RoomCode string     `json:"roomCode"`
	Data     RoomUpdate `json:"data"`
}

type joinPayload struct {
	RoomCode      string `json:"roomCode"`
	DisplayName   string `json:"displayName"`
	ParticipantID string `json:"participantId,omitempty"`
}

type buzzPayload struct {
	RoomCode string `json:"roomCode"`
	BuzzRequest
}
