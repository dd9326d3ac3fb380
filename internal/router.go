package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
)

// Replier 直接回覆單一連接
type Replier interface {
	Send(connID string, event Event)
}

// Router 事件路由
//
// 依事件名稱分派到 Manager / Room。
// 只有加入房間的錯誤會回報給客戶端，其他違規一律靜默忽略。
type Router struct {
	manager *Manager
	replier Replier
	logger  *slog.Logger
}

// NewRouter 創建事件路由
func NewRouter(manager *Manager, replier Replier, logger *slog.Logger) *Router {
	return &Router{
		manager: manager,
		replier: replier,
		logger:  logger,
	}
}

// Dispatch 處理一個客戶端事件
func (rt *Router) Dispatch(connID string, msg Message) {
	switch msg.Type {
	case EventCreateRoom:
		rt.createRoom(connID)
	case EventHostUpdateRoom:
		rt.hostUpdateRoom(connID, msg.Data)
	case EventJoinRoomAsManager:
		rt.join(connID, msg.Data, RoleManager)
	case EventJoinRoom:
		rt.join(connID, msg.Data, RoleContestant)
	case EventBuzz:
		rt.buzz(connID, msg.Data)
	case EventPing:
		rt.replier.Send(connID, Event{Type: EventPong})
	default:
		rt.logger.Debug("收到未知事件", "event", msg.Type, "conn_id", connID)
	}
}

// Disconnect 連接中斷
func (rt *Router) Disconnect(connID string) {
	rt.manager.Disconnect(connID)
}

func (rt *Router) createRoom(connID string) {
	room, err := rt.manager.CreateRoom(connID)
	if err != nil {
		rt.logger.Warn("創建房間失敗", "error", err, "conn_id", connID)
		return
	}

	rt.replier.Send(connID, Event{
		Type: EventRoomCreated,
		Data: roomCreatedPayload{Code: room.Code, ParticipantID: connID},
	})
	room.PublishState()
}

func (rt *Router) hostUpdateRoom(connID string, data json.RawMessage) {
	var payload hostUpdatePayload
	if !rt.decode(connID, EventHostUpdateRoom, data, &payload) {
		return
	}

	room, err := rt.manager.GetRoom(payload.RoomCode)
	if err != nil {
		rt.logger.Debug("忽略更新", "error", err, "conn_id", connID)
		return
	}
	if err := room.ApplyUpdate(connID, payload.Data); err != nil {
		rt.logger.Debug("忽略更新",
			"error", err,
			"room_code", payload.RoomCode,
			"conn_id", connID)
	}
}

func (rt *Router) join(connID string, data json.RawMessage, role Role) {
	event := EventJoinRoom
	if role == RoleManager {
		event = EventJoinRoomAsManager
	}

	var payload joinPayload
	if !rt.decode(connID, event, data, &payload) {
		return
	}

	var (
		room *Room
		p    Participant
		err  error
	)
	if role == RoleManager {
		room, p, err = rt.manager.JoinAsManager(payload.RoomCode, connID, payload.DisplayName, payload.ParticipantID)
	} else {
		room, p, err = rt.manager.JoinRoom(payload.RoomCode, connID, payload.DisplayName)
	}
	if err != nil {
		rt.logger.Debug("加入房間失敗",
			"error", err,
			"room_code", payload.RoomCode,
			"conn_id", connID)
		rt.replier.Send(connID, Event{
			Type: EventJoinRoomError,
			Data: messagePayload{Message: joinErrorMessage(err)},
		})
		return
	}

	reply := EventRoomJoined
	if role == RoleManager {
		reply = EventJoinedAsManager
	}
	rt.replier.Send(connID, Event{
		Type: reply,
		Data: joinedPayload{
			RoomCode:      room.Code,
			DisplayName:   p.DisplayName,
			ParticipantID: p.ParticipantID,
		},
	})
	room.PublishState()
}

func (rt *Router) buzz(connID string, data json.RawMessage) {
	var payload buzzPayload
	if !rt.decode(connID, EventBuzz, data, &payload) {
		return
	}

	room, err := rt.manager.GetRoom(payload.RoomCode)
	if err != nil {
		rt.logger.Debug("忽略搶答", "error", err, "conn_id", connID)
		return
	}
	if err := room.ApplyBuzz(connID, payload.BuzzRequest); err != nil {
		rt.logger.Debug("忽略搶答",
			"error", err,
			"room_code", payload.RoomCode,
			"conn_id", connID)
	}
}

func (rt *Router) decode(connID, event string, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		rt.logger.Debug("事件缺少資料", "event", event, "conn_id", connID)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		rt.logger.Debug("解析事件資料失敗", "error", err, "event", event, "conn_id", connID)
		return false
	}
	return true
}

// joinErrorMessage 將加入錯誤轉為給使用者看的訊息
func joinErrorMessage(err error) string {
	for _, known := range []error{
		ErrRoomNotFound,
		ErrDuplicateDisplayName,
		ErrDisplayNameRequired,
		ErrAlreadyInRoom,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "無法加入房間"
}
