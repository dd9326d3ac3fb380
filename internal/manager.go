package internal

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Manager 房間註冊表
//
// rooms 與 connRoom 兩個索引在同一把鎖下維護，
// 刪除房間時不會出現「房間已刪但索引仍指向它」的中間狀態。
type Manager struct {
	rooms       map[string]*Room  // code -> Room
	connRoom    map[string]string // connID -> code
	mu          sync.RWMutex
	cfg         RoomConfig
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewManager 創建房間註冊表
func NewManager(cfg RoomConfig, broadcaster Broadcaster, logger *slog.Logger) *Manager {
	return &Manager{
		rooms:       make(map[string]*Room),
		connRoom:    make(map[string]string),
		cfg:         cfg,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// CreateRoom 創建房間，hostConn 成為主持人
func (m *Manager) CreateRoom(hostConn string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if code, exists := m.connRoom[hostConn]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInRoom, code)
	}

	code := m.generateCode()
	for {
		if _, taken := m.rooms[code]; !taken {
			break
		}
		code = m.generateCode()
	}

	room := NewRoom(code, hostConn, m.cfg, m.broadcaster, m.logger)
	m.rooms[code] = room
	m.connRoom[hostConn] = code
	m.broadcaster.Subscribe(code, hostConn)

	m.logger.Info("房間已創建", "room_code", code, "conn_id", hostConn)
	return room, nil
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(code string) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[code]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return room, nil
}

// JoinRoom 以參賽者身分加入房間
func (m *Manager) JoinRoom(code, connID, displayName string) (*Room, Participant, error) {
	return m.join(code, connID, displayName, "", RoleContestant)
}

// JoinAsManager 以管理員身分加入房間，participantID 為空時使用連接 ID
func (m *Manager) JoinAsManager(code, connID, displayName, participantID string) (*Room, Participant, error) {
	return m.join(code, connID, displayName, participantID, RoleManager)
}

func (m *Manager) join(code, connID, displayName, participantID string, role Role) (*Room, Participant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, Participant{}, ErrDisplayNameRequired
	}

	// 寫鎖涵蓋整個加入流程，避免同一連接同時加入兩個房間
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.connRoom[connID]; exists {
		return nil, Participant{}, fmt.Errorf("%w: %s", ErrAlreadyInRoom, existing)
	}
	room, exists := m.rooms[code]
	if !exists {
		return nil, Participant{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}

	p, err := room.addParticipant(connID, displayName, participantID, role)
	if err != nil {
		return nil, Participant{}, err
	}
	m.connRoom[connID] = code

	m.logger.Info("參與者加入房間",
		"room_code", code,
		"conn_id", connID,
		"participant_id", p.ParticipantID,
		"display_name", p.DisplayName,
		"role", p.Role)

	return room, p, nil
}

// RemoveByHost 移除 conn 擔任主持人的房間
//
// 只從註冊表移除，不關閉房間；關閉由 Disconnect 負責。
func (m *Manager) RemoveByHost(connID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, exists := m.connRoom[connID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	room := m.rooms[code]
	if room == nil || room.HostConn != connID {
		return nil, ErrRoomNotFound
	}

	for _, id := range room.connIDs() {
		delete(m.connRoom, id)
	}
	delete(m.rooms, code)

	m.logger.Info("房間已移除", "room_code", code)
	return room, nil
}

// RemoveParticipant 移除 conn 的參與者記錄（主持人除外）並廣播
func (m *Manager) RemoveParticipant(connID string) (*Room, Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, exists := m.connRoom[connID]
	if !exists {
		return nil, Participant{}, ErrNotParticipant
	}
	room := m.rooms[code]
	if room == nil || room.HostConn == connID {
		return nil, Participant{}, ErrNotParticipant
	}

	p, ok := room.removeParticipant(connID)
	delete(m.connRoom, connID)
	if !ok {
		return nil, Participant{}, ErrNotParticipant
	}

	m.logger.Info("參與者離開房間",
		"room_code", code,
		"conn_id", connID,
		"display_name", p.DisplayName)

	return room, p, nil
}

// Disconnect 處理連接中斷
//
// 主持人離開：刪除房間、取消計時器、送出 roomClosed。
// 參與者離開：移除記錄並廣播。
// 索引項目在第一次處理時即被消耗，重複呼叫不會有任何效果。
func (m *Manager) Disconnect(connID string) {
	if room, err := m.RemoveByHost(connID); err == nil {
		room.close("主持人已離開房間")
		return
	}
	_, _, _ = m.RemoveParticipant(connID)
}

// Rooms 列出所有房間
func (m *Manager) Rooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	rooms := m.Rooms()

	statusCount := make(map[BellStatus]int)
	totalParticipants := 0
	for _, room := range rooms {
		statusCount[room.Status()]++
		totalParticipants += room.ParticipantCount()
	}

	return map[string]any{
		"total_rooms":        len(rooms),
		"total_participants": totalParticipants,
		"by_bell_status":     statusCount,
	}
}

// Stop 關閉所有房間
func (m *Manager) Stop() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.connRoom = make(map[string]string)
	m.mu.Unlock()

	for _, room := range rooms {
		room.close("伺服器關閉中")
	}
	m.logger.Info("房間註冊表已停止", "closed_rooms", len(rooms))
}

// generateCode 生成 6 位數房間碼（100000–999999）
func (m *Manager) generateCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// 隨機讀取失敗時使用時間戳
		return fmt.Sprintf("%06d", 100000+time.Now().UnixNano()%900000)
	}
	return fmt.Sprintf("%06d", 100000+n.Int64())
}
