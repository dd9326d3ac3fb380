package internal

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BellStatus 鈴聲狀態
//
// 有限狀態機：
//
//	locked → open_infinite | open_timed → locked_winner
//	  ↑                       ↑______________↓ (冷卻後自動重開)
//	  └──────── reset ────────┘
//
// 狀態轉換規則：
//   - locked → open_*：主持人/管理員開鈴
//   - open_* → locked_winner：單一勝者模式下第一個有效搶答
//   - locked_winner → open_infinite：冷卻計時器到期（僅限多次搶答 + 無限開放）
//   - 任何狀態 → locked：reset（同時產生新場次、清空搶答）
type BellStatus string

const (
	StatusLocked       BellStatus = "locked"
	StatusOpenInfinite BellStatus = "open_infinite"
	StatusOpenTimed    BellStatus = "open_timed"
	StatusLockedWinner BellStatus = "locked_winner"
)

// Valid 是否為已知狀態
func (s BellStatus) Valid() bool {
	switch s {
	case StatusLocked, StatusOpenInfinite, StatusOpenTimed, StatusLockedWinner:
		return true
	}
	return false
}

// IsOpen 是否接受搶答
func (s BellStatus) IsOpen() bool {
	return strings.HasPrefix(string(s), "open")
}

// BuzzCount 每位參賽者每場次可搶答的次數
type BuzzCount string

const (
	BuzzSingle   BuzzCount = "single"
	BuzzMultiple BuzzCount = "multiple"
)

func (c BuzzCount) Valid() bool {
	return c == BuzzSingle || c == BuzzMultiple
}

// BuzzMode 搶答模式
type BuzzMode string

const (
	ModeAllBuzz      BuzzMode = "all-buzz"      // 記錄所有搶答，不鎖鈴
	ModeSingleWinner BuzzMode = "single-winner" // 第一個搶答即鎖鈴
)

func (m BuzzMode) Valid() bool {
	return m == ModeAllBuzz || m == ModeSingleWinner
}

// Options 房間選項
type Options struct {
	BuzzCount BuzzCount `json:"buzzCount"`
	BuzzMode  BuzzMode  `json:"buzzMode"`
}

// merge 淺層合併
func (o Options) merge(p *OptionsPatch) Options {
	if p == nil {
		return o
	}
	if p.BuzzCount != nil {
		o.BuzzCount = *p.BuzzCount
	}
	if p.BuzzMode != nil {
		o.BuzzMode = *p.BuzzMode
	}
	return o
}

// DefaultOptions 新房間的預設選項
func DefaultOptions() Options {
	return Options{BuzzCount: BuzzSingle, BuzzMode: ModeSingleWinner}
}

// Role 參與者角色
type Role string

const (
	RoleHost       Role = "host"
	RoleManager    Role = "manager"
	RoleContestant Role = "contestant"
)

// CanAdminister 是否可以更新房間狀態
func (r Role) CanAdminister() bool {
	return r == RoleHost || r == RoleManager
}

// Participant 參與者
type Participant struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          Role   `json:"role"`
}

// Buzz 一次有效的搶答
type Buzz struct {
	ParticipantID  string  `json:"participantId"`
	DisplayName    string  `json:"displayName"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	BellSessionID  string  `json:"bellSessionId"`
}

// Snapshot 廣播給客戶端的房間狀態（唯讀投影）
type Snapshot struct {
	Code              string        `json:"code"`
	BellStatus        BellStatus    `json:"bellStatus"`
	BellOpenTimestamp *int64        `json:"bellOpenTimestamp"` // Unix 毫秒
	BellDuration      *float64      `json:"bellDuration"`      // 秒
	BellSessionID     string        `json:"bellSessionId"`
	Options           Options       `json:"options"`
	LockedUsers       []string      `json:"lockedUsers"`
	Participants      []Participant `json:"participants"`
	Buzzes            []Buzz        `json:"buzzes"`
}

// Room 搶答房間
//
// 所有狀態變更（更新、搶答、計時器回呼）都在 mu 內序列化。
// 鎖順序：Manager.mu → Room.mu → Broadcaster，Room 不會回頭呼叫 Manager。
type Room struct {
	Code      string
	HostConn  string // 建立房間的連接，不可變
	CreatedAt time.Time

	mu           sync.Mutex
	status       BellStatus
	openedAt     time.Time // 零值表示 null
	duration     *float64
	sessionID    string
	options      Options
	lockedUsers  map[string]struct{}
	participants map[string]*Participant // connID -> Participant
	order        []string                // 加入順序
	buzzes       []Buzz
	closed       bool

	// 冷卻重開計時器；token 為 0 表示沒有待執行的重開
	cooldown      *time.Timer
	cooldownToken uint64
	armSeq        uint64

	cfg         RoomConfig
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewRoom 創建新房間，主持人為唯一的參與者
func NewRoom(code, hostConn string, cfg RoomConfig, broadcaster Broadcaster, logger *slog.Logger) *Room {
	r := &Room{
		Code:         code,
		HostConn:     hostConn,
		CreatedAt:    cfg.now(),
		status:       StatusLocked,
		sessionID:    newSessionID(""),
		options:      DefaultOptions(),
		lockedUsers:  make(map[string]struct{}),
		participants: make(map[string]*Participant),
		cfg:          cfg,
		broadcaster:  broadcaster,
		logger:       logger.With("room_code", code),
	}
	r.participants[hostConn] = &Participant{
		ParticipantID: hostConn,
		DisplayName:   "Host",
		Role:          RoleHost,
	}
	r.order = append(r.order, hostConn)
	return r
}

// newSessionID 產生與前一個不同的場次 ID（UUIDv7 依時間遞增）
func newSessionID(prev string) string {
	for {
		var id string
		if v7, err := uuid.NewV7(); err == nil {
			id = v7.String()
		} else {
			id = uuid.NewString()
		}
		if id != prev {
			return id
		}
	}
}

// ApplyUpdate 套用主持人/管理員的更新
//
// 未授權或格式錯誤的更新回傳錯誤但不廣播；呼叫端應視為靜默忽略。
func (r *Room) ApplyUpdate(connID string, u RoomUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	p, ok := r.participants[connID]
	if !ok || !p.Role.CanAdminister() {
		return ErrUnauthorized
	}
	if err := u.validate(); err != nil {
		return err
	}

	// 人工操作優先於自動重開
	r.cancelCooldownLocked()

	if u.Reset {
		prev := r.sessionID
		r.status = StatusLocked
		r.buzzes = nil
		r.openedAt = time.Time{}
		r.duration = nil
		r.sessionID = newSessionID(prev)
		r.logger.Info("鈴聲已重置", "bell_session_id", r.sessionID)
	}

	if u.BellStatus != nil {
		r.status = *u.BellStatus
		switch {
		case r.status.IsOpen():
			r.openedAt = r.cfg.now()
		case r.status == StatusLocked:
			r.openedAt = time.Time{}
		}
	}

	if u.BellDuration.Set {
		if u.BellDuration.Valid {
			d := u.BellDuration.Value
			r.duration = &d
		} else {
			r.duration = nil
		}
	}

	if u.LockedUsers != nil {
		r.lockedUsers = make(map[string]struct{}, len(*u.LockedUsers))
		for _, id := range *u.LockedUsers {
			r.lockedUsers[id] = struct{}{}
		}
	}

	r.options = r.options.merge(u.Options)

	r.logger.Debug("房間已更新",
		"conn_id", connID,
		"bell_status", r.status,
		"buzz_count", r.options.BuzzCount,
		"buzz_mode", r.options.BuzzMode)

	r.publishStateLocked()
	return nil
}

// ApplyBuzz 處理搶答
//
// 任何拒絕條件成立時不改變狀態也不廣播。
func (r *Room) ApplyBuzz(connID string, req BuzzRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if !r.status.IsOpen() {
		return ErrBellNotOpen
	}
	if req.BellSessionID != r.sessionID {
		return ErrStaleSession
	}
	p, ok := r.participants[connID]
	if !ok {
		return ErrNotParticipant
	}
	// 身分以伺服器記錄為準，payload 中不一致的 ID 視為冒用
	if req.ParticipantID != "" && req.ParticipantID != p.ParticipantID {
		return ErrNotParticipant
	}
	if _, locked := r.lockedUsers[p.ParticipantID]; locked {
		return ErrParticipantLocked
	}
	if r.options.BuzzCount == BuzzSingle && r.hasBuzzedLocked(p.ParticipantID) {
		return ErrBuzzLimitExceeded
	}

	elapsed := r.cfg.now().Sub(r.openedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if r.status == StatusOpenTimed && r.duration != nil && elapsed > *r.duration {
		return ErrBuzzWindowExpired
	}

	r.buzzes = append(r.buzzes, Buzz{
		ParticipantID:  p.ParticipantID,
		DisplayName:    p.DisplayName,
		ElapsedSeconds: elapsed,
		BellSessionID:  r.sessionID,
	})

	r.logger.Info("搶答成功",
		"participant_id", p.ParticipantID,
		"display_name", p.DisplayName,
		"elapsed_seconds", elapsed)

	if r.options.BuzzMode == ModeSingleWinner {
		wasInfinite := r.status == StatusOpenInfinite
		r.status = StatusLockedWinner
		if r.options.BuzzCount == BuzzMultiple && wasInfinite {
			r.armCooldownLocked()
		}
	}

	r.publishStateLocked()
	return nil
}

func (r *Room) hasBuzzedLocked(participantID string) bool {
	for _, b := range r.buzzes {
		if b.ParticipantID == participantID && b.BellSessionID == r.sessionID {
			return true
		}
	}
	return false
}

// armCooldownLocked 排程一次性的冷卻重開，需持有鎖
func (r *Room) armCooldownLocked() {
	r.cancelCooldownLocked()
	r.armSeq++
	token := r.armSeq
	r.cooldownToken = token
	r.cooldown = time.AfterFunc(r.cfg.ReopenCooldown, func() {
		r.reopenAfterCooldown(token)
	})
}

// cancelCooldownLocked 取消待執行的重開並使 token 失效，需持有鎖
func (r *Room) cancelCooldownLocked() {
	if r.cooldown != nil {
		r.cooldown.Stop()
		r.cooldown = nil
	}
	r.cooldownToken = 0
}

// reopenAfterCooldown 計時器回呼
//
// Stop 無法攔截已經觸發的回呼，因此必須重新檢查房間仍存在、
// 仍處於 locked_winner，且 token 與排程時相同。
func (r *Room) reopenAfterCooldown(token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || token != r.cooldownToken || r.status != StatusLockedWinner {
		return
	}

	r.cooldown = nil
	r.cooldownToken = 0
	r.status = StatusOpenInfinite

	r.logger.Info("冷卻結束，鈴聲重新開放", "bell_session_id", r.sessionID)
	r.publishStateLocked()
}

// PendingReopen 是否有待執行的冷卻重開
func (r *Room) PendingReopen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldownToken != 0
}

// addParticipant 加入參與者（不廣播，由呼叫端決定時機）
func (r *Room) addParticipant(connID, displayName, participantID string, role Role) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Participant{}, ErrRoomNotFound
	}
	for _, p := range r.participants {
		if p.DisplayName == displayName {
			return Participant{}, ErrDuplicateDisplayName
		}
	}
	if _, exists := r.participants[connID]; exists {
		return Participant{}, ErrAlreadyInRoom
	}
	if participantID == "" {
		participantID = connID
	}

	p := &Participant{
		ParticipantID: participantID,
		DisplayName:   displayName,
		Role:          role,
	}
	r.participants[connID] = p
	r.order = append(r.order, connID)

	// 訂閱必須在鎖內完成，之後的每次狀態變更都會送達
	r.broadcaster.Subscribe(r.Code, connID)
	return *p, nil
}

// removeParticipant 移除非主持人參與者並廣播
func (r *Room) removeParticipant(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok || connID == r.HostConn {
		return Participant{}, false
	}
	delete(r.participants, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if !r.closed {
		r.publishStateLocked()
	}
	return *p, true
}

// connIDs 房間內所有連接
func (r *Room) connIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// close 關閉房間：取消計時器並送出最後的 roomClosed
func (r *Room) close(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.cancelCooldownLocked()
	r.closed = true

	r.broadcaster.CloseRoom(r.Code, Event{
		Type: EventRoomClosed,
		Data: messagePayload{Message: message},
	})
}

// Participant 查詢連接對應的參與者
func (r *Room) Participant(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[connID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ParticipantCount 參與者數量（含主持人）
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Status 目前的鈴聲狀態
func (r *Room) Status() BellStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot 獲取房間狀態
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// PublishState 廣播目前狀態
func (r *Room) PublishState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.publishStateLocked()
}

func (r *Room) publishStateLocked() {
	r.broadcaster.Publish(r.Code, Event{
		Type: EventRoomStateUpdate,
		Data: r.snapshotLocked(),
	})
}

func (r *Room) snapshotLocked() Snapshot {
	s := Snapshot{
		Code:          r.Code,
		BellStatus:    r.status,
		BellSessionID: r.sessionID,
		Options:       r.options,
		LockedUsers:   make([]string, 0, len(r.lockedUsers)),
		Participants:  make([]Participant, 0, len(r.order)),
		Buzzes:        append([]Buzz{}, r.buzzes...),
	}
	if !r.openedAt.IsZero() {
		ms := r.openedAt.UnixMilli()
		s.BellOpenTimestamp = &ms
	}
	if r.duration != nil {
		d := *r.duration
		s.BellDuration = &d
	}
	for id := range r.lockedUsers {
		s.LockedUsers = append(s.LockedUsers, id)
	}
	sort.Strings(s.LockedUsers)
	for _, connID := range r.order {
		s.Participants = append(s.Participants, *r.participants[connID])
	}
	return s
}
