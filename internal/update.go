package internal

import (
	"bytes"
	"encoding/json"
)

// Nullable 區分三種 JSON 狀態：欄位不存在、明確為 null、有值。
type Nullable[T any] struct {
	Set   bool // 欄位出現在 payload 中
	Valid bool // 欄位不是 null
	Value T
}

// Some 建立有值的 Nullable
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Valid: true, Value: v}
}

// Null 建立明確為 null 的 Nullable
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// UnmarshalJSON 只有欄位存在時才會被呼叫，因此 Set 一律為 true
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Valid = false
		var zero T
		n.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// MarshalJSON 未設定或 null 都輸出 null
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Set || !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// OptionsPatch 選項的部分更新，未出現的欄位保留原值
type OptionsPatch struct {
	BuzzCount *BuzzCount `json:"buzzCount,omitempty"`
	BuzzMode  *BuzzMode  `json:"buzzMode,omitempty"`
}

// RoomUpdate 主持人/管理員送出的部分更新
//
// 合併規則：
//   - Reset：鎖定、清空搶答、清除時間戳與時限、產生新場次
//   - BellStatus：覆寫；open 開頭時以伺服器時鐘記錄開鈴時間
//   - BellDuration：只要欄位出現（包含 null）就覆寫
//   - LockedUsers：整組替換
//   - Options：淺層合併
type RoomUpdate struct {
	Reset        bool              `json:"reset,omitempty"`
	BellStatus   *BellStatus       `json:"bellStatus,omitempty"`
	BellDuration Nullable[float64] `json:"bellDuration"`
	LockedUsers  *[]string         `json:"lockedUsers,omitempty"`
	Options      *OptionsPatch     `json:"options,omitempty"`
}

// validate 檢查列舉值，未知值視為格式錯誤
func (u RoomUpdate) validate() error {
	if u.BellStatus != nil && !u.BellStatus.Valid() {
		return ErrInvalidUpdate
	}
	if u.BellDuration.Valid && u.BellDuration.Value < 0 {
		return ErrInvalidUpdate
	}
	if u.Options != nil {
		if u.Options.BuzzCount != nil && !u.Options.BuzzCount.Valid() {
			return ErrInvalidUpdate
		}
		if u.Options.BuzzMode != nil && !u.Options.BuzzMode.Valid() {
			return ErrInvalidUpdate
		}
	}
	return nil
}

// BuzzRequest 參賽者的搶答請求
type BuzzRequest struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	BellSessionID string `json:"bellSessionId"`
}
