package internal

import "errors"

// 加入房間時的錯誤（會以 joinRoomError 回報給呼叫端）
var (
	ErrRoomNotFound         = errors.New("房間不存在")
	ErrDuplicateDisplayName = errors.New("名稱已被使用，請選擇其他名稱")
	ErrDisplayNameRequired  = errors.New("名稱不能為空")
	ErrAlreadyInRoom        = errors.New("連線已在其他房間中")
)

// 更新與搶答時的錯誤
//
// 這些錯誤只回傳給 Go 呼叫端（測試、除錯日誌），Router 不會轉發給客戶端。
var (
	ErrUnauthorized      = errors.New("只有主持人或管理員可以更新房間")
	ErrInvalidUpdate     = errors.New("無效的更新內容")
	ErrStaleSession      = errors.New("鈴聲場次已過期")
	ErrBellNotOpen       = errors.New("鈴聲尚未開放")
	ErrNotParticipant    = errors.New("連線不在房間內")
	ErrParticipantLocked = errors.New("參賽者已被鎖定")
	ErrBuzzLimitExceeded = errors.New("本場次已搶答過")
	ErrBuzzWindowExpired = errors.New("已超過搶答時限")
	ErrRoomClosed        = errors.New("房間已關閉")
)
