// Package internal 實現即時搶答房間服務。
//
// 主持人控制一個共享的「鈴」，參賽者搶答，伺服器裁定誰、何時、依什麼規則搶到。
//
// # 房間註冊表
//
// Manager 以 6 位數房間碼管理房間：
//   - 創建房間（建立者成為主持人）
//   - 參賽者/管理員加入（名稱在房間內唯一）
//   - 連接中斷：主持人離開即刪除房間，參與者離開則移除記錄
//
// # 鈴聲狀態機
//
// Room 持有一個房間的全部權威狀態：
//
//	locked → open_infinite | open_timed → locked_winner → (冷卻) open_infinite
//	任何狀態 --reset--> locked（新場次、清空搶答）
//
// 搶答帶有場次 ID，與目前場次不符的搶答一律丟棄；
// 開鈴時間與搶答耗時只以伺服器時鐘計算。
//
// # WebSocket 通訊
//
// WebSocketHub 為每個連接分配 UUID，並實作 Broadcaster 依房間扇出事件。
// 客戶端以 JSON 文字訊息溝通：
//
//	{"event": "joinRoom", "data": {"roomCode": "123456", "displayName": "Alice"}}
//
// Router 將事件分派給 Manager 與 Room。加入錯誤以 joinRoomError 回報；
// 未授權的更新與無效的搶答則靜默忽略。
//
// # 使用範例
//
//	hub := internal.NewWebSocketHub(cfg.WebSocket, logger)
//	manager := internal.NewManager(cfg.Room, hub, logger)
//	hub.SetDispatcher(internal.NewRouter(manager, hub, logger))
//
//	handler := internal.NewHandler(manager, hub, cfg.StaticDir, logger)
//	log.Fatal(http.ListenAndServe(":3000", handler.Routes()))
//
// # 併發設計
//
// 每個房間一把互斥鎖，更新、搶答與冷卻計時器回呼在鎖內序列化；
// 不同房間互不阻塞。鎖順序固定為 Manager → Room → Hub。
package internal
