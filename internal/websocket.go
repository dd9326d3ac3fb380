package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Dispatcher 處理連接送來的事件
type Dispatcher interface {
	Dispatch(connID string, msg Message)
	// Disconnect 每個連接只會被呼叫一次
	Disconnect(connID string)
}

// WebSocketHub WebSocket 連接中心
//
// 同時扮演兩個角色：
//   - 連接身分：每個連接在升級時取得唯一的 UUID
//   - 廣播閘道：實作 Broadcaster，依房間碼扇出事件
//
// 連接映射：
//   - conns：connID -> Connection
//   - rooms：roomCode -> connID -> Connection
type WebSocketHub struct {
	cfg        WebSocketConfig
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	dispatcher Dispatcher

	conns map[string]*Connection
	rooms map[string]map[string]*Connection
	mu    sync.RWMutex
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次、斷線只通知一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(cfg WebSocketConfig, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// SetDispatcher 注入事件處理器（Router 依賴 Manager，Manager 依賴 Hub）
func (hub *WebSocketHub) SetDispatcher(d Dispatcher) {
	hub.dispatcher = d
}

func (hub *WebSocketHub) checkOrigin(r *http.Request) bool {
	if len(hub.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(hub.cfg.AllowedOrigins, origin)
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, hub.cfg.SendBuffer),
		Hub:      hub,
		LastPing: time.Now(),
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立", "conn_id", connection.ID)
}

func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.conns[conn.ID] = conn
}

// unregister 取消註冊連接並通知 Dispatcher
func (hub *WebSocketHub) unregister(conn *Connection) {
	conn.closeOnce.Do(func() {
		hub.mu.Lock()
		delete(hub.conns, conn.ID)
		for code, roomConns := range hub.rooms {
			if _, ok := roomConns[conn.ID]; ok {
				delete(roomConns, conn.ID)
				if len(roomConns) == 0 {
					delete(hub.rooms, code)
				}
			}
		}
		close(conn.Send)
		hub.mu.Unlock()

		hub.logger.Info("WebSocket 連接關閉", "conn_id", conn.ID)

		// 必須在釋放 hub 鎖之後呼叫，Manager → Room → Hub 的鎖順序才不會反轉
		if hub.dispatcher != nil {
			hub.dispatcher.Disconnect(conn.ID)
		}
	})
}

// Subscribe 將連接加入房間廣播
func (hub *WebSocketHub) Subscribe(roomCode, connID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, ok := hub.conns[connID]
	if !ok {
		return
	}
	if hub.rooms[roomCode] == nil {
		hub.rooms[roomCode] = make(map[string]*Connection)
	}
	hub.rooms[roomCode][connID] = conn
}

// Publish 廣播事件到房間
func (hub *WebSocketHub) Publish(roomCode string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.rooms[roomCode] {
		hub.enqueue(conn, message)
	}
}

// CloseRoom 送出最後一個事件並移除房間的廣播對象
func (hub *WebSocketHub) CloseRoom(roomCode string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
		return
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	for _, conn := range hub.rooms[roomCode] {
		hub.enqueue(conn, message)
	}
	delete(hub.rooms, roomCode)
}

// Send 直接回覆單一連接
func (hub *WebSocketHub) Send(connID string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if conn, ok := hub.conns[connID]; ok {
		hub.enqueue(conn, message)
	}
}

// enqueue 非阻塞寫入，需持有 hub 鎖（讀或寫）
func (hub *WebSocketHub) enqueue(conn *Connection, message []byte) {
	select {
	case conn.Send <- message:
	default:
		hub.logger.Warn("連接緩衝區滿，丟棄訊息", "conn_id", conn.ID)
	}
}

// Stop 關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.mu.RLock()
	conns := make([]*Connection, 0, len(hub.conns))
	for _, conn := range hub.conns {
		conns = append(conns, conn)
	}
	hub.mu.RUnlock()

	// 關閉底層連接後 readPump 會結束並完成註銷
	for _, conn := range conns {
		conn.Conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// readPump 讀取客戶端消息
//
// 心跳：PongWait 內沒有收到任何訊息（包括 Pong）就關閉連接。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	cfg := c.Hub.cfg
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端，並定期送出 Ping
func (c *Connection) writePump() {
	cfg := c.Hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 每個事件一個 frame，客戶端逐一解析 JSON
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 解析事件信封並交給 Dispatcher
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Debug("解析客戶端消息失敗",
			"error", err,
			"conn_id", c.ID)
		return
	}
	if c.Hub.dispatcher != nil {
		c.Hub.dispatcher.Dispatch(c.ID, msg)
	}
}
