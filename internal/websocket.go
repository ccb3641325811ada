package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把房間狀態即時推送給雙方玩家，並處理斷線重連？
//
// 核心挑戰：
//   1. 實時通信：每次落子後立即推送棋盤
//   2. 連接管理：重新整理頁面 = 舊連線斷開 + 新連線建立
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 廣播順序：房間在鎖內發布，Hub 不可阻塞
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信
//   ✅ Hub 模式 - 集中管理所有連接與房間群組
//   ✅ Ping/Pong 心跳 - 54s/60s
//   ✅ 緩衝 channel - 非阻塞入列，由 writePump 寫出

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// WebSocketHub WebSocket 連接中心
//
// 同時實作 Publisher（房間廣播）與 Transport（單播、加入群組）。
//
// 連接映射：
//   - connections：connID -> Connection（單播）
//   - rooms：roomID -> connID -> Connection（房間廣播）
type WebSocketHub struct {
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]*Connection
	rooms       map[string]map[string]*Connection
	mu          sync.RWMutex
	stopped     bool
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	RoomID    string // 受 Hub.mu 保護
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	session   *Session
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
	}
}

// ServeWS 處理 WebSocket 連接
//
// 客戶端以查詢參數帶上 token：/ws?token=xxx
func (hub *WebSocketHub) ServeWS(coord *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")

		// 升級為 WebSocket 連接
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Error("升級 WebSocket 失敗", "error", err)
			return
		}

		c := &Connection{
			ID:   uuid.NewString(),
			Conn: conn,
			Send: make(chan []byte, sendBufferSize),
			Hub:  hub,
		}

		if !hub.register(c) {
			conn.Close()
			return
		}

		go c.writePump()

		// Connect 期間的單播已入列，readPump 啟動前 session 已就緒
		c.session = coord.Connect(c.ID, token)
		go c.readPump(coord)

		hub.logger.Info("WebSocket 連接建立",
			"conn_id", c.ID,
			"room_id", c.session.RoomID)
	}
}

// register 註冊連接
func (hub *WebSocketHub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[c.ID] = c
	return true
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[c.ID]; !exists || actual != c {
		return
	}
	delete(hub.connections, c.ID)

	if roomConns, exists := hub.rooms[c.RoomID]; exists {
		delete(roomConns, c.ID)
		if len(roomConns) == 0 {
			delete(hub.rooms, c.RoomID)
		}
	}

	// 使用 sync.Once 確保 channel 只關閉一次
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// Join 實作 Transport
func (hub *WebSocketHub) Join(connID, roomID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	c, exists := hub.connections[connID]
	if !exists {
		return
	}
	if old, ok := hub.rooms[c.RoomID]; ok && c.RoomID != roomID {
		delete(old, connID)
	}
	if hub.rooms[roomID] == nil {
		hub.rooms[roomID] = make(map[string]*Connection)
	}
	hub.rooms[roomID][connID] = c
	c.RoomID = roomID
}

// Send 實作 Transport
func (hub *WebSocketHub) Send(connID string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if c, exists := hub.connections[connID]; exists {
		hub.enqueue(c, message)
	}
}

// Publish 實作 Publisher：廣播消息到房間
func (hub *WebSocketHub) Publish(roomID string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, c := range hub.rooms[roomID] {
		hub.enqueue(c, message)
	}
}

// enqueue 非阻塞入列（需要持有讀鎖）
func (hub *WebSocketHub) enqueue(c *Connection, message []byte) {
	select {
	case c.Send <- message:
	default:
		hub.logger.Warn("連接緩衝區滿",
			"room_id", c.RoomID,
			"conn_id", c.ID)
	}
}

// Stop 停止 WebSocket Hub
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	for _, c := range hub.connections {
		// 先關閉 Send channel，再關閉連接
		c.closeOnce.Do(func() {
			close(c.Send)
		})
		c.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.rooms = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionCount 當前連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// GetConnectionCount 各房間廣播群組中的連接數
func (hub *WebSocketHub) GetConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int)
	for roomID, conns := range hub.rooms {
		result[roomID] = len(conns)
	}
	return result
}

// readPump 讀取客戶端消息
//
// 60 秒內沒有收到任何消息（包括 Pong）就關閉連接；
// 退出時先取消註冊，再通知協調者斷線。
func (c *Connection) readPump(coord *Coordinator) {
	defer func() {
		c.Hub.unregister(c)
		coord.Disconnect(c.session)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
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
			c.handleMessage(coord, message)
		}
	}
}

// writePump 寫入消息到客戶端，每 54 秒發送一次 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// inboundMessage 客戶端消息
//
//	{"type":"play","index":4}
//	{"type":"rematch"}
//	{"type":"ping"}
type inboundMessage struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
}

// handleMessage 處理客戶端消息
func (c *Connection) handleMessage(coord *Coordinator, message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Error("解析客戶端消息失敗",
			"error", err,
			"conn_id", c.ID)
		return
	}

	switch msg.Type {
	case "play":
		if msg.Index == nil {
			c.Hub.logger.Debug("落子缺少 index", "conn_id", c.ID)
			return
		}
		coord.Play(c.session, *msg.Index)
	case "rematch":
		coord.Rematch(c.session)
	case "ping":
		c.Hub.Send(c.ID, Event{Type: EventPong})
	default:
		c.Hub.logger.Debug("收到未知消息類型",
			"type", msg.Type,
			"conn_id", c.ID)
	}
}
