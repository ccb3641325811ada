package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrRoomsFull 所有房間都已滿（准入拒絕，屬於正常的背壓狀態）
	ErrRoomsFull = errors.New("所有房間已滿")
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = errors.New("房間不存在")
)

// 預設值
const (
	DefaultMaxRooms        = 5
	DefaultCleanupInterval = time.Minute
)

// ManagerConfig 房間池設定
type ManagerConfig struct {
	MaxRooms        int           // 房間數上限
	SlotTTL         time.Duration // 斷線座位保留時間，0 表示永久保留
	CleanupInterval time.Duration // 過期掃描間隔（SlotTTL > 0 時才啟用）
	Rules           Rules
}

// Assignment 配對結果
type Assignment struct {
	Room    *Room
	Role    Role
	Resumed bool // 重連回原本座位
}

// Manager 房間池 / 配對器
//
// 系統設計考量：
//
//  1. 容量上限（MaxRooms）：
//     房間按需建立，最多 MaxRooms 個；
//     超過上限返回 ErrRoomsFull，由呼叫端讓連線留在大廳。
//
//  2. 座位佔用是臨界區（admitMu）：
//     同一時間只有一個准入流程在跑，
//     任何房間的佔用數永遠只會是 0、1、2。
//
//  3. 重連快速路徑（TokenIndex）：
//     token 已綁定房間且座位仍在時直接回到原座位。
type Manager struct {
	rooms    map[string]*Room // roomID -> Room
	order    []string         // 建立順序，配對時依序掃描
	index    *TokenIndex      // token -> roomID
	resolver *Resolver
	cfg      ManagerConfig
	pub      Publisher

	mu      sync.RWMutex
	admitMu sync.Mutex
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once
}

// NewManager 創建房間池
func NewManager(cfg ManagerConfig, pub Publisher, logger *slog.Logger) *Manager {
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = DefaultMaxRooms
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Rules == nil {
		cfg.Rules = TicTacToe{}
	}

	m := &Manager{
		rooms:  make(map[string]*Room),
		index:  NewTokenIndex(),
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	m.resolver = NewResolver(m.index, m)

	// 座位過期是可選策略，預設永久保留
	if cfg.SlotTTL > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

// Resolver 身份解析器
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Assign 為 token 分配房間與座位
//
// 流程：
//  1. token 已綁定房間 → 重新綁定原座位（重連）
//  2. 依建立順序找有空位的房間
//  3. 未達上限 → 建立新房間
//  4. 否則 ErrRoomsFull
//
// 佔位失敗（空位被搶走）時重跑 2–4，不覆寫已被佔用的座位。
func (m *Manager) Assign(token Token, connID string) (*Assignment, error) {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	// 重連路徑
	if res := m.resolver.Resolve(token); res.Resumed {
		room, err := m.GetRoom(res.RoomID)
		if err == nil {
			if role, ok := room.Resume(token, connID); ok {
				m.logger.Info("玩家重新連線",
					"room_id", room.ID,
					"role", role,
					"conn_id", connID)
				return &Assignment{Room: room, Role: role, Resumed: true}, nil
			}
		}
	}
	m.index.Unbind(token)

	// 每次重試至少有一個房間從「有空位」變成「已滿」，次數有上限
	for attempt := 0; attempt <= m.cfg.MaxRooms; attempt++ {
		room, role, ok := m.claimExisting(token, connID)
		if !ok {
			var err error
			room, err = m.createRoom()
			if err != nil {
				m.logger.Info("准入拒絕",
					"conn_id", connID,
					"max_rooms", m.cfg.MaxRooms)
				return nil, err
			}
			role, ok = room.Claim(token, connID)
			if !ok {
				continue
			}
		}

		m.index.Bind(token, room.ID)
		m.logger.Info("玩家入座",
			"room_id", room.ID,
			"role", role,
			"conn_id", connID)
		return &Assignment{Room: room, Role: role}, nil
	}

	return nil, ErrRoomsFull
}

// claimExisting 依序在現有房間中佔位
func (m *Manager) claimExisting(token Token, connID string) (*Room, Role, bool) {
	for _, room := range m.Rooms() {
		if room.Occupancy() >= 2 {
			continue
		}
		if role, ok := room.Claim(token, connID); ok {
			return room, role, true
		}
	}
	return nil, RoleNone, false
}

// createRoom 建立新房間（未達上限時）
func (m *Manager) createRoom() (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.rooms) >= m.cfg.MaxRooms {
		return nil, ErrRoomsFull
	}

	roomID := m.generateID("room")
	room := NewRoom(roomID, m.cfg.Rules, m.pub, m.logger)
	m.rooms[roomID] = room
	m.order = append(m.order, roomID)

	m.logger.Info("房間已創建",
		"room_id", roomID,
		"total_rooms", len(m.rooms),
		"max_rooms", m.cfg.MaxRooms)

	return room, nil
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomID string) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	return room, nil
}

// Rooms 依建立順序返回所有房間
func (m *Manager) Rooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.order))
	for _, id := range m.order {
		rooms = append(rooms, m.rooms[id])
	}
	return rooms
}

// ListRooms 列出房間快照
func (m *Manager) ListRooms() []RoomSnapshot {
	rooms := m.Rooms()
	result := make([]RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		result = append(result, room.Snapshot())
	}
	return result
}

// GetPlayerRoom 獲取 token 所在房間
func (m *Manager) GetPlayerRoom(token Token) (string, bool) {
	return m.index.Lookup(token)
}

// MaxRooms 房間數上限
func (m *Manager) MaxRooms() int {
	return m.cfg.MaxRooms
}

// cleanupLoop 定期釋放過期座位
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 執行清理（公開方法供測試使用）
func (m *Manager) Cleanup(now time.Time) int {
	return m.cleanup(now)
}

// cleanup 釋放斷線超過 SlotTTL 的座位，返回釋放數
func (m *Manager) cleanup(now time.Time) int {
	if m.cfg.SlotTTL <= 0 {
		return 0
	}

	// 與准入互斥，避免釋放中的座位被重連路徑命中
	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	released := 0
	for _, room := range m.Rooms() {
		for _, token := range room.ExpireSlots(m.cfg.SlotTTL, now) {
			m.index.Unbind(token)
			released++
			m.logger.Info("座位已過期釋放", "room_id", room.ID)
		}
	}
	return released
}

// Stop 停止管理器
func (m *Manager) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Info("房間管理器已停止")
	})
}

// generateID 生成唯一 ID
func (m *Manager) generateID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間戳作為備用
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	rooms := m.Rooms()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0
	online := 0

	for _, room := range rooms {
		snap := room.Snapshot()
		statusCount[snap.Status]++
		totalPlayers += snap.Occupancy
		for _, p := range snap.Players {
			if p.Online {
				online++
			}
		}
	}

	return map[string]any{
		"total_rooms":    len(rooms),
		"max_rooms":      m.cfg.MaxRooms,
		"total_players":  totalPlayers,
		"online_players": online,
		"by_status":      statusCount,
	}
}
