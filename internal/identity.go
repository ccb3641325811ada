package internal

import (
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// 系統設計問題：
//   匿名玩家重新整理頁面後，如何回到原本的座位？
//
// 設計方案：
//   ✅ 客戶端自行產生 token（localStorage），每次連線時帶上
//   ✅ Token→Room 索引做重連快速路徑
//   ✅ 缺少或格式錯誤的 token 視為新身份，直接換發，不回傳錯誤
//
// token 不做任何密碼學驗證，信任客戶端宣告的身份。

// Token 客戶端持有的不透明身份識別
type Token string

// maxTokenLen token 最大長度
const maxTokenLen = 128

// ParseToken 解析客戶端帶來的 token
//
// 空值或格式錯誤時換發一個新的 UUID，minted 為 true。
func ParseToken(raw string) (token Token, minted bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxTokenLen || strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return NewToken(), true
	}
	return Token(raw), false
}

// NewToken 產生新 token
func NewToken() Token {
	return Token(uuid.NewString())
}

// TokenIndex Token→RoomID 索引
type TokenIndex struct {
	mu sync.RWMutex
	m  map[Token]string
}

// NewTokenIndex 創建索引
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{m: make(map[Token]string)}
}

// Bind 綁定 token 到房間
func (x *TokenIndex) Bind(token Token, roomID string) {
	x.mu.Lock()
	x.m[token] = roomID
	x.mu.Unlock()
}

// Unbind 解除綁定
func (x *TokenIndex) Unbind(token Token) {
	x.mu.Lock()
	delete(x.m, token)
	x.mu.Unlock()
}

// Lookup 查詢 token 所在房間
func (x *TokenIndex) Lookup(token Token) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	roomID, ok := x.m[token]
	return roomID, ok
}

// Len 已綁定的 token 數量
func (x *TokenIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.m)
}

// RoomLookup 依 ID 查房間
type RoomLookup interface {
	GetRoom(roomID string) (*Room, error)
}

// Resolution 身份解析結果
type Resolution struct {
	Resumed bool
	RoomID  string
	Role    Role
}

// Resolver 身份解析器（唯讀，綁定由 Manager 負責）
type Resolver struct {
	index *TokenIndex
	rooms RoomLookup
}

// NewResolver 創建解析器
func NewResolver(index *TokenIndex, rooms RoomLookup) *Resolver {
	return &Resolver{index: index, rooms: rooms}
}

// Resolve 判斷 token 是否已持有某房間的座位
func (r *Resolver) Resolve(token Token) Resolution {
	roomID, ok := r.index.Lookup(token)
	if !ok {
		return Resolution{}
	}

	room, err := r.rooms.GetRoom(roomID)
	if err != nil {
		return Resolution{}
	}

	role := room.RoleOf(token)
	if role == RoleNone {
		// 座位已被過期清理
		return Resolution{}
	}

	return Resolution{Resumed: true, RoomID: roomID, Role: role}
}
