package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   兩位玩家輪流落子，如何保證房間狀態在併發事件下保持一致？
//
// 核心挑戰：
//   1. 狀態管理：waiting → playing → finished → playing（再戰）
//   2. 並發控制：兩個連線同時送出 play / rematch / 斷線
//   3. 廣播順序：狀態變更必須先於對應的廣播
//   4. 斷線重連：座位綁定 token，不綁定連線
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 規範狀態轉換
//   ✅ 每個房間一把 Mutex - 所有變更在臨界區內完成
//   ✅ 臨界區內發布事件 - 發布端非阻塞，廣播順序與變更順序一致
//   ✅ 非法操作直接忽略 - 不對發送者回報錯誤

// RoomStatus 房間狀態
//
// 有限狀態機設計：
//
//	empty → waiting → playing → finished → playing（再戰）
//	                     ↓          ↓
//	                   idle ←───────┘（雙方都斷線）
//
// 狀態轉換規則：
//   - empty → waiting：第一個 token 佔位
//   - waiting → playing：兩個座位都被佔用
//   - playing → finished：有人連成一線或棋盤下滿
//   - finished → playing：雙方都同意再戰
//   - 任何狀態 → idle：兩個座位都沒有在線連線（座位保留）
//   - idle → playing：雙方都重新連線
type RoomStatus string

const (
	StatusEmpty    RoomStatus = "empty"    // 沒有任何座位被佔用
	StatusWaiting  RoomStatus = "waiting"  // 等待第二位玩家
	StatusPlaying  RoomStatus = "playing"  // 對局進行中
	StatusFinished RoomStatus = "finished" // 對局結束，等待再戰投票
	StatusIdle     RoomStatus = "idle"     // 座位保留，但沒有在線玩家
)

// 事件類型（與客戶端約定的名稱）
const (
	EventIdentity      = "identity"
	EventJoinedRoom    = "joinedRoom"
	EventPlayerRole    = "playerRole"
	EventWaiting       = "waiting"
	EventStatus        = "status"
	EventStartGame     = "startGame"
	EventUpdateBoard   = "updateBoard"
	EventGameOver      = "gameOver"
	EventRematchUpdate = "rematchUpdate"
	EventRematchStart  = "rematchStart"
	EventPong          = "pong"
)

// Event 房間事件
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// RoomRef joinedRoom / startGame 的內容
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// BoardState updateBoard 的內容
type BoardState struct {
	GameBoard   Board `json:"gameBoard"`
	CurrentTurn Role  `json:"currentTurn"`
}

// GameOverInfo gameOver 的內容
type GameOverInfo struct {
	Result Result `json:"result"`
	Winner Role   `json:"winner,omitempty"`
}

// RematchVotes rematchUpdate 的內容
type RematchVotes struct {
	Votes  []Role `json:"votes"`
	Needed []Role `json:"needed"`
}

// IdentityInfo 換發 token 時通知客戶端保存
type IdentityInfo struct {
	Token Token `json:"token"`
}

// Publisher 房間廣播
//
// Publish 在房間鎖內被呼叫，實作必須非阻塞，且不可回呼房間。
type Publisher interface {
	Publish(roomID string, event Event)
}

// Slot 座位
//
// ConnID 為空表示玩家已斷線，但座位仍屬於該 token。
type Slot struct {
	Token          Token
	ConnID         string
	DisconnectedAt time.Time
}

// Online 是否有在線連線
func (s *Slot) Online() bool {
	return s != nil && s.ConnID != ""
}

// roles 座位索引對應的角色
var roles = [2]Role{RoleX, RoleO}

func slotIndex(role Role) int {
	if role == RoleO {
		return 1
	}
	return 0
}

// Room 遊戲房間
//
// 系統設計考量：
//
//  1. 並發控制（Mutex）：
//     所有讀寫都在同一把鎖內完成，
//     每個操作對同房間的其他事件而言是原子的。
//
//  2. 事件發布（Publisher）：
//     變更完成後在鎖內發布，
//     同一房間的廣播順序與狀態變更順序一致。
//
//  3. 座位保留：
//     斷線只清除 ConnID，不釋放座位；
//     只有啟用過期策略時才會釋放（ExpireSlots）。
type Room struct {
	ID        string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`

	mu         sync.Mutex
	slots      [2]*Slot
	board      Board
	turn       Role
	status     RoomStatus
	votes      map[Role]bool
	result     *GameOverInfo // 最近一局的結果（finished 時有效）
	lastActive time.Time

	rules  Rules
	pub    Publisher
	logger *slog.Logger
}

// NewRoom 創建新房間
func NewRoom(id string, rules Rules, pub Publisher, logger *slog.Logger) *Room {
	if rules == nil {
		rules = TicTacToe{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Room{
		ID:         id,
		CreatedAt:  now,
		turn:       RoleX,
		status:     StatusEmpty,
		votes:      make(map[Role]bool, 2),
		lastActive: now,
		rules:      rules,
		pub:        pub,
		logger:     logger,
	}
}

// Claim 佔用座位
//
// 已在房間內的 token 重新綁定到原本的座位；
// 否則依序佔用第一個空位（X 再 O）。
// 兩個座位都被其他 token 佔用時返回 false，絕不覆寫。
func (r *Room) Claim(token Token, connID string) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if role := r.roleOfLocked(token); role != RoleNone {
		r.bindLocked(role, connID)
		return role, true
	}

	for i, s := range r.slots {
		if s != nil {
			continue
		}
		r.slots[i] = &Slot{Token: token, ConnID: connID}
		if r.status == StatusEmpty {
			r.status = StatusWaiting
		}
		r.touchLocked()
		return roles[i], true
	}

	return RoleNone, false
}

// Resume 重連：只重新綁定連線，不佔用新座位
func (r *Room) Resume(token Token, connID string) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := r.roleOfLocked(token)
	if role == RoleNone {
		return RoleNone, false
	}
	r.bindLocked(role, connID)
	return role, true
}

// StartIfReady 兩個座位都被佔用時開局
//
// waiting：第二位玩家入座即開局。
// idle：雙方都重新連線才開局。
func (r *Room) StartIfReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, o := r.slots[0], r.slots[1]
	if x == nil || o == nil {
		return false
	}

	switch r.status {
	case StatusWaiting:
	case StatusIdle:
		if !x.Online() || !o.Online() {
			return false
		}
	default:
		return false
	}

	r.resetLocked()
	r.status = StatusPlaying
	r.touchLocked()

	r.publish(EventStartGame, RoomRef{RoomID: r.ID})
	r.publishBoardLocked()
	r.publish(EventStatus, "遊戲開始，X 先手。")

	r.logger.Info("對局開始", "room_id", r.ID)
	return true
}

// CanPlay 落子是否合法
func (r *Room) CanPlay(role Role, cell int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canPlayLocked(role, cell)
}

func (r *Room) canPlayLocked(role Role, cell int) bool {
	return r.status == StatusPlaying &&
		role.Valid() &&
		role == r.turn &&
		cell >= 0 && cell < BoardSize &&
		r.board[cell] == RoleNone
}

// Play 落子
//
// 非法落子（非對局中、非本方回合、已佔用、越界）直接忽略，返回 false。
func (r *Room) Play(role Role, cell int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canPlayLocked(role, cell) {
		r.logger.Debug("忽略非法落子",
			"room_id", r.ID,
			"role", role,
			"cell", cell,
			"turn", r.turn,
			"status", r.status)
		return false
	}

	r.board[cell] = role
	r.touchLocked()

	outcome := r.rules.Evaluate(r.board)
	switch outcome.Result {
	case ResultWin:
		r.finishLocked(GameOverInfo{Result: ResultWin, Winner: outcome.Winner})
		r.publishBoardLocked()
		r.publish(EventGameOver, *r.result)
		r.publish(EventStatus, fmt.Sprintf("遊戲結束，勝利者：%s", outcome.Winner))
	case ResultDraw:
		r.finishLocked(GameOverInfo{Result: ResultDraw})
		r.publishBoardLocked()
		r.publish(EventGameOver, *r.result)
		r.publish(EventStatus, "遊戲結束，平局。")
	default:
		r.turn = r.turn.Other()
		r.publishBoardLocked()
	}

	return true
}

// CanVote 是否可以投票再戰（只限已入座的角色）
func (r *Room) CanVote(role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canVoteLocked(role)
}

func (r *Room) canVoteLocked(role Role) bool {
	return role.Valid() && r.slots[slotIndex(role)] != nil
}

// Vote 投票再戰
//
// 只有對局結束（finished）後雙方都投票才重新開局。
// 對局中的投票會被累積，但對局結束時一併清除；idle 由 StartIfReady 負責重新開局。
func (r *Room) Vote(role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canVoteLocked(role) {
		return false
	}

	r.votes[role] = true
	r.touchLocked()
	r.publish(EventRematchUpdate, r.votesLocked())

	if !r.votes[RoleX] || !r.votes[RoleO] {
		return true
	}
	if r.status != StatusFinished {
		return true
	}
	if r.slots[0] == nil || r.slots[1] == nil {
		return true
	}

	r.resetLocked()
	r.status = StatusPlaying
	r.publish(EventRematchStart, nil)
	r.publishBoardLocked()
	r.publish(EventStatus, "新一局開始，X 先手。")

	r.logger.Info("再戰開始", "room_id", r.ID)
	return true
}

// Disconnect 斷線
//
// 只清除該連線的 ConnID，不釋放座位。
// 兩個座位都沒有在線連線時，房間進入 idle 並重置棋局。
func (r *Room) Disconnect(connID string) (Role, bool) {
	if connID == "" {
		return RoleNone, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	role := RoleNone
	for i, s := range r.slots {
		if s != nil && s.ConnID == connID {
			s.ConnID = ""
			s.DisconnectedAt = time.Now()
			role = roles[i]
			break
		}
	}
	if role == RoleNone {
		return RoleNone, false
	}

	r.touchLocked()
	r.publish(EventStatus, fmt.Sprintf("%s 已斷線，可重新連線。", role))

	x, o := r.slots[0], r.slots[1]
	if x != nil && o != nil && !x.Online() && !o.Online() {
		r.resetLocked()
		r.status = StatusIdle
		r.publish(EventStatus, "遊戲已重置，等待玩家。")
		r.logger.Info("房間進入閒置", "room_id", r.ID)
	}

	return role, true
}

// ExpireSlots 釋放斷線超過 ttl 的座位，返回被釋放的 token
func (r *Room) ExpireSlots(ttl time.Duration, now time.Time) []Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []Token
	for i, s := range r.slots {
		if s == nil || s.Online() || s.DisconnectedAt.IsZero() {
			continue
		}
		if now.Sub(s.DisconnectedAt) > ttl {
			expired = append(expired, s.Token)
			r.slots[i] = nil
		}
	}
	if len(expired) == 0 {
		return nil
	}

	r.resetLocked()
	if r.occupancyLocked() == 0 {
		r.status = StatusEmpty
	} else {
		r.status = StatusWaiting
	}
	r.touchLocked()
	r.publish(EventStatus, "座位已釋放，等待新玩家。")

	return expired
}

// Announce 廣播一則狀態訊息
func (r *Room) Announce(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish(EventStatus, message)
}

// RoleOf token 在房間中的角色
func (r *Room) RoleOf(token Token) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roleOfLocked(token)
}

// Occupancy 已佔用的座位數（0、1 或 2）
func (r *Room) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupancyLocked()
}

// Status 當前狀態
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// InGame 是否對局中
func (r *Room) InGame() bool {
	return r.Status() == StatusPlaying
}

// SlotView 座位的公開資訊（不含 token）
type SlotView struct {
	Role   Role `json:"role"`
	Online bool `json:"online"`
}

// RoomSnapshot 房間狀態快照
type RoomSnapshot struct {
	RoomID     string        `json:"room_id"`
	Status     RoomStatus    `json:"status"`
	InGame     bool          `json:"in_game"`
	Board      Board         `json:"board"`
	Turn       Role          `json:"turn"`
	Occupancy  int           `json:"occupancy"`
	Players    []SlotView    `json:"players"`
	Votes      []Role        `json:"rematch_votes"`
	Result     *GameOverInfo `json:"result,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
}

// Snapshot 獲取房間狀態（用於序列化與重連同步）
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]SlotView, 0, 2)
	for i, s := range r.slots {
		if s != nil {
			players = append(players, SlotView{Role: roles[i], Online: s.Online()})
		}
	}

	snap := RoomSnapshot{
		RoomID:     r.ID,
		Status:     r.status,
		InGame:     r.status == StatusPlaying,
		Board:      r.board,
		Turn:       r.turn,
		Occupancy:  len(players),
		Players:    players,
		Votes:      r.votesLocked().Votes,
		CreatedAt:  r.CreatedAt,
		LastActive: r.lastActive,
	}
	if r.status == StatusFinished && r.result != nil {
		res := *r.result
		snap.Result = &res
	}
	return snap
}

// 以下方法需要持有鎖

func (r *Room) roleOfLocked(token Token) Role {
	for i, s := range r.slots {
		if s != nil && s.Token == token {
			return roles[i]
		}
	}
	return RoleNone
}

func (r *Room) bindLocked(role Role, connID string) {
	s := r.slots[slotIndex(role)]
	s.ConnID = connID
	s.DisconnectedAt = time.Time{}
	r.touchLocked()
}

func (r *Room) occupancyLocked() int {
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}

func (r *Room) resetLocked() {
	r.board = Board{}
	r.turn = RoleX
	r.result = nil
	clear(r.votes)
}

func (r *Room) finishLocked(result GameOverInfo) {
	r.status = StatusFinished
	r.result = &result
	clear(r.votes)
}

func (r *Room) touchLocked() {
	r.lastActive = time.Now()
}

func (r *Room) votesLocked() RematchVotes {
	votes := RematchVotes{Votes: []Role{}, Needed: []Role{}}
	for _, role := range roles {
		if r.votes[role] {
			votes.Votes = append(votes.Votes, role)
		} else {
			votes.Needed = append(votes.Needed, role)
		}
	}
	return votes
}

func (r *Room) publishBoardLocked() {
	r.publish(EventUpdateBoard, BoardState{GameBoard: r.board, CurrentTurn: r.turn})
}

func (r *Room) publish(eventType string, data any) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(r.ID, Event{Type: eventType, Data: data})
}
