package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Transport 單一連線的傳輸層操作
//
// Send 與 Join 都必須非阻塞。
type Transport interface {
	// Send 發送事件給單一連線
	Send(connID string, event Event)
	// Join 將連線加入房間的廣播群組
	Join(connID, roomID string)
}

// Session 連線層級的綁定資訊
//
// RoomID 為空表示連線留在大廳（沒有房間）。
type Session struct {
	ConnID string
	Token  Token
	RoomID string
	Minted bool // token 由伺服器換發
}

// InLobby 是否在大廳
func (s *Session) InLobby() bool {
	return s == nil || s.RoomID == ""
}

// Coordinator 連線與房間之間的協調者
//
// 本身不持有狀態，連線的 token 與房間都記在 Session 上。
type Coordinator struct {
	manager   *Manager
	transport Transport
	logger    *slog.Logger
}

// NewCoordinator 創建協調者
func NewCoordinator(manager *Manager, transport Transport, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		manager:   manager,
		transport: transport,
		logger:    logger,
	}
}

// Connect 連線建立：解析身份、配對房間、發送初始通知
func (c *Coordinator) Connect(connID, rawToken string) *Session {
	token, minted := ParseToken(rawToken)
	s := &Session{ConnID: connID, Token: token, Minted: minted}

	if minted {
		c.transport.Send(connID, Event{Type: EventIdentity, Data: IdentityInfo{Token: token}})
	}

	a, err := c.manager.Assign(token, connID)
	if err != nil {
		if !errors.Is(err, ErrRoomsFull) {
			c.logger.Error("配對失敗", "error", err, "conn_id", connID)
		}
		c.transport.Send(connID, Event{Type: EventPlayerRole, Data: nil})
		c.transport.Send(connID, Event{Type: EventWaiting, Data: "所有房間已滿，請稍候…"})
		c.transport.Send(connID, Event{Type: EventStatus, Data: "大廳：遊戲進行中。"})
		return s
	}

	room := a.Room
	s.RoomID = room.ID

	c.transport.Join(connID, room.ID)
	c.transport.Send(connID, Event{Type: EventJoinedRoom, Data: RoomRef{RoomID: room.ID}})
	c.transport.Send(connID, Event{Type: EventPlayerRole, Data: a.Role})

	if room.Occupancy() == 1 {
		c.transport.Send(connID, Event{Type: EventStatus, Data: "還在等待一位玩家…"})
	}

	// 入座與加入廣播群組之間，對手可能已經開局；沒有由自己開局時補發目前棋局
	if !room.StartIfReady() {
		c.syncState(connID, room)
	}

	if a.Resumed {
		room.Announce(fmt.Sprintf("%s 已重新連線。", a.Role))
	}
	return s
}

// syncState 將目前棋局單播給剛綁定的連線（重連或晚一步加入群組）
func (c *Coordinator) syncState(connID string, room *Room) {
	snap := room.Snapshot()
	switch snap.Status {
	case StatusPlaying:
		c.transport.Send(connID, Event{Type: EventStartGame, Data: RoomRef{RoomID: room.ID}})
		c.transport.Send(connID, Event{Type: EventUpdateBoard, Data: BoardState{GameBoard: snap.Board, CurrentTurn: snap.Turn}})
	case StatusFinished:
		c.transport.Send(connID, Event{Type: EventStartGame, Data: RoomRef{RoomID: room.ID}})
		c.transport.Send(connID, Event{Type: EventUpdateBoard, Data: BoardState{GameBoard: snap.Board, CurrentTurn: snap.Turn}})
		if snap.Result != nil {
			c.transport.Send(connID, Event{Type: EventGameOver, Data: *snap.Result})
		}
		if len(snap.Votes) > 0 {
			c.transport.Send(connID, Event{Type: EventRematchUpdate, Data: votesOf(snap.Votes)})
		}
	}
}

// Play 處理落子
func (c *Coordinator) Play(s *Session, cell int) bool {
	room, role := c.lookup(s)
	if room == nil {
		return false
	}
	return room.Play(role, cell)
}

// Rematch 處理再戰投票
func (c *Coordinator) Rematch(s *Session) bool {
	room, role := c.lookup(s)
	if room == nil {
		return false
	}
	return room.Vote(role)
}

// Disconnect 處理斷線
func (c *Coordinator) Disconnect(s *Session) {
	if s.InLobby() {
		return
	}
	room, err := c.manager.GetRoom(s.RoomID)
	if err != nil {
		return
	}
	if role, ok := room.Disconnect(s.ConnID); ok {
		c.logger.Info("玩家斷線",
			"room_id", room.ID,
			"role", role,
			"conn_id", s.ConnID)
	}
}

// lookup 依 Session 找出房間與角色，大廳或沒有座位時返回 nil
func (c *Coordinator) lookup(s *Session) (*Room, Role) {
	if s.InLobby() {
		return nil, RoleNone
	}
	room, err := c.manager.GetRoom(s.RoomID)
	if err != nil {
		return nil, RoleNone
	}
	role := room.RoleOf(s.Token)
	if role == RoleNone {
		return nil, RoleNone
	}
	return room, role
}

func votesOf(votes []Role) RematchVotes {
	out := RematchVotes{Votes: votes, Needed: []Role{}}
	for _, role := range roles {
		if !slices.Contains(votes, role) {
			out.Needed = append(out.Needed, role)
		}
	}
	return out
}
