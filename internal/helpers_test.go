package internal_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/koopa0/system-design/02-tictactoe-rooms/internal"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// recorder 記錄房間廣播與單播，同時實作 Publisher 與 Transport
type recorder struct {
	mu     sync.Mutex
	rooms  map[string][]internal.Event
	conns  map[string][]internal.Event
	joined map[string]string
}

func newRecorder() *recorder {
	return &recorder{
		rooms:  make(map[string][]internal.Event),
		conns:  make(map[string][]internal.Event),
		joined: make(map[string]string),
	}
}

func (r *recorder) Publish(roomID string, event internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = append(r.rooms[roomID], event)
}

func (r *recorder) Send(connID string, event internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = append(r.conns[connID], event)
}

func (r *recorder) Join(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined[connID] = roomID
}

func (r *recorder) roomEvents(roomID string) []internal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]internal.Event(nil), r.rooms[roomID]...)
}

func (r *recorder) connEvents(connID string) []internal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]internal.Event(nil), r.conns[connID]...)
}

func (r *recorder) joinedRoom(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined[connID]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.rooms)
	clear(r.conns)
}

// eventTypes 取出事件類型序列
func eventTypes(events []internal.Event) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

// lastOf 找出最後一個指定類型的事件
func lastOf(t *testing.T, events []internal.Event, eventType string) internal.Event {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i]
		}
	}
	t.Fatalf("找不到事件 %s，實際事件: %v", eventType, eventTypes(events))
	return internal.Event{}
}

// board 以字串描述棋盤，"_" 表示空格，例如 "XO_______"
func board(s string) internal.Board {
	var b internal.Board
	for i, c := range s {
		switch c {
		case 'X':
			b[i] = internal.RoleX
		case 'O':
			b[i] = internal.RoleO
		}
	}
	return b
}
