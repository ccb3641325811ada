package internal_test

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/02-tictactoe-rooms/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentAdmission 大量玩家同時配對
func TestStress_ConcurrentAdmission(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	const (
		maxRooms   = 20
		numPlayers = 500
	)
	manager, _ := newTestManager(t, internal.ManagerConfig{MaxRooms: maxRooms})

	var (
		wg       sync.WaitGroup
		admitted int32
		rejected int32
	)

	start := time.Now()

	for i := range numPlayers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := manager.Assign(internal.Token(fmt.Sprintf("p%d", id)), fmt.Sprintf("c%d", id))
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case errors.Is(err, internal.ErrRoomsFull):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	t.Logf("併發配對 %d 位玩家，耗時 %v", numPlayers, time.Since(start))

	assert.Equal(t, int32(maxRooms*2), admitted)
	assert.Equal(t, int32(numPlayers-maxRooms*2), rejected)

	seen := make(map[internal.Token]bool)
	for _, room := range manager.Rooms() {
		assert.Equal(t, 2, room.Occupancy())
		for _, p := range room.Snapshot().Players {
			assert.True(t, p.Online)
		}
	}
	for i := range numPlayers {
		token := internal.Token(fmt.Sprintf("p%d", i))
		if roomID, ok := manager.GetPlayerRoom(token); ok {
			room, err := manager.GetRoom(roomID)
			require.NoError(t, err)
			assert.NotEqual(t, internal.RoleNone, room.RoleOf(token))
			seen[token] = true
		}
	}
	assert.Len(t, seen, maxRooms*2)
}

// TestStress_ReconnectStorm 同一 token 從多個分頁同時連線只佔一個座位
func TestStress_ReconnectStorm(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager, _ := newTestManager(t, internal.ManagerConfig{MaxRooms: 5})

	const tabs = 50
	var wg sync.WaitGroup
	for i := range tabs {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a, err := manager.Assign("same_token", fmt.Sprintf("tab%d", id))
			if assert.NoError(t, err) {
				assert.Equal(t, internal.RoleX, a.Role)
			}
		}(i)
	}
	wg.Wait()

	rooms := manager.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].Occupancy())
}

// TestStress_ConcurrentPlays 雙方同時亂點棋盤，棋盤狀態仍然合法
func TestStress_ConcurrentPlays(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	const rounds = 50

	for round := range rounds {
		room, _ := newPlayingRoom(t)

		var wg sync.WaitGroup
		for i, role := range []internal.Role{internal.RoleX, internal.RoleO} {
			wg.Add(1)
			go func(role internal.Role, seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for range 200 {
					room.Play(role, rng.Intn(internal.BoardSize))
					room.Vote(role)
				}
			}(role, int64(round*2+i))
		}
		wg.Wait()

		snap := room.Snapshot()
		xCount, oCount := 0, 0
		for _, cell := range snap.Board {
			switch cell {
			case internal.RoleX:
				xCount++
			case internal.RoleO:
				oCount++
			}
		}
		diff := xCount - oCount
		assert.True(t, diff == 0 || diff == 1, "X 與 O 的數量差必須是 0 或 1，實際 X=%d O=%d", xCount, oCount)
		assert.LessOrEqual(t, snap.Occupancy, 2)

		if snap.Status == internal.StatusFinished {
			require.NotNil(t, snap.Result)
			outcome := internal.TicTacToe{}.Evaluate(snap.Board)
			assert.Equal(t, snap.Result.Result, outcome.Result)
			assert.Equal(t, snap.Result.Winner, outcome.Winner)
		}
	}
}

// TestStress_ConcurrentConnectDisconnect 連線與斷線交錯
func TestStress_ConcurrentConnectDisconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	coord, manager, _ := newTestCoordinator(t, 3)

	const players = 6
	var (
		wg  sync.WaitGroup
		ops int64
	)

	for i := range players {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(id)))
			token := fmt.Sprintf("player_%d", id)
			for j := range 100 {
				s := coord.Connect(fmt.Sprintf("c%d_%d", id, j), token)
				coord.Play(s, rng.Intn(internal.BoardSize))
				coord.Rematch(s)
				coord.Disconnect(s)
				atomic.AddInt64(&ops, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(players*100), ops)

	rooms := manager.Rooms()
	assert.LessOrEqual(t, len(rooms), 3)
	total := 0
	for _, room := range rooms {
		occ := room.Occupancy()
		assert.LessOrEqual(t, occ, 2)
		total += occ
	}
	assert.LessOrEqual(t, total, players)
}
