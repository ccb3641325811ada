package internal

import "encoding/json"

// Role 玩家角色（X 先手，O 後手）
type Role string

const (
	RoleNone Role = ""
	RoleX    Role = "X"
	RoleO    Role = "O"
)

// Other 返回對手角色
func (r Role) Other() Role {
	switch r {
	case RoleX:
		return RoleO
	case RoleO:
		return RoleX
	default:
		return RoleNone
	}
}

// Valid 是否為 X 或 O
func (r Role) Valid() bool {
	return r == RoleX || r == RoleO
}

// BoardSize 棋盤格數（3x3）
const BoardSize = 9

// Board 棋盤，RoleNone 表示空格
type Board [BoardSize]Role

// Full 檢查棋盤是否已滿
func (b Board) Full() bool {
	for _, c := range b {
		if c == RoleNone {
			return false
		}
	}
	return true
}

// MarshalJSON 空格序列化為 null，與客戶端約定一致
func (b Board) MarshalJSON() ([]byte, error) {
	cells := make([]any, BoardSize)
	for i, c := range b {
		if c != RoleNone {
			cells[i] = string(c)
		}
	}
	return json.Marshal(cells)
}

// Result 對局結果
type Result string

const (
	ResultOngoing Result = "ongoing"
	ResultWin     Result = "win"
	ResultDraw    Result = "draw"
)

// Outcome 規則判定結果
type Outcome struct {
	Result Result
	Winner Role
}

// Rules 規則判定器
//
// 只負責從棋盤快照計算終局狀態，不持有任何狀態。
// 其他兩人輪流、完全資訊的遊戲可替換實作。
type Rules interface {
	Evaluate(board Board) Outcome
}

// lines 三行、三列、兩條對角線
var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Winner 返回連成一線的角色，沒有則返回 RoleNone
func Winner(b Board) Role {
	for _, l := range lines {
		if c := b[l[0]]; c != RoleNone && c == b[l[1]] && c == b[l[2]] {
			return c
		}
	}
	return RoleNone
}

// TicTacToe 井字棋規則
type TicTacToe struct{}

// Evaluate 實作 Rules
func (TicTacToe) Evaluate(b Board) Outcome {
	if w := Winner(b); w != RoleNone {
		return Outcome{Result: ResultWin, Winner: w}
	}
	if b.Full() {
		return Outcome{Result: ResultDraw}
	}
	return Outcome{Result: ResultOngoing}
}
