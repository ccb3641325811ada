// Package internal 提供兩人回合制遊戲（井字棋）的即時配對與房間管理。
//
// 匿名客戶端以自行產生的 token 識別身份，重新整理頁面後回到原本的座位；
// 房間池在容量上限內按需建立房間，全部額滿時讓連線留在大廳等待。
//
// # 元件
//
// 由底層到上層：
//   - Resolver：token → 房間與角色（重連快速路徑）
//   - Rules：從棋盤快照判定勝負（可替換）
//   - Room：單一對局的狀態機（棋盤、回合、兩個座位、再戰投票）
//   - Manager：房間池與配對器（容量上限、准入拒絕）
//   - Coordinator：連線事件與房間操作之間的轉接
//   - WebSocketHub：傳輸層，房間廣播與單播
//
// # 並發模型
//
// 每個房間一把鎖，所有變更與對應的廣播都在鎖內完成；
// 准入流程（找座位、建房間）整體是一個臨界區，
// 任何房間的佔用數只會是 0、1、2。
//
// # 使用範例
//
//	hub := internal.NewWebSocketHub(logger)
//	manager := internal.NewManager(internal.ManagerConfig{MaxRooms: 5}, hub, logger)
//	coord := internal.NewCoordinator(manager, hub, logger)
//	handler := internal.NewHandler(manager, hub, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes(""))
//	mux.HandleFunc("GET /ws", hub.ServeWS(coord))
//
// 客戶端連接：
//
//	ws://localhost:8080/ws?token=<localStorage 中的 token>
//
// # 協議
//
// 客戶端 → 伺服器：
//
//	{"type":"play","index":4}
//	{"type":"rematch"}
//
// 伺服器 → 客戶端，格式為 {"event": 名稱, "data": 內容}：
// identity、joinedRoom、playerRole、waiting、status、startGame、
// updateBoard、gameOver、rematchUpdate、rematchStart。
//
// # 配置選項
//
// 環境變數（命令行參數可覆寫）：
//   - TTT_PORT / -port：服務監聽端口（預設 8080）
//   - TTT_MAX_ROOMS / -max-rooms：最大房間數（預設 5）
//   - TTT_SLOT_TTL / -slot-ttl：斷線座位保留時間（預設 0，永久保留）
//   - TTT_LOG_LEVEL / -log-level：日誌級別（debug/info/warn/error）
//   - TTT_LOG_FORMAT / -log-format：日誌格式（text/json）
//   - TTT_STATIC_DIR / -static-dir：客戶端頁面目錄
package internal
