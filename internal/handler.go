package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ConnectionCounter 提供連接數（WebSocketHub 實作）
type ConnectionCounter interface {
	ConnectionCount() int
	GetConnectionCount() map[string]int
}

// Handler HTTP 請求處理器（唯讀查詢）
type Handler struct {
	manager *Manager
	conns   ConnectionCounter
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, conns ConnectionCounter, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		conns:   conns,
		logger:  logger,
	}
}

// Routes 設定路由
//
// staticDir 非空時在 / 提供靜態檔案（客戶端頁面）。
func (h *Handler) Routes(staticDir string) http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	if staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(staticDir)))
	}

	return mux
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.manager.ListRooms()

	h.jsonResponse(w, map[string]any{
		"rooms":     rooms,
		"total":     len(rooms),
		"max_rooms": h.manager.MaxRooms(),
	}, http.StatusOK)
}

// getRoomDetail 獲取房間詳情
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	room, err := h.manager.GetRoom(roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		h.errorResponse(w, err.Error(), status)
		return
	}

	h.jsonResponse(w, room.Snapshot(), http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	if h.conns != nil {
		stats["connections"] = h.conns.ConnectionCount()
		stats["room_connections"] = h.conns.GetConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
//
// 健康檢查只記在 debug 級別。
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
		}
		if roomID := r.PathValue("room_id"); roomID != "" {
			attrs = append(attrs, "room_id", roomID)
		}
		h.logger.Log(r.Context(), level, "HTTP 請求", attrs...)
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
