package task

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"seedream-studio-server/modules/common/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TasksMessage - pushed to the socket on subscribe and after every change
type TasksMessage struct {
	Type  string       `json:"type"`
	Tasks []model.Task `json:"tasks"`
}

// HandleSocket - GET /ws/tasks?user=<id>: live view of an owner's recent tasks
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [TaskSocket] Upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	snapshots, err := h.store.Subscribe(ctx, userID, RecentLimit)
	if err != nil {
		log.Printf("❌ [TaskSocket] Subscribe failed for %s: %v", userID, err)
		cancel()
		conn.Close()
		return
	}

	log.Printf("🔍 [TaskSocket] %s subscribed", userID)

	go writePump(conn, snapshots, cancel)
	go readPump(conn, cancel)
}

// readPump - drain client frames; any read error ends the subscription
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️  [TaskSocket] Read error: %v", err)
			}
			return
		}
	}
}

// writePump - the only writer on conn
func writePump(conn *websocket.Conn, snapshots <-chan []model.Task, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case tasks, ok := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(TasksMessage{Type: "tasks", Tasks: tasks}); err != nil {
				log.Printf("⚠️  [TaskSocket] Write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
