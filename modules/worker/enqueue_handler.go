package worker

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// EnqueueHandler - manual re-trigger of a task; the claim filters duplicates
type EnqueueHandler struct {
	queue *Queue
}

// EnqueueRequest - POST /api/enqueue body
type EnqueueRequest struct {
	TaskID string `json:"taskId"`
}

// EnqueueResponse - enqueue result
type EnqueueResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	TaskID        string `json:"taskId,omitempty"`
	Queue         string `json:"queue,omitempty"`
	QueuePosition int64  `json:"queuePosition,omitempty"`
}

// NewEnqueueHandler - create the enqueue handler
func NewEnqueueHandler(queue *Queue) *EnqueueHandler {
	return &EnqueueHandler{queue: queue}
}

// RegisterRoutes - register the enqueue route
func (h *EnqueueHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/enqueue", h.HandleEnqueue).Methods("POST", "OPTIONS")
	log.Println("✅ [Enqueue] Routes registered: /api/enqueue")
}

// HandleEnqueue - POST /api/enqueue
func (h *EnqueueHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ [Enqueue] Invalid request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	if req.TaskID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "taskId is required",
		})
		return
	}

	log.Printf("📥 [Enqueue] Received taskId: %s", req.TaskID)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.queue.Enqueue(ctx, req.TaskID); err != nil {
		log.Printf("❌ [Enqueue] Redis LPUSH failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	queueLen, _ := h.queue.Len(ctx)

	log.Printf("✅ [Enqueue] Task %s enqueued (position: %d)", req.TaskID, queueLen)

	json.NewEncoder(w).Encode(EnqueueResponse{
		Success:       true,
		Message:       "Task enqueued successfully",
		TaskID:        req.TaskID,
		Queue:         h.queue.Key(),
		QueuePosition: queueLen,
	})
}
