package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"seedream-studio-server/modules/common/model"
	"seedream-studio-server/modules/seedream"
)

const (
	defaultSubmitSize  = "3:4"
	defaultSubmitCount = 4
)

// ReferenceUploader - stores inline reference images before a task is queued
type ReferenceUploader interface {
	UploadReference(ctx context.Context, encoded, userID, taskID string, index int) (string, error)
}

// Handler - task submission and management API
type Handler struct {
	store      *Store
	uploader   ReferenceUploader
	queue      Requeuer
	maxRetries int
}

// NewHandler - create the task API handler
func NewHandler(store *Store, uploader ReferenceUploader, queue Requeuer, maxRetries int) *Handler {
	return &Handler{
		store:      store,
		uploader:   uploader,
		queue:      queue,
		maxRetries: maxRetries,
	}
}

// SubmitRequest - POST /api/submit-task body
type SubmitRequest struct {
	Prompt          string   `json:"prompt"`
	Mode            string   `json:"mode"`
	Size            string   `json:"size"`
	ReferenceImages []string `json:"referenceImages"`
	Strength        *float64 `json:"strength"`
	ExpectedCount   int      `json:"expectedCount"`
	UserID          string   `json:"userId"`
	UserName        string   `json:"userName"`
}

// SubmitResponse - returned as soon as the task is queued
type SubmitResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// RegisterRoutes - register task routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/submit-task", h.HandleSubmit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/tasks", h.HandleList).Methods("GET")
	r.HandleFunc("/api/tasks/{taskId}", h.HandleGet).Methods("GET")
	r.HandleFunc("/api/tasks/{taskId}", h.HandleDelete).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/api/tasks/{taskId}/cancel", h.HandleCancel).Methods("POST", "OPTIONS")
	r.HandleFunc("/ws/tasks", h.HandleSocket)
	log.Println("✅ [Task] Routes registered: /api/submit-task, /api/tasks, /ws/tasks")
}

// HandleSubmit - validate, upload inline references, persist a pending task and queue it
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.UserName == "" {
		writeError(w, http.StatusUnauthorized, "userId and userName are required")
		return
	}

	mode, err := seedream.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Size == "" {
		req.Size = defaultSubmitSize
	}
	if req.ExpectedCount == 0 {
		req.ExpectedCount = defaultSubmitCount
	}

	genReq := seedream.GenerationRequest{
		Prompt:             req.Prompt,
		Mode:               mode,
		Size:               req.Size,
		ReferenceImageURLs: req.ReferenceImages,
		Strength:           req.Strength,
		ExpectedCount:      req.ExpectedCount,
	}
	if err := genReq.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	taskID := NewTaskID()

	refs := make([]string, len(req.ReferenceImages))
	for i, ref := range req.ReferenceImages {
		if isRemoteURL(ref) {
			refs[i] = ref
			continue
		}
		url, err := h.uploader.UploadReference(ctx, ref, req.UserID, taskID, i)
		if err != nil {
			log.Printf("❌ [Task] Reference upload failed for %s: %v", taskID, err)
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to upload reference image %d", i))
			return
		}
		refs[i] = url
	}

	t := &model.Task{
		ID:                 taskID,
		UserID:             req.UserID,
		UserName:           req.UserName,
		Status:             model.StatusPending,
		Prompt:             req.Prompt,
		Mode:               string(mode),
		Size:               req.Size,
		Strength:           req.Strength,
		ExpectedCount:      req.ExpectedCount,
		ReferenceImageURLs: refs,
		MaxRetries:         h.maxRetries,
	}
	if err := h.store.Create(ctx, t); err != nil {
		log.Printf("❌ [Task] Failed to create task: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	if err := h.queue.Enqueue(ctx, taskID); err != nil {
		log.Printf("❌ [Task] Failed to enqueue %s: %v", taskID, err)
		writeError(w, http.StatusServiceUnavailable, "Task saved but could not be queued")
		return
	}

	log.Printf("📥 [Task] Submitted %s (%s, %d images) for %s", taskID, mode, req.ExpectedCount, req.UserID)
	writeJSON(w, http.StatusOK, SubmitResponse{TaskID: taskID, Status: "submitted"})
}

// HandleList - GET /api/tasks?userId=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	tasks, err := h.store.ListRecent(r.Context(), userID, RecentLimit)
	if err != nil {
		log.Printf("❌ [Task] List failed for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// HandleGet - GET /api/tasks/{taskId}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Get(r.Context(), mux.Vars(r)["taskId"])
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleCancel - POST /api/tasks/{taskId}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	taskID := mux.Vars(r)["taskId"]
	log.Printf("🛑 [Task] Cancel requested for %s", taskID)

	t, err := h.store.Cancel(r.Context(), taskID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleDelete - DELETE /api/tasks/{taskId}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.store.Delete(r.Context(), mux.Vars(r)["taskId"]); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, ErrNotCancellable):
		writeError(w, http.StatusConflict, "Only pending tasks can be cancelled")
	case errors.Is(err, ErrTaskBusy):
		writeError(w, http.StatusConflict, "Task is being processed")
	default:
		log.Printf("❌ [Task] Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// NewTaskID - task-<unix ms>-<random>
func NewTaskID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), suffix)
}

func isRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
