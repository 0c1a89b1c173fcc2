package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"seedream-studio-server/modules/common/model"
	"seedream-studio-server/modules/seedream"
)

const (
	defaultSize       = "2K"
	defaultBatchCount = 4
)

// Generator - one fan-out generation (implemented by *seedream.Scheduler)
type Generator interface {
	Run(ctx context.Context, req *seedream.GenerationRequest, onProgress seedream.ProgressFunc) (*seedream.GenerationResult, error)
}

// Handler - interactive generation streamed back as server-sent events
type Handler struct {
	generator Generator
	apiKey    string
}

// GenerateRequest - POST /api/generate body
type GenerateRequest struct {
	TaskID     string   `json:"taskId"`
	Prompt     string   `json:"prompt"`
	Mode       string   `json:"mode"`
	Size       string   `json:"size"`
	Images     []string `json:"images"`
	Strength   *float64 `json:"strength"`
	BatchCount int      `json:"batchCount"`
}

// StreamEvent - one outward SSE frame
type StreamEvent struct {
	TaskID  string       `json:"taskId"`
	Type    string       `json:"type"`
	Index   *int         `json:"index,omitempty"`
	URL     string       `json:"url,omitempty"`
	Size    string       `json:"size,omitempty"`
	Message string       `json:"message,omitempty"`
	Usage   *model.Usage `json:"usage,omitempty"`
}

// terminal - stream-level error frames carry no index
func (e StreamEvent) terminal() bool {
	return e.Type == "error" && e.Index == nil
}

// NewHandler - relay handler; an empty apiKey makes every request fail with 500
func NewHandler(generator Generator, apiKey string) *Handler {
	return &Handler{generator: generator, apiKey: apiKey}
}

// RegisterRoutes - register the relay route
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	log.Println("✅ [Relay] Routes registered: /api/generate")
}

// HandleGenerate - POST /api/generate
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := body.toGenerationRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.apiKey == "" {
		log.Println("❌ [Relay] ARK_API_KEY is not configured")
		writeError(w, http.StatusInternalServerError, "API key not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("📡 [Relay] Task %s: streaming %d images (mode=%s)", body.TaskID, req.ExpectedCount, req.Mode)

	events := make(chan StreamEvent, req.ExpectedCount+2)
	go h.generate(r.Context(), body.TaskID, req, events)

	// this goroutine is the only writer on w
	failed := false
	for ev := range events {
		failed = ev.terminal()
		if err := writeEvent(w, ev); err != nil {
			log.Printf("⚠️  [Relay] Task %s: client gone: %v", body.TaskID, err)
			// keep draining so the producer can finish
			continue
		}
		flusher.Flush()
	}

	// a failed stream ends on its error frame; done marks success only
	if failed {
		log.Printf("❌ [Relay] Task %s: stream ended with an error", body.TaskID)
		return
	}
	if err := writeEvent(w, StreamEvent{TaskID: body.TaskID, Type: "done"}); err == nil {
		flusher.Flush()
	}
	log.Printf("✅ [Relay] Task %s: stream closed", body.TaskID)
}

// generate - run the scheduler and translate its output into frames; always
// closes events, with a terminal error frame on failure or panic
func (h *Handler) generate(ctx context.Context, taskID string, req *seedream.GenerationRequest, events chan<- StreamEvent) {
	defer close(events)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ [Relay] Task %s: generation panicked: %v", taskID, rec)
			events <- StreamEvent{TaskID: taskID, Type: "error", Message: fmt.Sprintf("generation panicked: %v", rec)}
		}
	}()

	result, err := h.generator.Run(ctx, req, func(ev seedream.Event) {
		switch ev.Kind {
		case seedream.EventImage:
			if ev.Image == nil {
				return
			}
			index := ev.Index
			events <- StreamEvent{TaskID: taskID, Type: "image", Index: &index, URL: ev.Image.URL, Size: ev.Image.Size}
		case seedream.EventError:
			index := ev.Index
			events <- StreamEvent{TaskID: taskID, Type: "error", Index: &index, Message: ev.Message}
		}
	})
	if err != nil {
		log.Printf("❌ [Relay] Task %s: generation failed: %v", taskID, err)
		events <- StreamEvent{TaskID: taskID, Type: "error", Message: err.Error()}
		return
	}

	log.Printf("✅ [Relay] Task %s: %d images, %d errors", taskID, len(result.Images), len(result.Errors))
	usage := result.Usage
	events <- StreamEvent{TaskID: taskID, Type: "completed", Usage: &usage}
}

// toGenerationRequest - apply defaults and validate
func (b *GenerateRequest) toGenerationRequest() (*seedream.GenerationRequest, error) {
	b.TaskID = strings.TrimSpace(b.TaskID)
	if b.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", seedream.ErrInvalidRequest)
	}
	mode, err := seedream.ParseMode(b.Mode)
	if err != nil {
		return nil, err
	}
	size := strings.TrimSpace(b.Size)
	if size == "" {
		size = defaultSize
	}
	count := b.BatchCount
	if count == 0 {
		count = defaultBatchCount
	}

	refs := make([]string, 0, len(b.Images))
	for _, img := range b.Images {
		if img = strings.TrimSpace(img); img != "" {
			refs = append(refs, img)
		}
	}

	req := &seedream.GenerationRequest{
		Prompt:             b.Prompt,
		Mode:               mode,
		Size:               size,
		ReferenceImageURLs: refs,
		Strength:           b.Strength,
		ExpectedCount:      count,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func writeEvent(w http.ResponseWriter, ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
