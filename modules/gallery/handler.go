package gallery

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"seedream-studio-server/modules/common/database"
	"seedream-studio-server/modules/common/model"
)

const (
	publicCacheKey = "public"
	publicLimit    = 100
	requestTimeout = 15 * time.Second
)

// Store - gallery persistence (implemented by *database.Client)
type Store interface {
	ListUserImages(ctx context.Context, userID, filter string) ([]model.GalleryImage, error)
	ListPublicImages(ctx context.Context, limit int) ([]model.GalleryImage, error)
	SetLiked(ctx context.Context, imageID string, liked bool) error
	SetDeleted(ctx context.Context, imageID string, deleted bool) error
	DeleteImage(ctx context.Context, imageID string) error
}

// Handler - gallery endpoints; the public list is served from a TTL cache
// that every mutation invalidates
type Handler struct {
	store  Store
	public *cache.Cache
}

// ImagesResponse - list payload
type ImagesResponse struct {
	Images []model.GalleryImage `json:"images"`
}

// NewHandler - gallery handler with the given public-list TTL
func NewHandler(store Store, ttl time.Duration) *Handler {
	return &Handler{
		store:  store,
		public: cache.New(ttl, 2*ttl),
	}
}

// RegisterRoutes - register gallery routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/images", h.HandleList).Methods("GET")
	r.HandleFunc("/api/images/public", h.HandlePublic).Methods("GET")
	r.HandleFunc("/api/images/{imageId}/like", h.HandleLike).Methods("POST")
	r.HandleFunc("/api/images/{imageId}/trash", h.HandleTrash).Methods("POST")
	r.HandleFunc("/api/images/{imageId}/restore", h.HandleRestore).Methods("POST")
	r.HandleFunc("/api/images/{imageId}", h.HandleDelete).Methods("DELETE")
	log.Println("✅ [Gallery] Routes registered: /api/images, /api/images/public")
}

// HandleList - GET /api/images?userId=&filter=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = database.FilterAll
	}
	if !database.ValidFilter(filter) {
		writeError(w, http.StatusBadRequest, "filter must be one of all, liked, deleted")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	images, err := h.store.ListUserImages(ctx, userID, filter)
	if err != nil {
		log.Printf("❌ [Gallery] List for %s failed: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load images")
		return
	}
	writeJSON(w, http.StatusOK, ImagesResponse{Images: images})
}

// HandlePublic - GET /api/images/public
func (h *Handler) HandlePublic(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.public.Get(publicCacheKey); ok {
		writeJSON(w, http.StatusOK, ImagesResponse{Images: cached.([]model.GalleryImage)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	images, err := h.store.ListPublicImages(ctx, publicLimit)
	if err != nil {
		log.Printf("❌ [Gallery] Public list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load images")
		return
	}
	h.public.SetDefault(publicCacheKey, images)
	writeJSON(w, http.StatusOK, ImagesResponse{Images: images})
}

// HandleLike - POST /api/images/{imageId}/like {"liked": bool}
func (h *Handler) HandleLike(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Liked *bool `json:"liked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Liked == nil {
		writeError(w, http.StatusBadRequest, "liked is required")
		return
	}
	liked := *body.Liked
	h.mutate(w, r, "like", func(ctx context.Context, id string) error {
		return h.store.SetLiked(ctx, id, liked)
	})
}

// HandleTrash - POST /api/images/{imageId}/trash
func (h *Handler) HandleTrash(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "trash", func(ctx context.Context, id string) error {
		return h.store.SetDeleted(ctx, id, true)
	})
}

// HandleRestore - POST /api/images/{imageId}/restore
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "restore", func(ctx context.Context, id string) error {
		return h.store.SetDeleted(ctx, id, false)
	})
}

// HandleDelete - DELETE /api/images/{imageId}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "delete", func(ctx context.Context, id string) error {
		return h.store.DeleteImage(ctx, id)
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, id string) error) {
	imageID := mux.Vars(r)["imageId"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := fn(ctx, imageID); err != nil {
		log.Printf("❌ [Gallery] %s %s failed: %v", action, imageID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update image")
		return
	}
	h.public.Delete(publicCacheKey)

	log.Printf("✅ [Gallery] %s %s", action, imageID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": imageID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
