package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
)

const proxyTimeout = 60 * time.Second

// ImageFetcher - server-side download (implemented by *storage.Client)
type ImageFetcher interface {
	Download(ctx context.Context, sourceURL string) ([]byte, string, error)
}

// ProxyHandler - fetches temporary upstream image URLs for the browser, which
// cannot read them directly because of CORS
type ProxyHandler struct {
	fetcher ImageFetcher
}

// SaveImageResponse - base64 image for the client to keep
type SaveImageResponse struct {
	Success     bool   `json:"success"`
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
}

// NewProxyHandler - create the image proxy handler
func NewProxyHandler(fetcher ImageFetcher) *ProxyHandler {
	return &ProxyHandler{fetcher: fetcher}
}

// RegisterRoutes - register the proxy route
func (h *ProxyHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/save-image", h.HandleSaveImage).Methods("POST", "OPTIONS")
	log.Println("✅ [ImageProxy] Routes registered: /api/save-image")
}

// HandleSaveImage - POST /api/save-image {"imageUrl": "..."}
func (h *ProxyHandler) HandleSaveImage(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "imageUrl is required")
		return
	}
	u, err := url.Parse(body.ImageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "imageUrl must be an http(s) URL")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	data, contentType, err := h.fetcher.Download(ctx, body.ImageURL)
	if err != nil {
		log.Printf("❌ [ImageProxy] Fetch %s failed: %v", body.ImageURL, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contentType == "" {
		contentType = "image/png"
	}

	log.Printf("✅ [ImageProxy] Fetched %d bytes (%s)", len(data), contentType)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SaveImageResponse{
		Success:     true,
		Data:        base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	})
}
