package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"seedream-studio-server/modules/common/config"
)

const maxDownloadSize = 50 * 1024 * 1024

// Client - Supabase Storage blob store
type Client struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

// NewClient - create a storage client from config
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.SupabaseURL, "/"),
		serviceKey: cfg.SupabaseServiceKey,
		bucket:     cfg.SupabaseStorageBucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// PublicURL - durable public URL of an object in the bucket
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, path)
}

// Upload - store data at path and return its public URL
func (c *Client) Upload(ctx context.Context, data []byte, contentType, path string) (string, error) {
	log.Printf("📤 [Storage] Uploading %s (%d bytes, %s)", path, len(data), contentType)

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("✅ [Storage] Uploaded %s", path)
	return c.PublicURL(path), nil
}

// Download - fetch an external image; contentType is the response header as sent
func (c *Client) Download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// CopyFromURL - download a temporary upstream image and keep a permanent copy
func (c *Client) CopyFromURL(ctx context.Context, sourceURL, userID string) (string, error) {
	data, contentType, err := c.Download(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}

	path := fmt.Sprintf("images/%s/%d-%s.png", userID, time.Now().UnixMilli(), shortID())
	return c.Upload(ctx, data, contentType, path)
}

// UploadReference - store a data URL or raw base64 reference image before generation
func (c *Client) UploadReference(ctx context.Context, encoded, userID, taskID string, index int) (string, error) {
	data, contentType, err := DecodeImage(encoded)
	if err != nil {
		return "", fmt.Errorf("reference image %d: %w", index, err)
	}

	path := fmt.Sprintf("references/%s/%s/%d-ref-%d.png", userID, taskID, time.Now().UnixMilli(), index)
	return c.Upload(ctx, data, contentType, path)
}

// DecodeImage - decode "data:<type>;base64,<payload>" or bare base64
func DecodeImage(encoded string) ([]byte, string, error) {
	contentType := "image/png"
	payload := strings.TrimSpace(encoded)

	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		meta := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("data URL is not base64 encoded")
		}
		if mime := strings.TrimSuffix(meta, ";base64"); mime != "" {
			contentType = mime
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image")
	}
	return data, contentType, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
