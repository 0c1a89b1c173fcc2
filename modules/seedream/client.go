package seedream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"seedream-studio-server/modules/common/model"
)

// ErrNoImage - the stream finished without any image
var ErrNoImage = errors.New("no image in stream")

// CallResult - outcome of one successful call
type CallResult struct {
	Image GeneratedImage
	Usage model.Usage
}

// Client - drives single-image calls against the Ark images endpoint
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option - Client option
type Option func(*Client)

// WithHTTPClient - override the HTTP client (timeouts, transports)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMinInterval - space upstream calls at least d apart (0 disables)
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// NewClient - create a call driver
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 180 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateOne - issue one streaming call and map it to one image.
// index is the caller-assigned global index. A failed call returns an error
// value carrying the upstream detail; it never panics. onImage, if set, fires
// once after the stream has fully completed.
func (c *Client) GenerateOne(ctx context.Context, payload *Payload, index int, onImage func(GeneratedImage)) (*CallResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("❌ [SeeDream] Request failed for image %d: %v", index, err)
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := upstreamErrorMessage(resp)
		log.Printf("❌ [SeeDream] API error for image %d: status=%d, message=%s", index, resp.StatusCode, msg)
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, msg)
	}

	var (
		first   *GeneratedImage
		failure string
		usage   *model.Usage
	)
	parser := NewStreamParser()
	readErr := parser.Parse(resp.Body, func(ev Event) {
		switch ev.Kind {
		case EventImage:
			if first == nil {
				first = ev.Image
			}
		case EventError:
			if failure == "" {
				failure = ev.Message
			}
		case EventCompleted:
			usage = ev.Usage
		}
	})

	if first == nil {
		if readErr != nil {
			return nil, readErr
		}
		if failure != "" {
			return nil, errors.New(failure)
		}
		return nil, ErrNoImage
	}
	if readErr != nil {
		log.Printf("⚠️  [SeeDream] Stream for image %d ended with error after an image arrived: %v", index, readErr)
	}

	img := *first
	img.Index = index

	result := &CallResult{Image: img}
	if usage != nil {
		result.Usage = *usage
	} else {
		result.Usage = model.Usage{GeneratedImages: 1, TotalTokens: TokensPerImage}
	}

	if onImage != nil {
		onImage(img)
	}
	return result, nil
}

// upstreamErrorMessage - pull error.message out of a JSON error body
func upstreamErrorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
