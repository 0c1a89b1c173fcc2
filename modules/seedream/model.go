package seedream

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"seedream-studio-server/modules/common/model"
)

// Mode - generation mode selected by the caller
type Mode string

const (
	ModeText       Mode = "text"
	ModeImageEdit  Mode = "image-edit"
	ModeMultiBlend Mode = "multi-image-blend"
)

const (
	// MaxImagesPerRequest - upstream cap on images per request
	MaxImagesPerRequest = 15
	// MaxBlendReferences - upstream cap on reference images when blending
	MaxBlendReferences = 14
	// TokensPerImage - cost accounting used when upstream omits usage
	TokensPerImage = 16384
	// DefaultImageFailure - message used when upstream gives no detail
	DefaultImageFailure = "Image generation failed"
)

// ErrInvalidRequest - request rejected before any upstream call
var ErrInvalidRequest = errors.New("invalid generation request")

// sizePresets - user-facing size names mapped to the API format
var sizePresets = map[string]string{
	"2K":   "2K",
	"4K":   "4K",
	"1:1":  "2048x2048",
	"4:3":  "2304x1728",
	"3:4":  "1728x2304",
	"16:9": "2560x1440",
	"9:16": "1440x2560",
	"3:2":  "2496x1664",
	"2:3":  "1664x2496",
	"21:9": "3024x1296",
}

var pixelSize = regexp.MustCompile(`^[1-9][0-9]*x[1-9][0-9]*$`)

// ParseMode - accept canonical mode names plus the aliases the web client sends
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "text-to-image", "batch":
		return ModeText, nil
	case "image-edit", "image":
		return ModeImageEdit, nil
	case "multi-image-blend", "multi":
		return ModeMultiBlend, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
}

// ResolveSize - map a preset or explicit WxH size to the API format
func ResolveSize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if resolved, ok := sizePresets[s]; ok {
		return resolved, nil
	}
	if pixelSize.MatchString(s) {
		return s, nil
	}
	return "", fmt.Errorf("%w: unsupported size %q", ErrInvalidRequest, s)
}

// GenerationRequest - immutable input shared by the relay and the task worker
type GenerationRequest struct {
	Prompt             string
	Mode               Mode
	Size               string
	ReferenceImageURLs []string
	Strength           *float64
	ExpectedCount      int
}

// Validate - enforce the mode / reference-image / count constraints
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if _, err := ResolveSize(r.Size); err != nil {
		return err
	}
	if r.ExpectedCount < 1 {
		return fmt.Errorf("%w: expected image count must be positive", ErrInvalidRequest)
	}
	if r.ExpectedCount > MaxImagesPerRequest {
		return fmt.Errorf("%w: at most %d images per request", ErrInvalidRequest, MaxImagesPerRequest)
	}

	switch r.Mode {
	case ModeText:
	case ModeImageEdit:
		if len(r.ReferenceImageURLs) != 1 {
			return fmt.Errorf("%w: image-edit mode requires exactly 1 reference image", ErrInvalidRequest)
		}
	case ModeMultiBlend:
		if len(r.ReferenceImageURLs) < 2 {
			return fmt.Errorf("%w: multi-image-blend mode requires at least 2 reference images", ErrInvalidRequest)
		}
		if len(r.ReferenceImageURLs) > MaxBlendReferences {
			return fmt.Errorf("%w: at most %d reference images can be blended", ErrInvalidRequest, MaxBlendReferences)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	return nil
}

// ClampStrength - saturate a reference strength to [0,1]
func ClampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Payload - upstream request body
type Payload struct {
	Model                     string   `json:"model"`
	Prompt                    string   `json:"prompt"`
	Size                      string   `json:"size"`
	ResponseFormat            string   `json:"response_format"`
	Watermark                 bool     `json:"watermark"`
	Stream                    bool     `json:"stream"`
	Image                     any      `json:"image,omitempty"`
	SequentialImageGeneration string   `json:"sequential_image_generation,omitempty"`
	Strength                  *float64 `json:"strength,omitempty"`
}

// BuildPayload - shape the upstream body for the request's mode
func BuildPayload(modelID string, req *GenerationRequest) (*Payload, error) {
	size, err := ResolveSize(req.Size)
	if err != nil {
		return nil, err
	}

	p := &Payload{
		Model:          modelID,
		Prompt:         req.Prompt,
		Size:           size,
		ResponseFormat: "url",
		Watermark:      false,
		Stream:         true,
	}

	switch req.Mode {
	case ModeImageEdit:
		p.Image = req.ReferenceImageURLs[0]
		p.Strength = clampedStrength(req.Strength)
	case ModeMultiBlend:
		p.Image = append([]string(nil), req.ReferenceImageURLs...)
		// blending must not be treated as a sequence
		p.SequentialImageGeneration = "disabled"
		p.Strength = clampedStrength(req.Strength)
	}
	return p, nil
}

func clampedStrength(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := ClampStrength(*v)
	return &c
}

// GeneratedImage - one image produced by the upstream API
type GeneratedImage struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Size  string `json:"size"`
}

// GenerationError - an indexed failure (Index is nil for request-level errors)
type GenerationError struct {
	Index   *int   `json:"index,omitempty"`
	Message string `json:"message"`
}

// GenerationResult - aggregate of one scheduler run
type GenerationResult struct {
	Images []GeneratedImage  `json:"images"`
	Errors []GenerationError `json:"errors"`
	Usage  model.Usage       `json:"usage"`
}

// EventKind - kind of a parsed or relayed event
type EventKind string

const (
	EventImage     EventKind = "image"
	EventError     EventKind = "error"
	EventCompleted EventKind = "completed"
)

// Event - a typed stream event; Index is local inside the parser and
// global once emitted by the scheduler
type Event struct {
	Kind    EventKind
	Index   int
	Image   *GeneratedImage
	Message string
	Usage   *model.Usage
}

// ProgressFunc - per-call progress observer, called from the call's goroutine
type ProgressFunc func(Event)

func intPtr(i int) *int {
	return &i
}
