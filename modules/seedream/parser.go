package seedream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"seedream-studio-server/modules/common/model"
)

// upstream SSE event types
const (
	eventPartialSucceeded = "image_generation.partial_succeeded"
	eventPartialFailed    = "image_generation.partial_failed"
	eventCompleted        = "image_generation.completed"

	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	maxLineSize  = 1024 * 1024
)

type streamEvent struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Size  string `json:"size"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Usage *model.Usage `json:"usage"`
}

// StreamParser - turns an upstream SSE body into typed events.
// One parser serves one call; its local index counter is shared by
// successes and failures.
type StreamParser struct {
	next      int
	succeeded int
}

// NewStreamParser - parser with a fresh local counter
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Parse - read r until EOF, calling emit for every recognised event.
// Malformed JSON lines are dropped; only a transport read error is returned.
func (p *StreamParser) Parse(r io.Reader, emit func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == "" || data == doneSentinel {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		if out, ok := p.handle(&ev); ok {
			emit(out)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	return nil
}

func (p *StreamParser) handle(ev *streamEvent) (Event, bool) {
	switch ev.Type {
	case eventPartialSucceeded:
		idx := p.next
		p.next++
		p.succeeded++
		return Event{
			Kind:  EventImage,
			Index: idx,
			Image: &GeneratedImage{Index: idx, URL: ev.URL, Size: ev.Size},
		}, true

	case eventPartialFailed:
		idx := p.next
		p.next++
		msg := DefaultImageFailure
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return Event{Kind: EventError, Index: idx, Message: msg}, true

	case eventCompleted:
		usage := ev.Usage
		if usage == nil {
			usage = &model.Usage{
				GeneratedImages: p.succeeded,
				TotalTokens:     p.succeeded * TokensPerImage,
			}
		}
		return Event{Kind: EventCompleted, Index: p.next, Usage: usage}, true
	}
	return Event{}, false
}
