package seedream

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
	"seedream-studio-server/modules/common/model"
)

// DefaultMaxConcurrent - calls in flight per scheduler run
const DefaultMaxConcurrent = 2

// Caller - issues one single-image call (implemented by *Client)
type Caller interface {
	GenerateOne(ctx context.Context, payload *Payload, index int, onImage func(GeneratedImage)) (*CallResult, error)
}

// Scheduler - fans one GenerationRequest out to expectedCount calls in
// barrier-separated batches of at most maxConcurrent.
type Scheduler struct {
	caller        Caller
	modelID       string
	maxConcurrent int
}

// NewScheduler - create a scheduler; maxConcurrent < 1 falls back to the default
func NewScheduler(caller Caller, modelID string, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Scheduler{
		caller:        caller,
		modelID:       modelID,
		maxConcurrent: maxConcurrent,
	}
}

type callSlot struct {
	image *GeneratedImage
	err   string
	usage model.Usage
}

// Run - issue exactly req.ExpectedCount calls and assemble an index-stable
// result. Only validation errors and context cancellation are returned;
// per-call failures come back as indexed GenerationErrors.
// onProgress is invoked from each call's goroutine as soon as it settles.
func (s *Scheduler) Run(ctx context.Context, req *GenerationRequest, onProgress ProgressFunc) (*GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := BuildPayload(s.modelID, req)
	if err != nil {
		return nil, err
	}

	total := req.ExpectedCount
	slots := make([]callSlot, total)

	log.Printf("🚀 [SeeDream] Generating %d images (mode=%s, size=%s, concurrency=%d)", total, req.Mode, payload.Size, s.maxConcurrent)

	for start := 0; start < total; start += s.maxConcurrent {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generation aborted before batch at index %d: %w", start, err)
		}

		end := min(start+s.maxConcurrent, total)

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				s.call(ctx, payload, i, &slots[i], onProgress)
				return nil
			})
		}
		g.Wait()
	}

	result := &GenerationResult{
		Images: []GeneratedImage{},
		Errors: []GenerationError{},
	}
	for i, slot := range slots {
		if slot.image != nil {
			result.Images = append(result.Images, *slot.image)
			result.Usage.Add(slot.usage)
			continue
		}
		result.Errors = append(result.Errors, GenerationError{Index: intPtr(i), Message: slot.err})
	}

	log.Printf("✅ [SeeDream] Generation finished: %d images, %d errors", len(result.Images), len(result.Errors))
	return result, nil
}

func (s *Scheduler) call(ctx context.Context, payload *Payload, index int, slot *callSlot, onProgress ProgressFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [SeeDream] Call %d panicked: %v", index, r)
			slot.image = nil
			slot.err = fmt.Sprintf("generation call panicked: %v", r)
			emit(onProgress, Event{Kind: EventError, Index: index, Message: slot.err})
		}
	}()

	res, err := s.caller.GenerateOne(ctx, payload, index, func(img GeneratedImage) {
		emit(onProgress, Event{Kind: EventImage, Index: img.Index, Image: &img})
	})
	if err != nil || res == nil {
		msg := DefaultImageFailure
		if err != nil {
			msg = err.Error()
		}
		log.Printf("⚠️  [SeeDream] Image %d failed: %s", index, msg)
		slot.err = msg
		emit(onProgress, Event{Kind: EventError, Index: index, Message: msg})
		return
	}

	img := res.Image
	img.Index = index
	slot.image = &img
	slot.usage = res.Usage
}

func emit(fn ProgressFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}
