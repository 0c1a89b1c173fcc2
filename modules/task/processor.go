package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"seedream-studio-server/modules/common/model"
	"seedream-studio-server/modules/seedream"
)

const (
	copyConcurrency = 4
	releaseTimeout  = 10 * time.Second
)

// Generator - runs one fan-out generation (implemented by *seedream.Scheduler)
type Generator interface {
	Run(ctx context.Context, req *seedream.GenerationRequest, onProgress seedream.ProgressFunc) (*seedream.GenerationResult, error)
}

// BlobStore - permanent copies of temporary upstream images
type BlobStore interface {
	CopyFromURL(ctx context.Context, sourceURL, userID string) (string, error)
}

// GalleryRecorder - appends finished images to the shared gallery
type GalleryRecorder interface {
	CreateImageRecord(ctx context.Context, img *model.GalleryImage) (*model.GalleryImage, error)
}

// Requeuer - makes a task id visible to workers again
type Requeuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Processor - claims tasks and drives them to a terminal state
type Processor struct {
	store             *Store
	generator         Generator
	blobs             BlobStore
	gallery           GalleryRecorder
	requeue           Requeuer
	workerID          string
	heartbeatInterval time.Duration
}

// NewProcessor - processor with a fresh worker identity
func NewProcessor(store *Store, generator Generator, blobs BlobStore, gallery GalleryRecorder, requeue Requeuer, heartbeatInterval time.Duration) *Processor {
	return &Processor{
		store:             store,
		generator:         generator,
		blobs:             blobs,
		gallery:           gallery,
		requeue:           requeue,
		workerID:          "worker-" + uuid.NewString(),
		heartbeatInterval: heartbeatInterval,
	}
}

// WorkerID - identity written into claimed tasks
func (p *Processor) WorkerID() string {
	return p.workerID
}

// Process - claim and run one task. A task that is not pending is left
// untouched, so duplicate deliveries are harmless.
func (p *Processor) Process(ctx context.Context, taskID string) error {
	t, claimed, err := p.store.Claim(ctx, taskID, p.workerID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", taskID, err)
	}
	if !claimed {
		log.Printf("⏭️  [TaskWorker] Task %s is %s, skipping", taskID, t.Status)
		return nil
	}

	log.Printf("🚀 [TaskWorker] Claimed task %s (attempt %d/%d, %d images)", taskID, t.RetryCount+1, t.MaxRetries+1, t.ExpectedCount)

	runErr := p.run(ctx, t)
	if runErr == nil {
		log.Printf("✅ [TaskWorker] Task %s completed", taskID)
		return nil
	}

	log.Printf("❌ [TaskWorker] Task %s attempt failed: %v", taskID, runErr)
	p.release(ctx, taskID, runErr)
	return runErr
}

// release - hand a failed attempt to the retry policy
func (p *Processor) release(ctx context.Context, taskID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	retry, err := p.store.Release(ctx, taskID, p.workerID, runErr.Error())
	if errors.Is(err, ErrClaimLost) {
		log.Printf("⚠️  [TaskWorker] Task %s was reclaimed before release", taskID)
		return
	}
	if err != nil {
		log.Printf("❌ [TaskWorker] Failed to release task %s: %v", taskID, err)
		return
	}
	if !retry {
		log.Printf("💀 [TaskWorker] Task %s failed permanently", taskID)
		return
	}

	if err := p.requeue.Enqueue(ctx, taskID); err != nil {
		log.Printf("❌ [TaskWorker] Failed to requeue task %s: %v", taskID, err)
		return
	}
	log.Printf("🔁 [TaskWorker] Task %s requeued for retry", taskID)
}

// run - the processing sequence for one claimed task
func (p *Processor) run(ctx context.Context, t *model.Task) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(hbCtx, t.ID)

	slots := make([]model.TaskImage, t.ExpectedCount)
	for i := range slots {
		slots[i] = model.TaskImage{
			ID:     fmt.Sprintf("img-%d", i),
			Size:   t.Size,
			Status: model.ImagePending,
		}
	}
	if err := p.store.SaveImages(ctx, t.ID, p.workerID, slots); err != nil {
		return fmt.Errorf("failed to initialise image slots: %w", err)
	}

	req, err := generationRequest(t)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	produced := make(map[int]seedream.GeneratedImage, t.ExpectedCount)
	result, err := p.generator.Run(ctx, req, func(ev seedream.Event) {
		if ev.Kind != seedream.EventImage || ev.Image == nil {
			return
		}
		mu.Lock()
		produced[ev.Index] = *ev.Image
		mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	// images the callback never reported
	for _, img := range result.Images {
		if _, ok := produced[img.Index]; !ok {
			produced[img.Index] = img
		}
	}

	now := time.Now().UnixMilli()

	var g errgroup.Group
	g.SetLimit(copyConcurrency)
	for index, img := range produced {
		if index < 0 || index >= len(slots) {
			log.Printf("⚠️  [TaskWorker] Task %s: image index %d out of range", t.ID, index)
			continue
		}
		slot := &slots[index]
		slot.URL = img.URL
		if img.Size != "" {
			slot.Size = img.Size
		}
		slot.Status = model.ImageReady
		slot.ProcessedAt = now

		g.Go(func() error {
			p.persistImage(ctx, t, index, slot)
			return nil
		})
	}
	g.Wait()

	for _, genErr := range result.Errors {
		if genErr.Index == nil || *genErr.Index < 0 || *genErr.Index >= len(slots) {
			continue
		}
		slot := &slots[*genErr.Index]
		if slot.Status == model.ImageReady {
			continue
		}
		slot.Status = model.ImageError
		slot.Error = genErr.Message
		slot.ProcessedAt = now
	}
	for i := range slots {
		if slots[i].Status == model.ImagePending {
			slots[i].Status = model.ImageError
			slots[i].Error = seedream.DefaultImageFailure
			slots[i].ProcessedAt = now
		}
	}

	if err := p.store.SaveImages(ctx, t.ID, p.workerID, slots); err != nil {
		return fmt.Errorf("failed to save images: %w", err)
	}
	if err := p.store.Complete(ctx, t.ID, p.workerID, result.Usage); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// persistImage - best-effort permanent copy plus gallery record; a failure
// leaves the slot ready without a storageUrl
func (p *Processor) persistImage(ctx context.Context, t *model.Task, index int, slot *model.TaskImage) {
	storageURL, err := p.blobs.CopyFromURL(ctx, slot.URL, t.UserID)
	if err != nil {
		log.Printf("⚠️  [TaskWorker] Task %s image %d: storage copy failed: %v", t.ID, index, err)
		return
	}
	slot.StorageURL = storageURL

	_, err = p.gallery.CreateImageRecord(ctx, &model.GalleryImage{
		UserID:      t.UserID,
		UserName:    t.UserName,
		Prompt:      t.Prompt,
		ImageURL:    storageURL,
		OriginalURL: slot.URL,
		Size:        slot.Size,
		Mode:        t.Mode,
	})
	if err != nil {
		log.Printf("⚠️  [TaskWorker] Task %s image %d: gallery record failed: %v", t.ID, index, err)
	}
}

// heartbeat - refresh lastHeartbeat until ctx ends or the claim is lost
func (p *Processor) heartbeat(ctx context.Context, taskID string) {
	if p.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.store.Heartbeat(ctx, taskID, p.workerID)
			if errors.Is(err, ErrClaimLost) {
				log.Printf("⚠️  [TaskWorker] Lost claim on task %s", taskID)
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Printf("⚠️  [TaskWorker] Heartbeat for %s failed: %v", taskID, err)
			}
		}
	}
}

// generationRequest - rebuild the immutable request from a stored task
func generationRequest(t *model.Task) (*seedream.GenerationRequest, error) {
	mode, err := seedream.ParseMode(t.Mode)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(t.ReferenceImageURLs))
	for _, u := range t.ReferenceImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			refs = append(refs, u)
		}
	}
	req := &seedream.GenerationRequest{
		Prompt:             t.Prompt,
		Mode:               mode,
		Size:               t.Size,
		ReferenceImageURLs: refs,
		Strength:           t.Strength,
		ExpectedCount:      t.ExpectedCount,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
