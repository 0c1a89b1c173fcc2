package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"seedream-studio-server/modules/common/config"
	"seedream-studio-server/modules/common/database"
	redisClient "seedream-studio-server/modules/common/redis"
	"seedream-studio-server/modules/common/storage"
	"seedream-studio-server/modules/seedream"
	"seedream-studio-server/modules/task"
	"seedream-studio-server/modules/worker"
)

// app - the shared components both commands start from
type app struct {
	cfg       *config.Config
	rdb       *redis.Client
	store     *task.Store
	queue     *worker.Queue
	blobs     *storage.Client
	gallery   *database.Client
	scheduler *seedream.Scheduler
	processor *task.Processor
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rdb := redisClient.Connect(cfg)
	if rdb == nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s", cfg.GetRedisAddr())
	}

	gallery, err := database.NewClient(cfg)
	if err != nil {
		rdb.Close()
		return nil, err
	}

	client := seedream.NewClient(cfg.ArkAPIURL, cfg.ArkAPIKey,
		seedream.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
		seedream.WithMinInterval(cfg.UpstreamMinInterval),
	)
	scheduler := seedream.NewScheduler(client, cfg.ArkModelID, cfg.MaxConcurrentCalls)

	store := task.NewStore(rdb)
	queue := worker.NewQueue(rdb)
	blobs := storage.NewClient(cfg)

	return &app{
		cfg:       cfg,
		rdb:       rdb,
		store:     store,
		queue:     queue,
		blobs:     blobs,
		gallery:   gallery,
		scheduler: scheduler,
		processor: task.NewProcessor(store, scheduler, blobs, gallery, queue, cfg.HeartbeatInterval),
	}, nil
}

// startBackground - queue worker plus stale-claim sweeper; wait returns once
// both have stopped after ctx ends
func (rt *app) startBackground(ctx context.Context, concurrency int) (wait func()) {
	var wg sync.WaitGroup

	w := worker.NewWorker(rt.queue, rt.processor, concurrency, rt.cfg.TaskTimeout)
	sweeper := task.NewSweeper(rt.store, rt.queue, rt.cfg.HeartbeatStaleAfter, rt.cfg.SweepInterval)

	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	log.Printf("🔄 Background worker %s started (concurrency %d)", rt.processor.WorkerID(), concurrency)
	return wg.Wait
}

func (rt *app) close() {
	if err := rt.rdb.Close(); err != nil {
		log.Printf("⚠️  Redis close failed: %v", err)
	}
}
