package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the queue worker and the stale-claim sweeper",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "tasks processed at once (defaults to WORKER_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	rt, err := newApp()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	concurrency := workerConcurrency
	if concurrency < 1 {
		concurrency = rt.cfg.WorkerConcurrency
	}

	wait := rt.startBackground(ctx, concurrency)
	log.Println("👷 Worker running, press Ctrl+C to stop")

	<-ctx.Done()
	log.Println("🛑 Stopping worker, waiting for in-flight tasks...")
	wait()
	log.Println("✅ Worker stopped")
	return nil
}
