package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"seedream-studio-server/modules/gallery"
	"seedream-studio-server/modules/relay"
	"seedream-studio-server/modules/task"
	"seedream-studio-server/modules/worker"
)

const shutdownTimeout = 30 * time.Second

var (
	servePort     string
	serveNoWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the embedded queue worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (defaults to PORT)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "serve HTTP only; tasks are left to separate worker processes")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newApp()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	waitBackground := func() {}
	if !serveNoWorker {
		waitBackground = rt.startBackground(ctx, rt.cfg.WorkerConcurrency)
	}

	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")

	relay.NewHandler(rt.scheduler, rt.cfg.ArkAPIKey).RegisterRoutes(r)
	relay.NewProxyHandler(rt.blobs).RegisterRoutes(r)
	task.NewHandler(rt.store, rt.blobs, rt.queue, rt.cfg.TaskMaxRetries).RegisterRoutes(r)
	worker.NewEnqueueHandler(rt.queue).RegisterRoutes(r)
	gallery.NewHandler(rt.gallery, rt.cfg.GalleryCacheTTL).RegisterRoutes(r)

	port := servePort
	if port == "" {
		port = rt.cfg.Port
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🚀 SeeDream Studio Server starting on port %s", port)
	log.Printf("📡 Relay endpoint: http://localhost:%s/api/generate", port)
	log.Printf("📡 Task socket: ws://localhost:%s/ws/tasks", port)
	log.Printf("❤️  Health check: http://localhost:%s/health", port)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			waitBackground()
			return err
		}
	case <-ctx.Done():
		log.Println("🛑 Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}
	waitBackground()

	log.Println("✅ Server stopped")
	return nil
}

// enableCORS - allow the web client from any origin
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "seedream-studio-server",
	})
}
