package app

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	api "untestables/http"
	"untestables/store"
	"untestables/worker"
)

const gracefulTimeout = 30 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the management API server",
	Long: `Start the HTTP API: submit scan tasks, run time-boxed orchestrations,
inspect gaps and task status, and expose health and metrics endpoints.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "address", "", "address to listen on (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := componentLogger("serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DatabaseURL, componentLogger("store"))
	if err != nil {
		return errors.Wrap(err, "connecting to database")
	}
	defer db.Close()

	executor := api.NewTaskExecutor(api.ExecutorConfig{
		Store:         db,
		Invoker:       worker.NewCommandInvoker(cfg.WorkerCommand, componentLogger("worker")),
		Logger:        componentLogger("executor"),
		Bound:         cfg.Bound(),
		ChunkSize:     cfg.ChunkSize,
		CycleInterval: cfg.CycleInterval,
		IdleInterval:  cfg.IdleInterval,
	})
	apiServer := api.NewServer(db, executor, cfg.Bound(), cfg.ChunkSize, componentLogger("api"))
	router := api.NewRouter(apiServer, componentLogger("http"))

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown")
	}
	return nil
}
