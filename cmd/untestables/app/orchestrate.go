package app

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"untestables"
	"untestables/data"
	"untestables/github"
	"untestables/metrics"
	"untestables/store"
	"untestables/worker"
)

var (
	orchestrateDuration time.Duration
	metricsAddr         string
	orchestrateMin      int
	orchestrateMax      int
	orchestrateChunk    int
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the scan orchestration loop",
	Long: `Run the orchestration loop: check the GitHub quota, pick the lowest
unprocessed star range and hand it to the scanner process, until the
duration elapses or the process is interrupted.`,
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().DurationVar(&orchestrateDuration, "duration", 0,
		"stop after this long (0 runs until interrupted)")
	orchestrateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve prometheus metrics on this address (empty disables)")
	orchestrateCmd.Flags().IntVar(&orchestrateMin, "min-stars", -1, "lowest star count to scan (overrides config)")
	orchestrateCmd.Flags().IntVar(&orchestrateMax, "max-stars", -1, "highest star count to scan (overrides config)")
	orchestrateCmd.Flags().IntVar(&orchestrateChunk, "chunk-size", 0, "largest range handed to one worker run (overrides config)")
}

func runOrchestrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if orchestrateMin >= 0 {
		cfg.MinStars = orchestrateMin
	}
	if orchestrateMax >= 0 {
		cfg.MaxStars = orchestrateMax
	}
	if orchestrateChunk > 0 {
		cfg.ChunkSize = orchestrateChunk
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := componentLogger("orchestrate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DatabaseURL, componentLogger("store"))
	if err != nil {
		return errors.Wrap(err, "connecting to database")
	}
	defer db.Close()

	gh, err := github.NewClient(cfg.GithubToken, componentLogger("github"))
	if err != nil {
		return errors.Wrap(err, "creating github client")
	}

	if cfg.RedisAddr != "" {
		keeper, err := acquireLease(ctx, cfg.RedisAddr, cfg.LeaseExpiry)
		if err != nil {
			return err
		}
		defer keeper.Stop(context.Background())
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	invoker := worker.NewCommandInvoker(cfg.WorkerCommand, componentLogger("worker"))
	orch := untestables.NewOrchestrator(db, gh, invoker,
		untestables.WithLogger(logger),
		untestables.WithBound(cfg.MinStars, cfg.MaxStars),
		untestables.WithChunkSize(cfg.ChunkSize),
		untestables.WithCycleInterval(cfg.CycleInterval),
		untestables.WithIdleInterval(cfg.IdleInterval),
		untestables.WithTotalDuration(orchestrateDuration),
		untestables.WithMetrics(true),
	)

	logger.Infof("orchestrating stars %d-%d, chunk size %d", cfg.MinStars, cfg.MaxStars, cfg.ChunkSize)
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "orchestration loop")
	}
	return nil
}

// acquireLease takes the single-orchestrator lease and keeps it renewed.
func acquireLease(ctx context.Context, addr string, expiry time.Duration) (*data.Keeper, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	leases := data.NewRedisLeaseStore(client, "untestables")
	keeper := data.NewKeeper(leases, expiry, componentLogger("lease"))
	if err := keeper.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "another orchestrator already holds the lease")
	}
	return keeper, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	logger := componentLogger("metrics")
	logger.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server stopped: %v", err)
	}
}
