package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"myroom/internal/metrics"
)

var (
	workerQueues      []string
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume generation, metadata update and delete messages",
	Long: `Run the queue workers. Each queue is consumed by its own worker, one
message at a time, and every message is acked, requeued or rejected
according to how handling ended.

Examples:
  myroom worker                              # all queues
  myroom worker --queues delete,metadata_update`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerQueues, "queues", nil, "queues to consume: generation, metadata_update, delete, recommendation (default all)")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	repo, err := openRepository(cfg, logger, m)
	if err != nil {
		return err
	}
	embedder, err := openEmbedder(cfg)
	if err != nil {
		return err
	}
	channel, err := openChannel(cfg, logger)
	if err != nil {
		return err
	}
	defer channel.Close()

	workers, err := newWorkers(ctx, cfg, repo, channel, embedder, logger, m, workerQueues)
	if err != nil {
		return err
	}

	if workerMetricsAddr != "" {
		srv := &http.Server{
			Addr:              workerMetricsAddr,
			Handler:           promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("workers starting", "count", len(workers), "transport", cfg.Broker.Transport)
	return runWorkers(ctx, workers, logger)
}
