package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"myroom/internal/metrics"
	"myroom/internal/server"
)

var (
	serveAddr    string
	serveWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST search API",
	Long: `Serve catalog search over HTTP. Each request reads the latest persisted
catalog generation, so writes by worker processes become visible without a
restart.

With --workers the queue workers run in the same process, which is required
for the in-memory broker transport.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveWorkers, "workers", false, "also run the queue workers")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

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
	engine := newEngine(cfg, repo, embedder, logger, m)

	recommender, err := newRecommender(cfg, engine, nil, logger, m)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithMetrics(m), server.WithRecommender(recommender)}
	if cfg.Blob.Provider == "local" && cfg.Blob.Local.Dir != "" {
		opts = append(opts, server.WithAssets(cfg.Blob.Local.Dir))
	}
	srv := server.New(engine, cfg.Server, logger, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if serveWorkers {
		channel, err := openChannel(cfg, logger)
		if err != nil {
			return err
		}
		defer channel.Close()

		workers, err := newWorkers(ctx, cfg, repo, channel, embedder, logger, m, nil)
		if err != nil {
			return err
		}
		g.Go(func() error { return runWorkers(gctx, workers, logger) })
	}

	return g.Wait()
}
