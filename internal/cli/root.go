package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"myroom/config"
	"myroom/internal/logging"
)

var (
	cfgFile  string
	envFiles []string
	rootDir  string
	cfg      *config.Config
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "myroom",
	Short: "Furniture catalog search and asset generation workers",
	Long: `myroom keeps a furniture catalog of image embeddings in sync with the owning
backend and serves similarity search over it.

Example usage:
  myroom serve                    # REST search API
  myroom worker                   # consume generation, update, delete and recommendation queues
  myroom search "oak chair"       # search the catalog from the terminal
  myroom stats                    # catalog statistics`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}
		if !filepath.IsAbs(cfg.Store.Dir) {
			cfg.Store.Dir = filepath.Join(rootDir, cfg.Store.Dir)
		}
		if cfg.Blob.Local.Dir != "" && !filepath.IsAbs(cfg.Blob.Local.Dir) {
			cfg.Blob.Local.Dir = filepath.Join(rootDir, cfg.Blob.Local.Dir)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./myroom.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default is ./.env)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *slog.Logger {
	return logger
}
