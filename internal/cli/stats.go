package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"myroom/internal/adapter/store"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the persisted snapshot layout and schema",
	Long: `Print the manifest and metadata header of the current snapshot and
whether this build can read it, needs to migrate it, or needs a reset.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(inspectCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	repo, err := openRepository(cfg, GetLogger(), nil)
	if err != nil {
		return err
	}
	snap, err := repo.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	stats := snap.Stats()

	out := cmd.OutOrStdout()
	if statsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(out, "Catalog statistics (%s):\n", repo.Dir())
	fmt.Fprintf(out, "  Generation:     %d\n", stats.Generation)
	if !stats.SavedAt.IsZero() {
		fmt.Fprintf(out, "  Saved at:       %s\n", stats.SavedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(out, "  Dimension:      %d\n", stats.Dimension)
	fmt.Fprintf(out, "  Index slots:    %d\n", stats.TotalSlots)
	fmt.Fprintf(out, "  Live items:     %d\n", stats.LiveItems)
	fmt.Fprintf(out, "  Hidden items:   %d\n", stats.HiddenItems)
	fmt.Fprintf(out, "  Deleted items:  %d\n", stats.DeletedItems)

	if len(stats.Categories) > 0 {
		fmt.Fprintf(out, "\nCategories (%d):\n", stats.TotalCategories)
		names := make([]string, 0, len(stats.Categories))
		for name := range stats.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-20s %d\n", name, stats.Categories[name])
		}
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	out := cmd.OutOrStdout()

	m, info, err := store.ReadSchemaInfo(cfg.Store.Dir)
	if errors.Is(err, store.ErrNoSnapshot) {
		fmt.Fprintf(out, "No snapshot in %s\n", cfg.Store.Dir)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Snapshot %s:\n", cfg.Store.Dir)
	fmt.Fprintf(out, "  Generation:      %d\n", m.Generation)
	fmt.Fprintf(out, "  Index file:      %s\n", m.IndexFile)
	fmt.Fprintf(out, "  Metadata file:   %s\n", m.MetaFile)
	fmt.Fprintf(out, "  Entries:         %d\n", m.Count)
	fmt.Fprintf(out, "  Dimension:       %d\n", info.Dimension)
	fmt.Fprintf(out, "  Schema version:  %d (current %d)\n", info.Version, store.CurrentSchemaVersion)
	fmt.Fprintf(out, "  Index checksum:  %s\n", info.IndexChecksum)
	fmt.Fprintf(out, "  Saved at:        %s\n", info.SavedAt.Format("2006-01-02 15:04:05 MST"))

	mr := store.CheckMigration(info, cfg.Store.Dimension)
	switch {
	case mr.NeedsRebuild:
		fmt.Fprintf(out, "\nStatus: rebuild required (%s). Run `myroom reset` and re-ingest.\n", mr.Reason)
	case mr.NeedsMigration:
		fmt.Fprintf(out, "\nStatus: readable, %s on next write\n", mr.Reason)
	default:
		fmt.Fprintln(out, "\nStatus: ok")
	}
	return nil
}
