package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the catalog with an empty one",
	Long: `Persist an empty catalog as the next generation. Use this to start a full
rebuild, or after the embedding dimension or model changes. Older
generations are pruned according to store.keep_generations.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm the reset")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if !resetYes {
		return fmt.Errorf("reset drops every catalog entry; pass --yes to confirm")
	}

	repo, err := openRepository(cfg, GetLogger(), nil)
	if err != nil {
		return err
	}
	if err := repo.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	gen, err := repo.Generation()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Catalog reset at generation %d\n", gen)
	return nil
}
