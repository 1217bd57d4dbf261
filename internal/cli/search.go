package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"myroom/internal/domain"
)

var (
	searchImage    string
	searchTopK     int
	searchCategory string
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the catalog by text, image or both",
	Long: `Search the persisted catalog. A text query, an image file, or both may be
given; with both the text and image scores are averaged.

Examples:
  myroom search "mid-century walnut sideboard"
  myroom search --image photo.jpg --category chair
  myroom search "linen sofa" --image living-room.jpg -k 10`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchImage, "image", "", "query image file")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default search.default_top_k)")
	searchCmd.Flags().StringVarP(&searchCategory, "category", "c", "", "restrict results to one category")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the response as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()

	query := strings.Join(args, " ")
	var image []byte
	if searchImage != "" {
		var err error
		image, err = os.ReadFile(searchImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
	}
	if query == "" && len(image) == 0 {
		return fmt.Errorf("a query or --image is required")
	}

	repo, err := openRepository(cfg, logger, nil)
	if err != nil {
		return err
	}
	embedder, err := openEmbedder(cfg)
	if err != nil {
		return err
	}
	engine := newEngine(cfg, repo, embedder, logger, nil)

	ctx := cmd.Context()
	var resp domain.SearchResponse
	switch {
	case len(image) > 0:
		resp = engine.HybridSearch(ctx, query, image, searchTopK, searchCategory)
	default:
		resp = engine.SearchByText(ctx, query, searchTopK, searchCategory)
	}

	if searchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	out := cmd.OutOrStdout()
	if resp.Status == domain.SearchWarning {
		fmt.Fprintf(out, "Warning: %s\n", resp.Warning)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for _, h := range resp.Results {
		fmt.Fprintf(out, "%2d. [%.4f] #%d %s (%s)\n", h.Rank, h.Score, h.CatalogID, h.DisplayName, h.Category)
		if h.TextScore != nil || h.ImageScore != nil {
			fmt.Fprintf(out, "    text=%s image=%s\n", formatScore(h.TextScore), formatScore(h.ImageScore))
		}
		if h.Metadata.AssetURL != "" {
			fmt.Fprintf(out, "    %s\n", h.Metadata.AssetURL)
		}
	}
	return nil
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *s)
}
