package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"myroom/internal/adapter/fs"
	"myroom/internal/domain"
	"myroom/internal/usecase"
)

var (
	replayIncludes []string
	replayExcludes []string
	replayDirect   bool
	replayDryRun   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <path>",
	Short: "Publish generation requests from JSON files",
	Long: `Read generation requests from JSON files and publish them on the
generation routing key. A file holds one request object or an array of them.

With --direct the requests are run through the generation workflow in this
process instead of being published.

Examples:
  myroom replay requests/                       # every **/*.json under requests/
  myroom replay failed.json --direct
  myroom replay dumps/ --exclude "archive/**" --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringSliceVar(&replayIncludes, "include", nil, "glob patterns to include (default **/*.json)")
	replayCmd.Flags().StringSliceVar(&replayExcludes, "exclude", nil, "glob patterns to exclude")
	replayCmd.Flags().BoolVar(&replayDirect, "direct", false, "run the workflow in-process instead of publishing")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "validate files without publishing")
	rootCmd.AddCommand(replayCmd)
}

type replayItem struct {
	file string
	body []byte
	req  domain.GenerationRequest
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	files, err := fs.NewWalker(replayIncludes, replayExcludes).Walk(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(out, "No request files under %s\n", path)
		return nil
	}

	var items []replayItem
	var invalid []string
	for _, f := range files {
		found, err := readRequests(f.Path)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s: %v", f.RelPath, err))
			continue
		}
		items = append(items, found...)
	}

	fmt.Fprintf(out, "Found %d requests in %d files\n", len(items), len(files))
	if replayDryRun || len(items) == 0 {
		printInvalid(cmd, invalid)
		return nil
	}

	channel, err := openChannel(cfg, logger)
	if err != nil {
		return err
	}
	defer channel.Close()

	var orchestrator *usecase.GenerationOrchestrator
	if replayDirect {
		repo, err := openRepository(cfg, logger, nil)
		if err != nil {
			return err
		}
		embedder, err := openEmbedder(cfg)
		if err != nil {
			return err
		}
		orchestrator, err = newOrchestrator(ctx, cfg, repo, channel, embedder, logger, nil)
		if err != nil {
			return err
		}
	} else if cfg.Broker.Transport == "memory" {
		return fmt.Errorf("replay needs a shared broker; use --direct with the memory transport")
	}

	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Replaying[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}),
	)

	var sent, failed int
	outcomes := map[domain.Outcome]int{}
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if replayDirect {
			run, err := orchestrator.Run(ctx, it.req)
			if err != nil {
				failed++
				logger.Warn("replay failed", "file", it.file, "catalog_id", it.req.CatalogID, "error", err)
			} else {
				sent++
				outcomes[run.Outcome]++
			}
		} else if err := channel.Publish(ctx, cfg.Broker.Generation.RoutingKey, it.body); err != nil {
			failed++
			logger.Warn("publish failed", "file", it.file, "catalog_id", it.req.CatalogID, "error", err)
		} else {
			sent++
		}
		_ = bar.Add(1)
	}

	if replayDirect {
		fmt.Fprintf(out, "\nReplay complete:\n")
		fmt.Fprintf(out, "  Processed:  %d\n", sent)
		for outcome, n := range outcomes {
			fmt.Fprintf(out, "  %-10s  %d\n", string(outcome)+":", n)
		}
	} else {
		fmt.Fprintf(out, "\nReplay complete:\n")
		fmt.Fprintf(out, "  Published:  %d (routing key %s)\n", sent, cfg.Broker.Generation.RoutingKey)
	}
	fmt.Fprintf(out, "  Failed:     %d\n", failed)
	printInvalid(cmd, invalid)

	if failed > 0 {
		return fmt.Errorf("%d requests failed", failed)
	}
	return ctx.Err()
}

// readRequests reads one request object or an array of them. Every request
// is validated and re-encoded on its own.
func readRequests(path string) ([]replayItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("malformed request array: %w", err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	items := make([]replayItem, 0, len(raws))
	for i, raw := range raws {
		req, err := usecase.DecodeGenerationRequest(raw)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		items = append(items, replayItem{file: path, body: bytes.TrimSpace(raw), req: req})
	}
	return items, nil
}

func printInvalid(cmd *cobra.Command, invalid []string) {
	if len(invalid) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nSkipped files:\n")
	for _, s := range invalid {
		fmt.Fprintf(out, "  - %s\n", s)
	}
}
