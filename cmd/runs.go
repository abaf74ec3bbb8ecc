package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the stored run history",
	Long:  `Commands for the analysis runs recorded in PostgreSQL. Requires DATABASE_URL.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run with its matches",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsSearchCmd = &cobra.Command{
	Use:   "search <photo>",
	Short: "Find stored runs whose reference face matches a photo",
	Long: `Detect the largest face in the photo and list the stored runs whose
reference face is within the match threshold of it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsSearch,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsSearchCmd)

	runsListCmd.Flags().Int("limit", constants.DefaultRunListLimit, "Maximum number of runs")
	runsListCmd.Flags().Int("offset", 0, "Number of runs to skip")
	runsListCmd.Flags().Bool("json", false, "Output as JSON")

	runsShowCmd.Flags().Bool("json", false, "Output as JSON")

	runsSearchCmd.Flags().Float64("threshold", 0, "Minimum similarity, in (0, 1] (0 = ANALYSIS_MATCH_THRESHOLD)")
	runsSearchCmd.Flags().Int("limit", constants.DefaultRunSearchLimit, "Maximum number of runs")
}

// requireHistory opens the run history or fails when it is not configured.
func requireHistory(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.RunRepository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}
	return openHistory(ctx, cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit := min(mustGetInt(cmd, "limit"), constants.MaxRunListLimit)
	offset := mustGetInt(cmd, "offset")

	pool, runs, err := requireHistory(ctx, config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	list, err := runs.List(ctx, limit, offset)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return printJSON(list)
	}

	total, err := runs.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}
	if len(list) == 0 {
		fmt.Printf("No runs stored (total %d)\n", total)
		return nil
	}
	printRuns(os.Stdout, list)
	fmt.Printf("\nShowing %d of %d runs\n", len(list), total)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pool, runs, err := requireHistory(ctx, config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	run, err := runs.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	if mustGetBool(cmd, "json") {
		return printJSON(run)
	}
	printStoredRun(os.Stdout, run)
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pool, runs, err := requireHistory(ctx, config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := runs.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", args[0])
	return nil
}

func runRunsSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	if v := mustGetFloat64(cmd, "threshold"); v > 0 {
		cfg.Analysis.MatchThreshold = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	if len(data) > analysis.MaxReferenceSize {
		return fmt.Errorf("photo is larger than %d MB", analysis.MaxReferenceSize>>20)
	}

	pool, runs, err := requireHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	p, err := newPipeline(cfg, newLogger())
	if err != nil {
		return err
	}
	defer p.registry.Close()
	if err := p.registry.Load(ctx); err != nil {
		return err
	}

	det, err := p.embedder.DetectSingle(ctx, data)
	if err != nil {
		return err
	}
	if det == nil {
		return analysis.ErrNoReferenceFace
	}

	matcher := facematch.NewMatcher(cfg.Analysis.MatchThreshold)
	found, distances, err := runs.FindByReference(ctx, det.Embedding, mustGetInt(cmd, "limit"), matcher.MaxDistance())
	if err != nil {
		return fmt.Errorf("failed to search runs: %w", err)
	}
	if len(found) == 0 {
		fmt.Println("No stored run has a matching reference face")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVIDEO\tREFERENCE\tMATCHES\tSIMILARITY")
	fmt.Fprintln(tw, "--\t-----\t---------\t-------\t----------")
	for i, r := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f%%\n",
			r.ID, r.VideoName, r.ReferenceName, r.TotalDetections, (1-distances[i])*100)
	}
	tw.Flush()
	return nil
}
