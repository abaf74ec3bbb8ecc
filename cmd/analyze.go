package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video> <photo>",
	Short: "Find the face from a photo in a video",
	Long: `Sample the video at a fixed interval and report every frame in which the
largest face of the reference photo appears.

Examples:
  # Analyse with the configured defaults (one frame every 3 seconds)
  face-finder analyze party.mp4 alice.jpg

  # Denser sampling and a stricter threshold
  face-finder analyze party.mp4 alice.jpg --interval 1s --threshold 0.5

  # Japanese summary, JSON output
  face-finder analyze party.mp4 alice.jpg --lang ja --json`,
	Args: cobra.ExactArgs(2),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().Float64("threshold", 0, "Minimum similarity for a match, in (0, 1] (0 = ANALYSIS_MATCH_THRESHOLD)")
	analyzeCmd.Flags().Duration("interval", 0, "Time between sampled frames (0 = ANALYSIS_SAMPLE_INTERVAL)")
	analyzeCmd.Flags().Int("workers", 0, "Frames scored in parallel (0 = ANALYSIS_WORKERS)")
	analyzeCmd.Flags().Duration("timeout", 0, "Abort the run after this long (0 = ANALYSIS_TIMEOUT)")
	analyzeCmd.Flags().String("lang", "en", "Summary message language (en, ja)")
	analyzeCmd.Flags().Bool("json", false, "Output as JSON")
	analyzeCmd.Flags().Bool("no-history", false, "Do not record the run even when DATABASE_URL is set")
}

// applyAnalyzeFlags overrides the configuration with explicitly set flags.
func applyAnalyzeFlags(cmd *cobra.Command, cfg *config.Config) {
	if v := mustGetFloat64(cmd, "threshold"); v > 0 {
		cfg.Analysis.MatchThreshold = v
	}
	if v := mustGetDuration(cmd, "interval"); v > 0 {
		cfg.Analysis.SampleInterval = v
	}
	if v := mustGetInt(cmd, "workers"); v > 0 {
		cfg.Analysis.Workers = v
	}
	if v := mustGetDuration(cmd, "timeout"); v > 0 {
		cfg.Analysis.Timeout = v
	}
}

// progressListener renders scoring progress on stderr. The bar is created on
// the first progress event, once the number of frames is known.
func progressListener(quiet bool) (analysis.Listener, func()) {
	var bar *progressbar.ProgressBar
	listener := func(e analysis.Event) {
		if quiet || e.FramesTotal == 0 {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(e.FramesTotal,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Scoring frames"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("frames"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(e.FramesDone)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
	}
	return listener, finish
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	videoPath, photoPath := args[0], args[1]
	jsonOutput := mustGetBool(cmd, "json")
	noHistory := mustGetBool(cmd, "no-history")
	lang := analysis.MatchLanguage(mustGetString(cmd, "lang"))

	cfg := config.Load()
	applyAnalyzeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg, newLogger())
	if err != nil {
		return err
	}
	defer p.registry.Close()

	if !jsonOutput {
		fmt.Printf("Loading %s face models...\n", p.registry.Backend())
	}
	if err := p.registry.Load(ctx); err != nil {
		return err
	}

	listener, finishBar := progressListener(jsonOutput)
	res, err := p.analyzer.Run(ctx, analysis.Request{
		Video:     &analysis.Input{Name: filepath.Base(videoPath), Path: videoPath},
		Reference: &analysis.Input{Name: filepath.Base(photoPath), Path: photoPath},
		Language:  lang,
		Listener:  listener,
	})
	finishBar()
	if err != nil {
		return fmt.Errorf("analysis failed (%s): %w", analysis.Classify(err), err)
	}

	if !noHistory {
		recordRun(cfg, res, lang.String())
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(os.Stdout, res)
	return nil
}

// recordRun stores the run when history is configured. Failures are reported
// but do not fail the command.
func recordRun(cfg *config.Config, res *analysis.Result, lang string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, runs, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	if pool == nil {
		return
	}
	defer pool.Close()

	if err := runs.Save(ctx, database.RunFromResult(res, lang)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record run %s: %v\n", res.RunID, err)
	}
}
