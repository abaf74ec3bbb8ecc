package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/faces/dlib"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Face model backend commands",
}

var modelsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the configured face models load",
	Long: `Load the configured face model backend once and report the result.
For the dlib backend the model files in MODELS_DIR are checked first.`,
	Args: cobra.NoArgs,
	RunE: runModelsCheck,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsCheckCmd)
}

func runModelsCheck(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Models.Backend {
	case config.BackendDlib:
		fmt.Printf("Backend: dlib (models in %s, CNN detector: %v)\n", cfg.Models.Dir, cfg.Models.CNN)
		if err := dlib.CheckModelFiles(cfg.Models.Dir); err != nil {
			return err
		}
		fmt.Println("Model files present")
	case config.BackendRemote:
		fmt.Printf("Backend: remote (%s)\n", cfg.Models.EmbeddingURL)
	}

	p, err := newPipeline(cfg, newLogger())
	if err != nil {
		return err
	}
	defer p.registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	if err := p.registry.Load(ctx); err != nil {
		return err
	}
	fmt.Printf("Models loaded in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
