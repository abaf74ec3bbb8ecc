package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Finder HTTP API.
Videos and reference photos are uploaded as multipart forms and analysed
synchronously (/api/v1/analyze) or as background jobs with progress events
(/api/v1/jobs). Run history is kept when DATABASE_URL is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// applyServeFlags lets explicit flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

// loadModels loads the face models in the background. Requests that arrive
// earlier fail with models_not_ready.
func loadModels(ctx context.Context, p *pipeline) {
	start := time.Now()
	if err := p.registry.Load(ctx); err != nil {
		log.Printf("Failed to load %s face models: %v", p.registry.Backend(), err)
		return
	}
	log.Printf("Loaded %s face models in %s", p.registry.Backend(), time.Since(start).Round(time.Millisecond))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := newPipeline(cfg, newLogger())
	if err != nil {
		return err
	}
	defer p.registry.Close()

	deps := web.Deps{Runner: p.analyzer, Models: p.registry, Detector: p.embedder}

	pool, runs, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		deps.Runs = runs
		fmt.Printf("Run history enabled (PostgreSQL)\n")
	} else {
		fmt.Printf("Run history disabled (DATABASE_URL not set)\n")
	}

	go loadModels(ctx, p)

	server := web.NewServer(cfg, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Finder API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	// Start returns after shutdown has drained running analyses, so the
	// deferred registry Close never races a request.
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
