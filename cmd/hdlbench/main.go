package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hdlbench/internal/config"
	"hdlbench/internal/dataset"
	"hdlbench/internal/llm"
	"hdlbench/internal/logging"
	"hdlbench/internal/metrics"
	"hdlbench/internal/moa"
	"hdlbench/internal/quality"
	"hdlbench/internal/store"
	"hdlbench/internal/verify"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hdlbench",
	Short: "hdlbench - layered HDL generation benchmark",
	Long: `hdlbench benchmarks LLM Verilog generation with a layered
multi-path pipeline: several generation paths per layer, quality scoring
through Icarus Verilog, forward-feeding of the best candidates, and a
feedback-directed repair loop.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Init(cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// generateCmd runs the full benchmark.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run generation trials over the configured dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		designs, err := dataset.Load(cfg.Dataset.Type, cfg.Dataset.Path)
		if err != nil {
			return fmt.Errorf("failed to load dataset: %w", err)
		}
		if len(designs) == 0 {
			return fmt.Errorf("no designs found under %s", cfg.Dataset.Path)
		}

		client, err := llm.New(cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to create LLM client: %w", err)
		}

		results, err := store.NewResultStore(cfg.Store.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		defer results.Close()

		var snapshots *store.SnapshotWriter
		if cfg.Store.SnapshotDir != "" {
			snapshots = store.NewSnapshotWriter(cfg.Store.SnapshotDir)
		}

		verifier, err := verify.NewIVerilog(cfg.Verify)
		if err != nil {
			return fmt.Errorf("failed to configure verifier: %w", err)
		}
		evaluator := quality.NewEvaluator(verifier)

		gen := moa.NewGenerator(cfg.Pipeline, cfg.Dataset.Type, client, evaluator, results)
		runner := moa.NewRunner(gen, cfg.Pipeline.Trials, cfg.Dataset.OutputDir, results, snapshots)

		summary, err := runner.RunBatch(ctx, designs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "completed %d designs, output in %s\n",
			len(summary.Designs), cfg.Dataset.OutputDir)
		return nil
	},
}

// statsCmd reports pass@k and model statistics from stored results.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report pass@k and per-model statistics from stored results",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := store.NewResultStore(cfg.Store.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		defer results.Close()

		trials, err := results.AllTrialResults()
		if err != nil {
			return fmt.Errorf("failed to read trial results: %w", err)
		}
		if len(trials) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no trial results stored yet")
			return nil
		}

		models, err := results.ModelBreakdown()
		if err != nil {
			return fmt.Errorf("failed to read model stats: %w", err)
		}
		layers, err := results.LayerBreakdown()
		if err != nil {
			return fmt.Errorf("failed to read layer stats: %w", err)
		}

		report := metrics.BuildReport(trials, models)
		report.Layers = layers
		fmt.Fprint(cmd.OutOrStdout(), report.Format())
		return nil
	},
}

// initCmd writes a default configuration file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		defaults := config.DefaultConfig()
		if err := defaults.Save(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "hdlbench.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
