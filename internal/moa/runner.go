package moa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hdlbench/internal/dataset"
	"hdlbench/internal/logging"
	"hdlbench/internal/store"
)

// Runner drives a full benchmark: every design, every trial. Trial and
// design failures are recorded, never fatal to the batch.
type Runner struct {
	gen       *Generator
	trials    int
	outputDir string
	results   *store.ResultStore
	snapshots *store.SnapshotWriter
}

// NewRunner builds a runner. results and snapshots may be nil.
func NewRunner(gen *Generator, trials int, outputDir string,
	results *store.ResultStore, snapshots *store.SnapshotWriter) *Runner {
	return &Runner{
		gen:       gen,
		trials:    trials,
		outputDir: outputDir,
		results:   results,
		snapshots: snapshots,
	}
}

// DesignOutcome summarizes one design's trials.
type DesignOutcome struct {
	Design     string  `json:"design"`
	Trials     int     `json:"trials"`
	Completed  int     `json:"completed"`
	BestScore  float64 `json:"best_score"`
	DurationMs int64   `json:"duration_ms"`
}

// BatchSummary is written alongside the generated code at the end of a run.
type BatchSummary struct {
	Dataset    string          `json:"dataset"`
	Model      string          `json:"model"`
	Pipeline   string          `json:"pipeline"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Designs    []DesignOutcome `json:"designs"`
}

// RunBatch runs every trial of every design and writes the generated code
// under outputDir/t<trial>/<design><ext>.
func (r *Runner) RunBatch(ctx context.Context, designs []dataset.Design) (BatchSummary, error) {
	log := logging.Get(logging.CategoryMoA)

	summary := BatchSummary{
		Model:     r.gen.client.Model(),
		Pipeline:  r.gen.Describe(),
		StartedAt: time.Now(),
	}
	if len(designs) > 0 {
		summary.Dataset = designs[0].Dataset
	}

	log.Infow("starting batch", "designs", len(designs), "trials", r.trials, "pipeline", summary.Pipeline)

	for _, design := range designs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Designs = append(summary.Designs, r.runDesign(ctx, design))
	}

	summary.FinishedAt = time.Now()
	if err := r.writeSummary(summary); err != nil {
		log.Warnw("failed to write batch summary", "error", err)
	}
	log.Infow("batch complete", "designs", len(summary.Designs),
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// runDesign runs all trials for one design.
func (r *Runner) runDesign(ctx context.Context, design dataset.Design) DesignOutcome {
	log := logging.Get(logging.CategoryMoA)
	started := time.Now()
	outcome := DesignOutcome{Design: design.Name, Trials: r.trials}

	if design.Description == "" {
		// Nothing to prompt with; the design is skipped entirely.
		log.Errorw("design has no description, skipping", "design", design.Name)
		return outcome
	}

	for trial := 1; trial <= r.trials; trial++ {
		trialStart := time.Now()
		result, trialCache, ok := r.gen.RunTrial(ctx, design, trial)
		duration := time.Since(trialStart)

		if r.snapshots != nil && trialCache.HasData() {
			r.snapshots.WriteTrial(trialCache)
		}

		if !ok {
			log.Warnw("trial produced no code", "design", design.Name, "trial", trial)
			continue
		}
		outcome.Completed++

		if result.Quality > outcome.BestScore {
			outcome.BestScore = result.Quality
		}

		if err := r.writeTrialCode(design, trial, result.Code); err != nil {
			log.Errorw("failed to write trial code", "design", design.Name, "trial", trial, "error", err)
		}

		if r.results != nil {
			_ = r.results.StoreTrialResult(store.TrialResult{
				Design:     design.Name,
				Dataset:    design.Dataset,
				Trial:      trial,
				Model:      r.gen.client.Model(),
				Code:       result.Code,
				Quality:    result.Quality,
				Passed:     result.Passed,
				Layers:     trialCache.Layers(),
				Candidates: len(trialCache.All()),
				DurationMs: duration.Milliseconds(),
			})
		}
	}

	outcome.DurationMs = time.Since(started).Milliseconds()
	log.Infow("design complete", "design", design.Name,
		"completed", outcome.Completed, "best", outcome.BestScore)
	return outcome
}

func (r *Runner) writeTrialCode(design dataset.Design, trial int, code string) error {
	dir := filepath.Join(r.outputDir, fmt.Sprintf("t%d", trial))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, design.Name+design.FileExt())
	return os.WriteFile(path, []byte(code), 0644)
}

func (r *Runner) writeSummary(summary BatchSummary) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.outputDir, "generation_summary.json"), data, 0644)
}
