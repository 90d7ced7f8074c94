// Package moa implements the layered multi-path generation pipeline.
// Each layer runs the configured generation paths (direct, cpp chain,
// python chain), scores every candidate, and feeds the best prior work
// forward. A final aggregation pass synthesizes the top candidates into
// the trial's answer.
package moa

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"hdlbench/internal/cache"
	"hdlbench/internal/config"
	"hdlbench/internal/dataset"
	"hdlbench/internal/hdl"
	"hdlbench/internal/llm"
	"hdlbench/internal/logging"
	"hdlbench/internal/prompt"
	"hdlbench/internal/quality"
	"hdlbench/internal/repair"
)

// Generator runs trials for one dataset.
type Generator struct {
	cfg       config.PipelineConfig
	client    llm.Client
	evaluator *quality.Evaluator
	prompts   *prompt.Builder
	persister cache.Persister
}

// NewGenerator builds a generator. evaluator may be nil only when quality
// caching is disabled; persister may always be nil.
func NewGenerator(cfg config.PipelineConfig, datasetType string, client llm.Client,
	evaluator *quality.Evaluator, persister cache.Persister) *Generator {

	// Repair needs scores to steer by; without caching there are none.
	if cfg.SelfRepair && !cfg.QualityCaching {
		logging.Get(logging.CategoryMoA).Warn("self repair requires quality caching; disabling self repair")
		cfg.SelfRepair = false
	}

	return &Generator{
		cfg:       cfg,
		client:    client,
		evaluator: evaluator,
		prompts:   prompt.NewBuilder(datasetType, cfg.MaxRepairIterations),
		persister: persister,
	}
}

// pathResult is one path's contribution to a layer.
type pathResult struct {
	candidate cache.Candidate
	ok        bool
}

// Outcome is a trial's final answer with its verified score. Quality stays
// zero when quality caching is off and nothing ever scored the code.
type Outcome struct {
	Code    string
	Quality float64
	Passed  bool
}

// RunTrial runs one complete trial: all layers plus final aggregation.
// Returns the final outcome, the trial cache, and false when every stage
// failed to produce a valid module.
func (g *Generator) RunTrial(ctx context.Context, design dataset.Design, trial int) (Outcome, *cache.TrialCache, bool) {
	log := logging.Get(logging.CategoryMoA)
	log.Infow("starting trial", "design", design.Name, "trial", trial, "layers", g.cfg.Layers)

	trialCache := cache.NewTrialCache(design.Name, trial, g.persister)
	var lastLayer []cache.Candidate

	for layer := 0; layer < g.cfg.Layers; layer++ {
		previous := g.forwardFeed(trialCache, lastLayer, layer)

		outputs := g.runLayer(ctx, design, layer, trialCache, previous)
		lastLayer = outputs
		log.Debugw("layer complete", "design", design.Name, "trial", trial,
			"layer", layer, "candidates", len(outputs))

		if g.cfg.QualityCaching {
			trialCache.Record(layer, outputs)

			// Early stop is only checked at layer boundaries, after
			// every path of the layer has finished.
			if g.cfg.EarlyStop {
				for _, cand := range outputs {
					if cand.QualityScore == 1.0 {
						log.Infow("perfect candidate found, stopping early",
							"design", design.Name, "trial", trial, "layer", layer, "path", cand.Path)
						return Outcome{Code: cand.Code, Quality: cand.QualityScore, Passed: true}, trialCache, true
					}
				}
			}
		}
	}

	outcome, ok := g.aggregate(ctx, design, trialCache, lastLayer)
	return outcome, trialCache, ok
}

// forwardFeed selects the candidates shown to the next layer.
func (g *Generator) forwardFeed(trialCache *cache.TrialCache, lastLayer []cache.Candidate, layer int) []cache.Candidate {
	if layer == 0 {
		return nil
	}
	if g.cfg.QualityCaching {
		return trialCache.TopK(g.cfg.NSelect, layer-1)
	}

	// Without caching only the immediately previous layer is available.
	sorted := append([]cache.Candidate{}, lastLayer...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QualityScore > sorted[j].QualityScore
	})
	if len(sorted) > g.cfg.NSelect {
		sorted = sorted[:g.cfg.NSelect]
	}
	return sorted
}

// runLayer executes every configured path. Paths run concurrently but
// results are collected in configured order so cache insertion order stays
// deterministic.
func (g *Generator) runLayer(ctx context.Context, design dataset.Design, layer int,
	trialCache *cache.TrialCache, previous []cache.Candidate) []cache.Candidate {

	// Auxiliary references are read before the fan-out; the cache is not
	// written until the whole layer is collected.
	var refCPP, refPython *cache.AuxiliaryArtifact
	if g.cfg.QualityCaching && layer > 0 && len(previous) > 0 {
		refCPP = trialCache.BestAuxiliary(hdl.LanguageCPP, layer-1)
		refPython = trialCache.BestAuxiliary(hdl.LanguagePython, layer-1)
	}

	results := make([]pathResult, len(g.cfg.Paths))
	grp, grpCtx := errgroup.WithContext(ctx)

	for i, pathType := range g.cfg.Paths {
		grp.Go(func() error {
			results[i] = g.generatePath(grpCtx, pathType, design, layer, previous, refCPP, refPython)
			return nil
		})
	}
	_ = grp.Wait()

	var outputs []cache.Candidate
	for _, res := range results {
		if res.ok {
			outputs = append(outputs, res.candidate)
		}
	}
	return outputs
}

// generatePath produces one candidate via a single path. A failure at any
// stage yields ok=false; path failures are never fatal to the layer.
func (g *Generator) generatePath(ctx context.Context, pathType string, design dataset.Design,
	layer int, previous []cache.Candidate, refCPP, refPython *cache.AuxiliaryArtifact) pathResult {

	log := logging.Get(logging.CategoryMoA)

	var code string
	var aux *cache.AuxiliaryArtifact
	pathName := pathType

	switch pathType {
	case "direct":
		code = g.generateDirect(ctx, design, previous)
	case "cpp":
		pathName = "cpp_chain"
		code, aux = g.generateChained(ctx, hdl.LanguageCPP, design, previous, refCPP)
	case "python":
		pathName = "python_chain"
		code, aux = g.generateChained(ctx, hdl.LanguagePython, design, previous, refPython)
	default:
		log.Errorw("unknown path type", "path", pathType)
		return pathResult{}
	}

	if code == "" || !hdl.ValidateModule(code, design.Dataset) {
		log.Debugw("path produced no valid module", "design", design.Name, "path", pathName, "layer", layer)
		return pathResult{}
	}

	cand := cache.NewCandidate(code, g.client.Model(), pathName, layer, 0)
	cand.Auxiliary = aux

	if g.cfg.SelfRepair {
		loop := repair.NewLoop(g.client, g.evaluator, g.prompts, g.cfg.MaxRepairIterations)
		res := loop.Run(ctx, code, design, aux)
		cand.Code = res.Code
		cand.QualityScore = res.Quality
		cand.OriginalQuality = res.OriginalQuality
		if res.Iterations > 0 {
			log.Debugw("path repaired", "design", design.Name, "path", pathName,
				"iterations", res.Iterations, "original", res.OriginalQuality, "final", res.Quality)
		}
	} else if g.cfg.QualityCaching {
		score := g.evaluator.Score(ctx, code, design)
		cand.QualityScore = score
		cand.OriginalQuality = score
	}

	return pathResult{candidate: cand, ok: true}
}

// generateDirect asks for HDL straight from the specification, or from an
// aggregation of prior candidates after the first layer.
func (g *Generator) generateDirect(ctx context.Context, design dataset.Design, previous []cache.Candidate) string {
	var p string
	if len(previous) > 0 {
		p = g.prompts.Aggregation(previous, design.Description, nil, 0)
	} else {
		p = g.prompts.Initial(design.Description)
	}

	response, err := g.client.CompleteWithSystem(ctx, g.prompts.SystemDirect(), p)
	if err != nil {
		logging.Get(logging.CategoryMoA).Warnw("direct generation failed", "design", design.Name, "error", err)
		return ""
	}
	return hdl.ExtractModule(response)
}

// generateChained runs spec -> auxiliary language -> HDL. A cached
// auxiliary reference from earlier layers skips the first hop.
func (g *Generator) generateChained(ctx context.Context, lang hdl.Language, design dataset.Design,
	previous []cache.Candidate, ref *cache.AuxiliaryArtifact) (string, *cache.AuxiliaryArtifact) {

	log := logging.Get(logging.CategoryMoA)

	var auxCode string
	if ref != nil {
		auxCode = ref.Code
	} else {
		response, err := g.client.CompleteWithSystem(ctx, g.prompts.SystemIntermediate(),
			g.prompts.Auxiliary(lang, design.Description, previous))
		if err != nil {
			log.Warnw("auxiliary generation failed", "design", design.Name, "language", lang, "error", err)
			return "", nil
		}
		auxCode = hdl.ExtractAuxiliary(response, lang)
		if auxCode == "" {
			return "", nil
		}
	}

	response, err := g.client.CompleteWithSystem(ctx, g.prompts.SystemTranslate(),
		g.prompts.Translate(lang, auxCode, design.Description))
	if err != nil {
		log.Warnw("translation failed", "design", design.Name, "language", lang, "error", err)
		return "", &cache.AuxiliaryArtifact{Language: lang, Code: auxCode}
	}

	return hdl.ExtractModule(response), &cache.AuxiliaryArtifact{Language: lang, Code: auxCode}
}

// aggregate synthesizes the trial's final answer from the best candidates.
// Two attempts are made; the second adds a stricter output reminder. The
// fallback is the best cached candidate verbatim. The aggregate is a new
// piece of code, so it is scored here before it is reported.
func (g *Generator) aggregate(ctx context.Context, design dataset.Design,
	trialCache *cache.TrialCache, lastLayer []cache.Candidate) (Outcome, bool) {

	log := logging.Get(logging.CategoryMoA)

	var finalInput []cache.Candidate
	if g.cfg.QualityCaching {
		finalInput = trialCache.TopK(g.cfg.NSelect, -1)
	} else {
		finalInput = append([]cache.Candidate{}, lastLayer...)
		sort.SliceStable(finalInput, func(i, j int) bool {
			return finalInput[i].QualityScore > finalInput[j].QualityScore
		})
		if len(finalInput) > g.cfg.NSelect {
			finalInput = finalInput[:g.cfg.NSelect]
		}
	}

	if len(finalInput) == 0 {
		log.Warnw("no candidates to aggregate", "design", design.Name)
		return Outcome{}, false
	}

	// Final aggregation never shows auxiliary code.
	aggPrompt := g.prompts.Aggregation(finalInput, design.Description, nil, 0)

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			aggPrompt += g.prompts.AggregationRetryNote()
		}

		response, err := g.client.CompleteWithSystem(ctx, g.prompts.SystemDirect(), aggPrompt)
		if err != nil {
			log.Warnw("aggregation failed", "design", design.Name, "attempt", attempt, "error", err)
			continue
		}

		finalCode := hdl.ExtractModule(response)
		if finalCode == "" || !hdl.ValidateModule(finalCode, design.Dataset) {
			continue
		}

		if g.cfg.SelfRepair {
			loop := repair.NewLoop(g.client, g.evaluator, g.prompts, g.cfg.MaxRepairIterations)
			res := loop.Run(ctx, finalCode, design, nil)
			if res.Iterations > 0 {
				log.Debugw("aggregate repaired", "design", design.Name, "iterations", res.Iterations)
			}
			return Outcome{Code: res.Code, Quality: res.Quality, Passed: res.Passed}, true
		}
		if g.cfg.QualityCaching {
			score, verdict := g.evaluator.Assess(ctx, finalCode, design)
			return Outcome{Code: finalCode, Quality: score, Passed: verdict.Passed}, true
		}
		return Outcome{Code: finalCode}, true
	}

	// Aggregation would not cooperate; the best prior candidate stands.
	best := finalInput[0]
	log.Infow("aggregation fell back to best candidate", "design", design.Name,
		"quality", best.QualityScore)
	return Outcome{Code: best.Code, Quality: best.QualityScore, Passed: best.QualityScore == 1.0}, true
}

// Describe returns a short human-readable pipeline summary for logs.
func (g *Generator) Describe() string {
	return fmt.Sprintf("layers=%d paths=%v n_select=%d caching=%t early_stop=%t repair=%t",
		g.cfg.Layers, g.cfg.Paths, g.cfg.NSelect, g.cfg.QualityCaching, g.cfg.EarlyStop, g.cfg.SelfRepair)
}
