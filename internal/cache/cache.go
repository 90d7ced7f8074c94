// Package cache holds every candidate produced during a single (design,
// trial) run so later layers can select the best prior work. The cache is
// append-only: recording never rewrites or dedupes earlier candidates.
package cache

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"hdlbench/internal/hdl"
	"hdlbench/internal/logging"
)

// AuxiliaryArtifact is the intermediate-language implementation a chained
// path produced before translating to HDL.
type AuxiliaryArtifact struct {
	Language hdl.Language `json:"language"`
	Code     string       `json:"code"`
}

// Candidate is one generated module with its provenance and scores.
// OriginalQuality is the pre-repair score; it is set once when the
// candidate is created and never updated.
type Candidate struct {
	ID              string             `json:"id"`
	Code            string             `json:"code"`
	Model           string             `json:"model"`
	Path            string             `json:"path"` // direct, cpp, python, aggregation
	LayerIndex      int                `json:"layer_index"`
	QualityScore    float64            `json:"quality_score"`
	OriginalQuality float64            `json:"original_quality"`
	Auxiliary       *AuxiliaryArtifact `json:"auxiliary,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// NewCandidate builds a candidate with a fresh ID. OriginalQuality starts
// equal to QualityScore; repair updates only QualityScore.
func NewCandidate(code, model, path string, layer int, score float64) Candidate {
	return Candidate{
		ID:              uuid.NewString(),
		Code:            code,
		Model:           model,
		Path:            path,
		LayerIndex:      layer,
		QualityScore:    score,
		OriginalQuality: score,
		CreatedAt:       time.Now(),
	}
}

// LayerStats summarizes one layer of the cache.
type LayerStats struct {
	Count      int     `json:"count"`
	AvgQuality float64 `json:"avg_quality"`
	MaxQuality float64 `json:"max_quality"`
	MinQuality float64 `json:"min_quality"`
	Models     int     `json:"models"`
}

// Persister durably records candidates. Persistence failures are logged
// and never fail the recording path.
type Persister interface {
	PersistCandidates(design string, trial, layer int, candidates []Candidate) error
}

// TrialCache collects candidates for one (design, trial) pair, ordered by
// layer and, within a layer, by insertion.
type TrialCache struct {
	design    string
	trial     int
	layers    [][]Candidate
	persister Persister
}

// NewTrialCache creates an empty cache. persister may be nil.
func NewTrialCache(design string, trial int, persister Persister) *TrialCache {
	return &TrialCache{design: design, trial: trial, persister: persister}
}

// Design returns the design name this cache belongs to.
func (c *TrialCache) Design() string { return c.design }

// Trial returns the trial number this cache belongs to.
func (c *TrialCache) Trial() int { return c.trial }

// Record appends candidates to a layer, growing the layer list as needed.
// Recording an empty slice still registers the layer.
func (c *TrialCache) Record(layer int, candidates []Candidate) {
	if layer < 0 {
		return
	}
	for len(c.layers) <= layer {
		c.layers = append(c.layers, nil)
	}
	c.layers[layer] = append(c.layers[layer], candidates...)

	if c.persister != nil && len(candidates) > 0 {
		if err := c.persister.PersistCandidates(c.design, c.trial, layer, candidates); err != nil {
			logging.Get(logging.CategoryCache).Warnw("failed to persist candidates",
				"design", c.design, "trial", c.trial, "layer", layer, "error", err)
		}
	}
}

// HasData reports whether any candidate has been recorded.
func (c *TrialCache) HasData() bool {
	for _, layer := range c.layers {
		if len(layer) > 0 {
			return true
		}
	}
	return false
}

// Layers returns the number of registered layers.
func (c *TrialCache) Layers() int { return len(c.layers) }

// All returns every candidate in (layer, insertion) order.
func (c *TrialCache) All() []Candidate {
	var out []Candidate
	for _, layer := range c.layers {
		out = append(out, layer...)
	}
	return out
}

// TopK returns the k best candidates from layers [0, maxLayer] sorted by
// quality descending. Ties keep (layer, insertion) order. maxLayer < 0
// means all layers.
func (c *TrialCache) TopK(k, maxLayer int) []Candidate {
	if k <= 0 {
		return nil
	}

	var pool []Candidate
	for i, layer := range c.layers {
		if maxLayer >= 0 && i > maxLayer {
			break
		}
		pool = append(pool, layer...)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].QualityScore > pool[j].QualityScore
	})

	if len(pool) > k {
		pool = pool[:k]
	}
	return pool
}

// BestAuxiliary returns the auxiliary artifact of the given language whose
// owning candidate had the highest original quality in layers
// [0, maxLayer]. Ties keep the first recorded artifact. Returns nil when no
// artifact of that language exists.
func (c *TrialCache) BestAuxiliary(lang hdl.Language, maxLayer int) *AuxiliaryArtifact {
	var best *AuxiliaryArtifact
	bestQuality := -1.0

	for i, layer := range c.layers {
		if maxLayer >= 0 && i > maxLayer {
			break
		}
		for _, cand := range layer {
			if cand.Auxiliary == nil || cand.Auxiliary.Language != lang {
				continue
			}
			if cand.OriginalQuality > bestQuality {
				bestQuality = cand.OriginalQuality
				aux := *cand.Auxiliary
				best = &aux
			}
		}
	}
	return best
}

// Stats returns per-layer summaries keyed by layer index. Empty layers are
// omitted.
func (c *TrialCache) Stats() map[int]LayerStats {
	stats := make(map[int]LayerStats)
	for i, layer := range c.layers {
		if len(layer) == 0 {
			continue
		}
		models := make(map[string]struct{})
		sum, max, min := 0.0, layer[0].QualityScore, layer[0].QualityScore
		for _, cand := range layer {
			sum += cand.QualityScore
			if cand.QualityScore > max {
				max = cand.QualityScore
			}
			if cand.QualityScore < min {
				min = cand.QualityScore
			}
			models[cand.Model] = struct{}{}
		}
		stats[i] = LayerStats{
			Count:      len(layer),
			AvgQuality: sum / float64(len(layer)),
			MaxQuality: max,
			MinQuality: min,
			Models:     len(models),
		}
	}
	return stats
}
