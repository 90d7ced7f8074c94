package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hdlbench/internal/cache"
	"hdlbench/internal/hdl"
	"hdlbench/internal/logging"
)

// SnapshotWriter mirrors each trial cache to a JSON document so runs can be
// inspected without SQL. Writes are best-effort.
type SnapshotWriter struct {
	dir string
}

// NewSnapshotWriter creates a writer rooted at dir.
func NewSnapshotWriter(dir string) *SnapshotWriter {
	return &SnapshotWriter{dir: dir}
}

type snapshotLayer struct {
	Layer      int               `json:"layer"`
	Candidates []cache.Candidate `json:"candidates"`
}

// snapshotAuxiliary is the best auxiliary implementation of one language,
// keyed back to the candidate it was generated for.
type snapshotAuxiliary struct {
	Language        hdl.Language `json:"language"`
	CandidateID     string       `json:"candidate_id"`
	OriginalQuality float64      `json:"original_quality"`
	Code            string       `json:"code"`
}

type snapshotDoc struct {
	Design      string                   `json:"design"`
	Trial       int                      `json:"trial"`
	WrittenAt   time.Time                `json:"written_at"`
	Layers      []snapshotLayer          `json:"layers"`
	Stats       map[int]cache.LayerStats `json:"stats"`
	Auxiliaries []snapshotAuxiliary      `json:"auxiliaries,omitempty"`
}

// WriteTrial serializes the cache for one trial: candidates grouped per
// layer, plus the best auxiliary per language with its owning candidate's
// pre-repair score. A failed write is logged, never returned: losing a
// snapshot must not fail a trial.
func (w *SnapshotWriter) WriteTrial(c *cache.TrialCache) {
	log := logging.Get(logging.CategoryStore)

	layers := make([]snapshotLayer, c.Layers())
	for i := range layers {
		layers[i].Layer = i
	}

	total := 0
	bestAux := make(map[hdl.Language]snapshotAuxiliary)
	for _, cand := range c.All() {
		if cand.LayerIndex >= 0 && cand.LayerIndex < len(layers) {
			layers[cand.LayerIndex].Candidates = append(layers[cand.LayerIndex].Candidates, cand)
			total++
		}
		if cand.Auxiliary == nil {
			continue
		}
		cur, ok := bestAux[cand.Auxiliary.Language]
		if !ok || cand.OriginalQuality > cur.OriginalQuality {
			bestAux[cand.Auxiliary.Language] = snapshotAuxiliary{
				Language:        cand.Auxiliary.Language,
				CandidateID:     cand.ID,
				OriginalQuality: cand.OriginalQuality,
				Code:            cand.Auxiliary.Code,
			}
		}
	}

	var auxiliaries []snapshotAuxiliary
	for _, lang := range []hdl.Language{hdl.LanguageCPP, hdl.LanguagePython} {
		if aux, ok := bestAux[lang]; ok {
			auxiliaries = append(auxiliaries, aux)
		}
	}

	doc := snapshotDoc{
		Design:      c.Design(),
		Trial:       c.Trial(),
		WrittenAt:   time.Now(),
		Layers:      layers,
		Stats:       c.Stats(),
		Auxiliaries: auxiliaries,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Warnw("failed to marshal snapshot", "design", c.Design(), "trial", c.Trial(), "error", err)
		return
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		log.Warnw("failed to create snapshot directory", "dir", w.dir, "error", err)
		return
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_trial%d.json", c.Design(), c.Trial()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warnw("failed to write snapshot", "path", path, "error", err)
		return
	}
	log.Debugw("wrote trial snapshot", "path", path, "candidates", total)
}
