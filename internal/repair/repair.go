// Package repair implements the bounded feedback-directed repair loop.
// A failing candidate is re-prompted with its verifier diagnostics until it
// passes, the iteration budget runs out, or the model stops producing
// usable code. The loop tracks the best code seen so a late regression
// never loses an earlier improvement.
package repair

import (
	"context"
	"sync"
	"time"

	"hdlbench/internal/cache"
	"hdlbench/internal/dataset"
	"hdlbench/internal/hdl"
	"hdlbench/internal/llm"
	"hdlbench/internal/logging"
	"hdlbench/internal/prompt"
	"hdlbench/internal/quality"
)

// State represents the current state of the repair loop.
type State string

const (
	StateIdle      State = "idle"
	StateScoring   State = "scoring"
	StateRepairing State = "repairing"
	StateAccepted  State = "accepted"
	StateExhausted State = "exhausted"
)

// Transition records a state change for debugging.
type Transition struct {
	From      State
	To        State
	Iteration int
	Quality   float64
	At        time.Time
}

// Result is the outcome of a repair run. OriginalQuality is always the
// entry score, even when repair improved the code.
type Result struct {
	Code            string
	Quality         float64
	Iterations      int
	OriginalQuality float64
	Passed          bool
}

// Loop drives repair for one design at a time.
type Loop struct {
	client        llm.Client
	evaluator     *quality.Evaluator
	prompts       *prompt.Builder
	maxIterations int

	mu      sync.Mutex
	state   State
	history []Transition
}

// NewLoop builds a repair loop. maxIterations <= 0 disables repair: Run
// then only scores the input.
func NewLoop(client llm.Client, evaluator *quality.Evaluator, prompts *prompt.Builder, maxIterations int) *Loop {
	return &Loop{
		client:        client,
		evaluator:     evaluator,
		prompts:       prompts,
		maxIterations: maxIterations,
		state:         StateIdle,
	}
}

// GetState returns the current state.
func (l *Loop) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// GetHistory returns a copy of the transition history.
func (l *Loop) GetHistory() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition{}, l.history...)
}

func (l *Loop) transition(to State, iteration int, score float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, Transition{
		From:      l.state,
		To:        to,
		Iteration: iteration,
		Quality:   score,
		At:        time.Now(),
	})
	l.state = to
}

// Run repairs code for a design. aux, when present, is the auxiliary
// reference shown to the model as known-correct.
func (l *Loop) Run(ctx context.Context, code string, design dataset.Design, aux *cache.AuxiliaryArtifact) Result {
	log := logging.Get(logging.CategoryRepair)

	l.transition(StateScoring, 0, 0)
	score, verdict := l.evaluator.Assess(ctx, code, design)
	original := score

	if verdict.Passed {
		l.transition(StateAccepted, 0, score)
		return Result{Code: code, Quality: score, Iterations: 0, OriginalQuality: original, Passed: true}
	}
	if l.maxIterations <= 0 {
		l.transition(StateExhausted, 0, score)
		return Result{Code: code, Quality: score, Iterations: 0, OriginalQuality: original}
	}

	bestCode := code
	bestScore := score
	currentCode := code
	iterations := 0

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		l.transition(StateRepairing, iteration, bestScore)

		repairPrompt := l.prompts.Repair(prompt.RepairInput{
			Code:        currentCode,
			Class:       verdict.Class,
			Message:     verdict.Message,
			Description: design.Description,
			Iteration:   iteration,
			Auxiliary:   aux,
		})

		response, err := l.client.CompleteWithSystem(ctx, l.prompts.SystemRepair(), repairPrompt)
		if err != nil {
			log.Warnw("repair generation failed", "design", design.Name, "iteration", iteration, "error", err)
			break
		}

		repaired := hdl.ExtractModule(response)
		if repaired == "" || !hdl.ValidateModule(repaired, design.Dataset) {
			log.Debugw("repair produced invalid module", "design", design.Name, "iteration", iteration)
			break
		}

		iterations = iteration
		l.transition(StateScoring, iteration, bestScore)
		repairedScore, repairedVerdict := l.evaluator.Assess(ctx, repaired, design)

		if repairedScore > bestScore {
			bestCode = repaired
			bestScore = repairedScore
		}

		if repairedVerdict.Passed {
			l.transition(StateAccepted, iteration, repairedScore)
			log.Infow("repair converged", "design", design.Name, "iterations", iteration,
				"original", original, "final", repairedScore)
			return Result{Code: repaired, Quality: repairedScore, Iterations: iteration,
				OriginalQuality: original, Passed: true}
		}

		currentCode = repaired
		verdict = repairedVerdict
	}

	l.transition(StateExhausted, iterations, bestScore)
	log.Debugw("repair exhausted", "design", design.Name, "iterations", iterations,
		"original", original, "best", bestScore)
	return Result{Code: bestCode, Quality: bestScore, Iterations: iterations, OriginalQuality: original}
}
