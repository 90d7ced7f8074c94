// Package quality scores candidate HDL on a [0.0, 1.0] scale. The score is
// a cascade over verifier results:
//
//	1.0          syntax and simulation both pass
//	0.45 - 0.85  syntax passes, simulation fails (severity-weighted)
//	0.0  - 0.6   syntax fails (structural fallback heuristic)
//	0.0          empty code
package quality

import (
	"context"
	"strings"

	"hdlbench/internal/dataset"
	"hdlbench/internal/logging"
	"hdlbench/internal/verify"
)

// Evaluator scores candidates against a design.
type Evaluator struct {
	verifier verify.Verifier
	table    PenaltyTable
}

// NewEvaluator builds an evaluator with the default penalty table.
func NewEvaluator(verifier verify.Verifier) *Evaluator {
	return NewEvaluatorWithTable(verifier, DefaultPenaltyTable())
}

// NewEvaluatorWithTable builds an evaluator with a custom penalty table.
func NewEvaluatorWithTable(verifier verify.Verifier, table PenaltyTable) *Evaluator {
	return &Evaluator{verifier: verifier, table: table}
}

// Score evaluates code and returns only the quality score.
func (e *Evaluator) Score(ctx context.Context, code string, design dataset.Design) float64 {
	score, _ := e.Assess(ctx, code, design)
	return score
}

// Assess evaluates code and returns the score together with the verifier
// verdict the repair loop needs.
func (e *Evaluator) Assess(ctx context.Context, code string, design dataset.Design) (float64, verify.Verdict) {
	log := logging.Get(logging.CategoryQuality)

	if strings.TrimSpace(code) == "" {
		return 0.0, verify.Verdict{Class: verify.ErrorSyntax, Message: "empty code"}
	}

	verdict := e.verifier.Verify(ctx, code, design)

	var score float64
	switch {
	case verdict.Passed:
		score = 1.0
	case !verdict.SyntaxOK:
		score = e.fallbackScore(code, design.Dataset)
	default:
		score = e.severityWeightedScore(code)
	}

	log.Debugw("assessed candidate", "design", design.Name, "score", score, "class", verdict.Class)
	return score, verdict
}

// severityWeightedScore scores syntax-passing code that fails simulation.
// Penalties are grouped by severity and each group is capped so a pile of
// minor complaints cannot outweigh one real logic error.
func (e *Evaluator) severityWeightedScore(code string) float64 {
	t := e.table

	penalty := analyzeLogic(code, t)
	penalty += analyzeSynthesis(code, t)
	penalty += analyzeStyle(code, t)

	score := t.Base - penalty
	if score < t.Floor {
		score = t.Floor
	}
	return score
}

// fallbackScore gives structurally plausible but uncompilable code partial
// credit so the cache can still rank it.
func (e *Evaluator) fallbackScore(code, datasetType string) float64 {
	t := e.table
	score := 0.0

	if strings.Contains(code, "module") && strings.Contains(code, "endmodule") {
		score += t.FallbackModulePair
	}
	if portDeclRe.MatchString(code) {
		score += t.FallbackPorts
	}

	logicCount := 0
	for _, kw := range []string{"always", "assign", "if", "case", "for", "while"} {
		if strings.Contains(code, kw) {
			logicCount++
		}
	}
	kwScore := float64(logicCount) * t.FallbackPerKeyword
	if kwScore > t.FallbackKeywordCap {
		kwScore = t.FallbackKeywordCap
	}
	score += kwScore

	if datasetType == "verilogeval" {
		if topModuleRe.MatchString(code) {
			score += t.FallbackNaming
		}
	} else if namedModuleRe.MatchString(code) {
		score += t.FallbackNaming
	}

	lines := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines >= 5 && lines <= 200 {
		score += t.FallbackLength
	}

	if strings.Count(code, "(") == strings.Count(code, ")") &&
		strings.Count(code, "[") == strings.Count(code, "]") {
		score += t.FallbackBalanced
	}

	if score > t.FallbackCap {
		score = t.FallbackCap
	}
	return score
}
