package quality

import (
	"regexp"
	"strconv"
	"strings"
)

// PenaltyTable holds the scoring policy. The defaults are the tuned values
// the benchmark ships with; they can be overridden wholesale for experiments.
type PenaltyTable struct {
	Base  float64 // starting score for syntax-passing code
	Floor float64 // lowest severity-weighted score

	// Severity caps per analysis group
	LogicCap     float64
	SynthesisCap float64
	StyleCap     float64

	// Logic penalties
	ManySignalsPerBlock float64 // > 3 distinct nonblocking targets in one always block
	SomeSignalsPerBlock float64 // exactly 3
	MultiBlockDriver    float64 // same signal driven from multiple always blocks
	MissingReset        float64 // posedge block without a reset guard
	SelfAssignments     float64 // > 2 "sig <= sig;" lines in a block

	// Synthesis penalties
	MixedSensitivity float64 // edge-triggered list with > 1 plain signals
	DoubleDriver     float64 // signal driven by both assign and <=
	WidthMismatch    float64 // sized literal differing from declared width

	// Style penalties
	PoorIndentation float64
	UnsizedRegs     float64
	MixedResets     float64
	MixedInputDecls float64
	PoorSpacing     float64

	// Fallback heuristic
	FallbackCap        float64
	FallbackModulePair float64
	FallbackPorts      float64
	FallbackPerKeyword float64
	FallbackKeywordCap float64
	FallbackNaming     float64
	FallbackLength     float64
	FallbackBalanced   float64
}

// DefaultPenaltyTable returns the shipped scoring policy.
func DefaultPenaltyTable() PenaltyTable {
	return PenaltyTable{
		Base:  0.85,
		Floor: 0.45,

		LogicCap:     0.40,
		SynthesisCap: 0.20,
		StyleCap:     0.06,

		ManySignalsPerBlock: 0.20,
		SomeSignalsPerBlock: 0.10,
		MultiBlockDriver:    0.15,
		MissingReset:        0.10,
		SelfAssignments:     0.10,

		MixedSensitivity: 0.05,
		DoubleDriver:     0.10,
		WidthMismatch:    0.05,

		PoorIndentation: 0.02,
		UnsizedRegs:     0.01,
		MixedResets:     0.01,
		MixedInputDecls: 0.01,
		PoorSpacing:     0.01,

		FallbackCap:        0.60,
		FallbackModulePair: 0.20,
		FallbackPorts:      0.15,
		FallbackPerKeyword: 0.05,
		FallbackKeywordCap: 0.15,
		FallbackNaming:     0.10,
		FallbackLength:     0.05,
		FallbackBalanced:   0.05,
	}
}

var (
	alwaysBlockRe     = regexp.MustCompile(`(?is)always\s*@[^}]*?end`)
	sensitivityListRe = regexp.MustCompile(`(?i)always\s*@\s*\([^)]+\)`)
	nonblockingLHSRe  = regexp.MustCompile(`(\w+)\s*<=`)
	assignLHSRe       = regexp.MustCompile(`assign\s+(\w+)\s*=`)
	selfAssignRe      = regexp.MustCompile(`(\w+)\s*<=\s*(\w+)\s*;`)
	resetGuardRe      = regexp.MustCompile(`if\s*\(\s*\w*[Rr][Ss][Tt]\w*\s*\)`)
	resetPatternRe    = regexp.MustCompile(`if\s*\(\s*(!?\w*[Rr][Ss][Tt]\w*)\s*\)`)
	orSignalRe        = regexp.MustCompile(`or\s+(\w+)`)
	widthDeclRe       = regexp.MustCompile(`\[(\d+):(\d+)\]\s*(\w+)`)
	sizedLiteralRe    = regexp.MustCompile(`(\d+)'[bd]`)
	regDeclRe         = regexp.MustCompile(`reg\s+(?:\[[\d:]+\]\s+)?(\w+)`)
	sizedRegDeclRe    = regexp.MustCompile(`reg\s+\[[\d:]+\]`)
	portDeclRe        = regexp.MustCompile(`input|output`)
	topModuleRe       = regexp.MustCompile(`module\s+TopModule`)
	namedModuleRe     = regexp.MustCompile(`module\s+[a-zA-Z_][a-zA-Z0-9_]*`)
)

// analyzeLogic detects severe behavioral problems: overloaded always
// blocks, multiply driven registers, missing resets, placeholder logic.
func analyzeLogic(code string, t PenaltyTable) float64 {
	penalty := 0.0
	blocks := alwaysBlockRe.FindAllString(code, -1)

	for _, block := range blocks {
		unique := make(map[string]struct{})
		for _, m := range nonblockingLHSRe.FindAllStringSubmatch(block, -1) {
			unique[m[1]] = struct{}{}
		}
		if len(unique) > 3 {
			penalty += t.ManySignalsPerBlock
		} else if len(unique) > 2 {
			penalty += t.SomeSignalsPerBlock
		}
	}

	// Same register written from more than one always block.
	signals := make(map[string]struct{})
	for _, m := range nonblockingLHSRe.FindAllStringSubmatch(code, -1) {
		signals[m[1]] = struct{}{}
	}
	for signal := range signals {
		re := regexp.MustCompile(regexp.QuoteMeta(signal) + `\s*<=`)
		drivingBlocks := 0
		for _, block := range blocks {
			if re.MatchString(block) {
				drivingBlocks++
			}
		}
		if drivingBlocks > 1 {
			penalty += t.MultiBlockDriver
		}
	}

	for _, block := range blocks {
		if !strings.Contains(block, "@") || !strings.Contains(strings.ToLower(block), "posedge") {
			continue
		}
		if !resetGuardRe.MatchString(block) {
			penalty += t.MissingReset
		}

		// "sig <= sig;" lines usually mean the real transition is missing.
		selfAssigns := 0
		for _, line := range strings.Split(block, "\n") {
			if m := selfAssignRe.FindStringSubmatch(line); m != nil && m[1] == m[2] {
				selfAssigns++
			}
		}
		if selfAssigns > 2 {
			penalty += t.SelfAssignments
		}
	}

	if penalty > t.LogicCap {
		penalty = t.LogicCap
	}
	return penalty
}

// analyzeSynthesis detects constructs that simulate but will not map to
// sane hardware.
func analyzeSynthesis(code string, t PenaltyTable) float64 {
	penalty := 0.0

	for _, list := range sensitivityListRe.FindAllString(code, -1) {
		lower := strings.ToLower(list)
		if (!strings.Contains(lower, "posedge") && !strings.Contains(lower, "negedge")) ||
			!strings.Contains(lower, "or") {
			continue
		}
		plain := 0
		for _, m := range orSignalRe.FindAllStringSubmatch(lower, -1) {
			if m[1] != "posedge" && m[1] != "negedge" {
				plain++
			}
		}
		if plain > 1 {
			penalty += t.MixedSensitivity
		}
	}

	// Signal driven by both a continuous assign and a nonblocking write.
	alwaysTargets := make(map[string]struct{})
	for _, m := range nonblockingLHSRe.FindAllStringSubmatch(code, -1) {
		alwaysTargets[m[1]] = struct{}{}
	}
	for _, m := range assignLHSRe.FindAllStringSubmatch(code, -1) {
		if _, ok := alwaysTargets[m[1]]; ok {
			penalty += t.DoubleDriver
		}
	}

	// Sized literals that disagree with the declared vector width.
	for _, decl := range widthDeclRe.FindAllStringSubmatch(code, -1) {
		high, _ := strconv.Atoi(decl[1])
		low, _ := strconv.Atoi(decl[2])
		expected := high - low + 1
		signal := decl[3]

		assignRe := regexp.MustCompile(regexp.QuoteMeta(signal) + `\s*<=\s*([^;]+)`)
		for _, assignment := range assignRe.FindAllStringSubmatch(code, -1) {
			rhs := assignment[1]
			if !strings.Contains(rhs, "'b") && !strings.Contains(rhs, "'d") {
				continue
			}
			if m := sizedLiteralRe.FindStringSubmatch(rhs); m != nil {
				width, _ := strconv.Atoi(m[1])
				if width != expected {
					penalty += t.WidthMismatch
				}
			}
		}
	}

	if penalty > t.SynthesisCap {
		penalty = t.SynthesisCap
	}
	return penalty
}

// analyzeStyle detects formatting and declaration inconsistencies.
func analyzeStyle(code string, t PenaltyTable) float64 {
	penalty := 0.0

	var lines []string
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		indented := 0
		for _, line := range lines {
			if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
				indented++
			}
		}
		if float64(indented) < float64(len(lines))*0.3 {
			penalty += t.PoorIndentation
		}
	}

	regDecls := regDeclRe.FindAllString(code, -1)
	sizedDecls := sizedRegDeclRe.FindAllString(code, -1)
	if len(regDecls) > len(sizedDecls) && len(regDecls) > 2 {
		penalty += t.UnsizedRegs
	}

	resets := make(map[string]struct{})
	for _, m := range resetPatternRe.FindAllStringSubmatch(code, -1) {
		resets[m[1]] = struct{}{}
	}
	if len(resets) > 1 {
		penalty += t.MixedResets
	}

	if strings.Contains(code, "input wire") &&
		strings.Count(code, "input wire") < strings.Count(code, "input") {
		penalty += t.MixedInputDecls
	}

	if strings.Contains(code, "(") &&
		float64(strings.Count(code, " (")) < float64(strings.Count(code, "("))*0.5 {
		penalty += t.PoorSpacing
	}

	if penalty > t.StyleCap {
		penalty = t.StyleCap
	}
	return penalty
}
