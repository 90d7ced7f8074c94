// Package prompt builds every prompt the pipeline sends to a generation
// service. Templates are dataset-aware: verilogeval targets SystemVerilog
// with a fixed TopModule name, rtllm targets plain Verilog with the module
// name taken from the specification.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"hdlbench/internal/cache"
	"hdlbench/internal/hdl"
	"hdlbench/internal/verify"
)

const (
	// Truncation limits for code shown inside prompts.
	maxCandidateLen = 1500
	maxAuxiliaryLen = 1000
	maxExampleLen   = 800
)

var moduleNameRe = regexp.MustCompile(`Module name:\s*(\w+)`)

// Builder assembles prompts for one dataset.
type Builder struct {
	dataset       string
	language      string
	maxIterations int
}

// NewBuilder creates a builder. maxIterations appears in repair prompts as
// the "attempt i/n" counter.
func NewBuilder(dataset string, maxIterations int) *Builder {
	language := "Verilog"
	if dataset == "verilogeval" {
		language = "SystemVerilog"
	}
	return &Builder{dataset: dataset, language: language, maxIterations: maxIterations}
}

// Language returns the HDL dialect name used in prompts.
func (b *Builder) Language() string { return b.language }

// ===== SYSTEM PROMPTS =====

// SystemDirect is the system prompt for direct HDL generation and
// aggregation.
func (b *Builder) SystemDirect() string {
	if b.dataset == "verilogeval" {
		return "You are a professional SystemVerilog RTL designer. " +
			"Generate syntactically correct, synthesizable SystemVerilog code. " +
			"The module MUST be named 'TopModule' exactly. " +
			"Output ONLY the SystemVerilog code starting with 'module TopModule' and ending with 'endmodule'. " +
			"Do NOT include markdown formatting or explanations."
	}
	return "You are a professional Verilog RTL designer. " +
		"Generate syntactically correct, synthesizable Verilog code. " +
		"Output ONLY the Verilog code starting with 'module' and ending with 'endmodule'. " +
		"Do NOT include markdown formatting or explanations."
}

// SystemIntermediate is the system prompt for auxiliary-language generation.
func (b *Builder) SystemIntermediate() string {
	return "You are an expert programmer. " +
		"Write clear, concise code demonstrating the algorithm. " +
		"Focus on showing the logical flow and operations."
}

// SystemTranslate is the system prompt for auxiliary-to-HDL translation.
func (b *Builder) SystemTranslate() string {
	if b.dataset == "verilogeval" {
		return "You are an expert SystemVerilog RTL designer. " +
			"Translate the reference implementation to synthesizable SystemVerilog. " +
			"The module MUST be named 'TopModule' exactly. " +
			"Output ONLY the SystemVerilog code. No markdown or explanations."
	}
	return "You are an expert Verilog RTL designer. " +
		"Translate the reference implementation to synthesizable Verilog. " +
		"Output ONLY the Verilog code. No markdown or explanations."
}

// SystemRepair is the system prompt for the repair loop.
func (b *Builder) SystemRepair() string {
	return fmt.Sprintf("You are an expert %s debugger. "+
		"Your task is to analyze compilation/simulation errors and fix them precisely. "+
		"Focus on the specific error messages and fix ONLY what's broken. "+
		"Output clean, corrected code without explanations.", b.language)
}

// ===== GENERATION PROMPTS =====

// Initial builds the first-layer direct generation prompt.
func (b *Builder) Initial(description string) string {
	if b.dataset == "verilogeval" {
		return fmt.Sprintf(`Generate SystemVerilog code for this specification.

CRITICAL REQUIREMENTS:
1. Module name MUST be exactly 'TopModule'
2. Output ONLY the module code
3. No markdown formatting
4. No explanations

Specification:
%s

Output the SystemVerilog module:`, description)
	}

	return fmt.Sprintf(`Generate Verilog code for this specification.

CRITICAL REQUIREMENTS:
1. Module name should be: %s
2. Output ONLY the module code
3. No markdown formatting
4. No explanations

Specification:
%s

Output the Verilog module:`, b.moduleName(description), description)
}

// Auxiliary builds the prompt that asks for an auxiliary-language
// implementation. Up to two previous HDL candidates are shown as context.
func (b *Builder) Auxiliary(lang hdl.Language, description string, previous []cache.Candidate) string {
	langName := "C++"
	if lang == hdl.LanguagePython {
		langName = "Python"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write %s code demonstrating the functional logic.\n\nSpecification:\n%s\n", langName, description)

	if len(previous) > 0 {
		sb.WriteString("\nPrevious HDL implementations:\n")
		for i, cand := range previous {
			if i >= 2 {
				break
			}
			fmt.Fprintf(&sb, "\nPrevious implementation %d:\n%s\n", i+1, truncate(cand.Code, maxExampleLen))
		}
	}

	fmt.Fprintf(&sb, "\nWrite simple %s code showing the algorithm:", langName)
	return sb.String()
}

// Translate builds the prompt that converts auxiliary code to HDL.
func (b *Builder) Translate(lang hdl.Language, auxCode, description string) string {
	langName := "C++"
	if lang == hdl.LanguagePython {
		langName = "Python"
	}

	return fmt.Sprintf(`Translate this %s reference to %s.

Original specification:
%s

%s reference code:
%s

Generate the %s module implementing this logic:`, langName, b.language, description, langName, auxCode, b.language)
}

// Aggregation builds the synthesis prompt over the best prior candidates.
// At most three are shown, truncated, with quality and path annotations.
func (b *Builder) Aggregation(candidates []cache.Candidate, description string, aux *cache.AuxiliaryArtifact, auxQuality float64) string {
	var hdlText strings.Builder
	for i, cand := range candidates {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&hdlText, "\n[Implementation %d] (quality: %.2f, path: %s)\n%s\n",
			i+1, cand.QualityScore, cand.Path, truncate(cand.Code, maxCandidateLen))
	}

	auxText := ""
	if aux != nil {
		auxText = fmt.Sprintf("\nAdditional reference - %s implementation (HDL quality: %.2f):\n%s\n",
			strings.ToUpper(string(aux.Language)), auxQuality, truncate(aux.Code, maxAuxiliaryLen))
	}

	if b.dataset == "verilogeval" {
		return fmt.Sprintf(`Synthesize multiple SystemVerilog implementations into one superior solution.

Original specification:
%s

Previous implementations to synthesize:
%s
%s

Requirements:
- Combine the best practices from all implementations
- Fix any errors or suboptimal designs found
- Ensure syntactically correct and synthesizable SystemVerilog
- Implement complete functionality as specified

CRITICAL OUTPUT FORMAT:
1. Module name MUST be exactly 'TopModule'
2. Output ONLY the module code
3. Start with: module TopModule
4. End with: endmodule
5. NO markdown formatting (no `+"```"+`)
6. NO explanations or text outside the module

Output the synthesized SystemVerilog module:`, description, hdlText.String(), auxText)
	}

	moduleName := b.moduleName(description)
	return fmt.Sprintf(`Synthesize multiple Verilog implementations into one superior solution.

Original specification:
%s

Previous implementations to synthesize:
%s
%s

Requirements:
- Combine the best practices from all implementations
- Fix any errors or suboptimal designs found
- Ensure syntactically correct and synthesizable Verilog
- Implement complete functionality as specified

CRITICAL OUTPUT FORMAT:
1. Module name should be: %s
2. Output ONLY the module code
3. Start with: module %s
4. End with: endmodule
5. NO markdown formatting (no `+"```"+`)
6. NO explanations or text outside the module

Output the synthesized Verilog module:`, description, hdlText.String(), auxText, moduleName, moduleName)
}

// AggregationRetryNote is appended to the aggregation prompt on the second
// attempt when the first answer could not be parsed into a valid module.
func (b *Builder) AggregationRetryNote() string {
	note := "\n\nCRITICAL: Output ONLY the module code! No markdown, no explanations!"
	if b.dataset == "verilogeval" {
		note += " Module name MUST be 'TopModule'!"
	}
	return note
}

// ===== REPAIR PROMPTS =====

// RepairInput carries everything the repair prompt needs.
type RepairInput struct {
	Code        string
	Class       verify.ErrorClass
	Message     string
	Description string
	Iteration   int // 1-based
	Auxiliary   *cache.AuxiliaryArtifact
}

// Repair builds a feedback-directed repair prompt: failing code, error
// text, error-class guidance, iteration note and output requirements.
func (b *Builder) Repair(in RepairInput) string {
	var base string
	if in.Auxiliary != nil {
		langName := strings.ToUpper(string(in.Auxiliary.Language))
		base = fmt.Sprintf(`You are fixing %s code that was translated from %s.

Original specification:
%s

%s reference implementation:
%s

Current %s code (Repair attempt %d/%d):
%s

Error encountered:
%s

The %s reference is correct - focus on fixing the %s translation.
`, b.language, langName, in.Description, langName, in.Auxiliary.Code,
			b.language, in.Iteration, b.maxIterations, in.Code, in.Message, langName, b.language)
	} else {
		base = fmt.Sprintf(`You are debugging %s code that failed testing.

Original specification:
%s

Current code (Repair attempt %d/%d):
%s

Error encountered:
%s
`, b.language, in.Description, in.Iteration, b.maxIterations, in.Code, in.Message)
	}

	guidance := b.errorGuidance(in.Class, in.Message)
	if in.Auxiliary != nil {
		langName := strings.ToUpper(string(in.Auxiliary.Language))
		guidance += fmt.Sprintf(`
Common issues when translating from %s:
1. Loop constructs (for/while) -> always blocks with proper sensitivity
2. Arrays/pointers -> wire/reg arrays with correct indexing
3. Functions -> modules or combinational logic
4. Sequential operations -> state machines or pipelined logic
`, langName)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s\nOutput the corrected %s code now:",
		base, guidance, b.iterationNote(in.Iteration), b.outputRequirements(in.Description), b.language)
}

func (b *Builder) errorGuidance(class verify.ErrorClass, message string) string {
	switch class {
	case verify.ErrorSyntax:
		return `
SYNTAX ERROR DETECTED. Common issues:
1. Variable/genvar redeclaration - check all loop variables and ensure unique naming
2. Part select with non-constant expressions - use parameters or constants
3. Missing/mismatched module declarations
4. Incorrect port declarations or signal types

Fix the syntax errors while preserving the original logic.
`
	case verify.ErrorCompilation:
		if strings.Contains(message, "Unknown module type") {
			return `
MISSING/UNKNOWN MODULE ERROR. Possible causes:
1. Module name mismatch with testbench expectations
2. Missing submodule definitions - you must implement ALL modules in a single file
3. Hierarchical design split incorrectly

Solution:
- Implement all required submodules in the SAME file
- Ensure the top-level module name matches the testbench requirement
- Use inline logic instead of module instantiation if appropriate
`
		}
		return `
COMPILATION ERROR. Check:
1. Module name matches testbench expectations
2. Port declarations are correct
3. All referenced signals are declared
4. No circular dependencies
`
	case verify.ErrorSimulation:
		return `
SIMULATION FAILURE. The code compiles but produces incorrect results.
Possible issues:
1. Logic errors in state machines or combinational logic
2. Incorrect edge sensitivity (posedge/negedge)
3. Race conditions or initialization issues
4. Incorrect bit widths or signal ranges

Review and fix the functional logic while maintaining correct syntax.
`
	default:
		return `
TESTING FAILED. Review the error message carefully and fix the issue.
`
	}
}

func (b *Builder) iterationNote(iteration int) string {
	switch {
	case iteration <= 1:
		return "This is your first attempt to fix the error. Focus on the specific error message."
	case iteration == 2:
		return "Previous fix attempt failed. Try a different approach - the issue might be more fundamental."
	default:
		return "Multiple fix attempts have failed. Consider simplifying the design or using a completely different implementation approach."
	}
}

func (b *Builder) outputRequirements(description string) string {
	if b.dataset == "verilogeval" {
		return `
CRITICAL OUTPUT REQUIREMENTS:
1. Module name MUST be exactly 'TopModule'
2. Output ONLY the complete, corrected SystemVerilog code
3. Start with: module TopModule
4. End with: endmodule
5. NO markdown formatting (no ` + "```" + `)
6. NO explanations - only code
7. Include ALL necessary submodules in the SAME file if needed
`
	}

	moduleName := b.moduleName(description)
	return fmt.Sprintf(`
CRITICAL OUTPUT REQUIREMENTS:
1. Module name should be: %s
2. Output ONLY the complete, corrected Verilog code
3. Start with: module %s
4. End with: endmodule
5. NO markdown formatting (no `+"```"+`)
6. NO explanations - only code
7. Include ALL necessary submodules in the SAME file if needed
`, moduleName, moduleName)
}

func (b *Builder) moduleName(description string) string {
	if m := moduleNameRe.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return "module_name"
}

func truncate(code string, max int) string {
	if len(code) <= max {
		return code
	}
	return code[:max] + "\n... [truncated for length]"
}
