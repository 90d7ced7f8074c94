// Package hdl turns raw generation-service output into usable HDL and
// auxiliary source text. Extraction is deliberately forgiving; validation
// is the strict gate that decides whether a candidate enters the pipeline.
package hdl

import (
	"regexp"
	"strings"
)

// Language identifies an auxiliary implementation language.
type Language string

const (
	LanguageCPP    Language = "cpp"
	LanguagePython Language = "python"
)

// Prose prefixes models like to emit before the actual code. Fence
// markers are deliberately absent: stripping an opening fence here would
// leave its closing fence unpaired for fencedBlock.
var responsePrefixes = []string{
	"Here's the Verilog code:",
	"Here is the Verilog code:",
	"The Verilog code is:",
	"Here's the implementation:",
}

var (
	moduleDeclRe  = regexp.MustCompile(`(?i)module\s+\w+`)
	endmoduleRe   = regexp.MustCompile(`(?i)endmodule`)
	topModuleRe   = regexp.MustCompile(`module\s+TopModule`)
	cppStartRe    = regexp.MustCompile(`^(#include|void |int |class |struct |bool |uint8_t|uint16_t|uint32_t|using |namespace )`)
	pythonStartRe = regexp.MustCompile(`^(def |class |import |from )`)
)

// ExtractModule pulls a Verilog module out of a raw model response.
// Returns "" when no module-shaped text can be recovered.
func ExtractModule(response string) string {
	if strings.TrimSpace(response) == "" {
		return ""
	}

	original := response
	trimmed := strings.TrimSpace(response)
	for _, prefix := range responsePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			trimmed = strings.TrimSpace(trimmed[len(prefix):])
		}
	}

	// Prefer a fenced code block when present.
	codeLines := fencedBlock(trimmed)

	// Otherwise slice from the module declaration to endmodule.
	if len(codeLines) == 0 {
		moduleFound := false
		for _, line := range strings.Split(trimmed, "\n") {
			stripped := strings.TrimSpace(line)
			if !moduleFound && strings.HasPrefix(stripped, "module ") {
				moduleFound = true
			}
			if moduleFound {
				codeLines = append(codeLines, line)
				if strings.HasPrefix(stripped, "endmodule") {
					break
				}
			}
		}
	}

	if len(codeLines) > 0 {
		code := strings.Join(codeLines, "\n")
		if strings.Contains(code, "module ") {
			if !strings.Contains(code, "endmodule") {
				code += "\nendmodule"
			}
			return code
		}
	}

	// Last resort: the response itself, if it at least mentions a module.
	if strings.Contains(original, "module ") {
		return original
	}
	return ""
}

// ExtractAuxiliary pulls C++ or Python source out of a raw model response.
func ExtractAuxiliary(response string, lang Language) string {
	if strings.TrimSpace(response) == "" {
		return ""
	}

	if lines := fencedBlock(response); len(lines) > 0 {
		return strings.Join(lines, "\n")
	}

	startRe := cppStartRe
	if lang == LanguagePython {
		startRe = pythonStartRe
	}

	lines := strings.Split(response, "\n")
	for i, line := range lines {
		if startRe.MatchString(strings.TrimSpace(line)) {
			return strings.Join(lines[i:], "\n")
		}
	}
	return response
}

// fencedBlock returns the contents of the first markdown code fence, if any.
func fencedBlock(text string) []string {
	var lines []string
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				break
			}
			inBlock = true
			continue
		}
		if inBlock {
			lines = append(lines, line)
		}
	}
	return lines
}

// Minimum plausible module lengths. Anything shorter cannot hold a port
// list plus a body and is noise, not a candidate.
const (
	minModuleLen            = 25
	minVerilogEvalModuleLen = 30
)

// ValidateModule reports whether extracted code is a single well-formed
// module acceptable for the given dataset. verilogeval requires the
// top-level module to be named TopModule.
func ValidateModule(code, dataset string) bool {
	minLen := minModuleLen
	if dataset == "verilogeval" {
		minLen = minVerilogEvalModuleLen
	}
	if len(code) < minLen {
		return false
	}
	if !moduleDeclRe.MatchString(code) {
		return false
	}
	if !endmoduleRe.MatchString(code) {
		return false
	}
	if dataset == "verilogeval" && !topModuleRe.MatchString(code) {
		return false
	}
	if strings.Contains(code, "```") {
		return false
	}
	if len(moduleDeclRe.FindAllString(code, -1)) != 1 {
		return false
	}
	if len(endmoduleRe.FindAllString(code, -1)) != 1 {
		return false
	}
	return true
}
