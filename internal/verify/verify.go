// Package verify drives the external HDL toolchain (iverilog + vvp) and
// classifies outcomes. A verifier failure is always a failing Verdict,
// never a Go error: the pipeline treats unverifiable code as bad code.
package verify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hdlbench/internal/config"
	"hdlbench/internal/dataset"
	"hdlbench/internal/logging"
)

// ErrorClass partitions verification failures for repair guidance.
type ErrorClass string

const (
	ErrorNone        ErrorClass = ""
	ErrorSyntax      ErrorClass = "syntax_error"
	ErrorCompilation ErrorClass = "compilation_error"
	ErrorSimulation  ErrorClass = "simulation_fail"
)

// Verdict is the outcome of verifying one candidate.
type Verdict struct {
	Passed     bool
	SyntaxOK   bool
	Class      ErrorClass
	Message    string
	Mismatches int
	TotalCases int
}

// Verifier checks candidate HDL against a design's testbench.
type Verifier interface {
	CheckSyntax(ctx context.Context, code string, design dataset.Design) (bool, string)
	Verify(ctx context.Context, code string, design dataset.Design) Verdict
}

// IVerilog runs Icarus Verilog for compilation and vvp for simulation.
type IVerilog struct {
	iverilogPath   string
	vvpPath        string
	compileTimeout time.Duration
	simTimeout     time.Duration
	workDir        string
}

// NewIVerilog builds a verifier from config. WorkDir defaults to the
// system temp directory.
func NewIVerilog(cfg config.VerifyConfig) (*IVerilog, error) {
	compileTimeout, err := cfg.CompileTimeoutDuration()
	if err != nil {
		return nil, err
	}
	simTimeout, err := cfg.SimTimeoutDuration()
	if err != nil {
		return nil, err
	}

	iverilog := cfg.IVerilogPath
	if iverilog == "" {
		iverilog = "iverilog"
	}
	vvp := cfg.VVPPath
	if vvp == "" {
		vvp = "vvp"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &IVerilog{
		iverilogPath:   iverilog,
		vvpPath:        vvp,
		compileTimeout: compileTimeout,
		simTimeout:     simTimeout,
		workDir:        workDir,
	}, nil
}

// CheckSyntax compiles the candidate alone. Returns the compiler stderr on
// failure so the repair loop can quote it.
func (v *IVerilog) CheckSyntax(ctx context.Context, code string, design dataset.Design) (bool, string) {
	tmpDir, err := os.MkdirTemp(v.workDir, "hdlbench-syntax-")
	if err != nil {
		return false, err.Error()
	}
	defer os.RemoveAll(tmpDir)

	codeFile := filepath.Join(tmpDir, "candidate"+design.FileExt())
	if err := os.WriteFile(codeFile, []byte(code), 0644); err != nil {
		return false, err.Error()
	}
	outFile := filepath.Join(tmpDir, "syntax.out")

	stderr, err := v.runCommand(ctx, v.compileTimeout, v.iverilogPath, "-g2012", "-o", outFile, codeFile)
	if err != nil {
		return false, stderr
	}
	return true, ""
}

// Verify runs the full cascade: syntax compile, testbench compile,
// simulation. The first failing stage fixes the error class.
func (v *IVerilog) Verify(ctx context.Context, code string, design dataset.Design) Verdict {
	log := logging.Get(logging.CategoryVerify)

	if ok, msg := v.CheckSyntax(ctx, code, design); !ok {
		log.Debugw("syntax check failed", "design", design.Name)
		return Verdict{Class: ErrorSyntax, Message: msg}
	}

	tmpDir, err := os.MkdirTemp(v.workDir, "hdlbench-verify-")
	if err != nil {
		return Verdict{SyntaxOK: true, Class: ErrorCompilation, Message: err.Error()}
	}
	defer os.RemoveAll(tmpDir)

	codeFile := filepath.Join(tmpDir, "candidate"+design.FileExt())
	if err := os.WriteFile(codeFile, []byte(code), 0644); err != nil {
		return Verdict{SyntaxOK: true, Class: ErrorCompilation, Message: err.Error()}
	}
	outFile := filepath.Join(tmpDir, "sim.out")

	// verilogeval compiles the reference model alongside the candidate.
	args := []string{"-g2012", "-o", outFile, design.Testbench, codeFile}
	if design.Reference != "" {
		args = append(args, design.Reference)
	}

	if stderr, err := v.runCommand(ctx, v.compileTimeout, v.iverilogPath, args...); err != nil {
		log.Debugw("testbench compilation failed", "design", design.Name)
		return Verdict{SyntaxOK: true, Class: ErrorCompilation, Message: stderr}
	}

	simCtx, cancel := context.WithTimeout(ctx, v.simTimeout)
	defer cancel()
	cmd := exec.CommandContext(simCtx, v.vvpPath, outFile)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if simCtx.Err() == context.DeadlineExceeded {
		return Verdict{SyntaxOK: true, Class: ErrorSimulation, Message: "simulation timed out"}
	}
	if runErr != nil && stdout.Len() == 0 {
		return Verdict{SyntaxOK: true, Class: ErrorSimulation, Message: stderr.String()}
	}

	passed, mismatches, total := ParseSimulation(design.Dataset, stdout.String(), stderr.String())
	verdict := Verdict{
		Passed:     passed,
		SyntaxOK:   true,
		Mismatches: mismatches,
		TotalCases: total,
	}
	if !passed {
		verdict.Class = ErrorSimulation
		verdict.Message = simFailureMessage(stdout.String(), stderr.String())
	}
	log.Debugw("verification finished", "design", design.Name, "passed", passed, "mismatches", mismatches)
	return verdict
}

// runCommand runs a compile step under its own deadline. Returns stderr and
// a non-nil error on failure or timeout.
func (v *IVerilog) runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return "compilation timed out", cmdCtx.Err()
	}
	if err != nil {
		return stderr.String(), err
	}
	return "", nil
}

var mismatchRe = regexp.MustCompile(`Mismatches: (\d+) in (\d+)`)

// ParseSimulation interprets simulator output. verilogeval testbenches
// report "Mismatches: N in M"; other testbenches are scanned for pass/fail
// indicator words.
func ParseSimulation(datasetType, stdout, stderr string) (passed bool, mismatches, total int) {
	if datasetType == "verilogeval" {
		if m := mismatchRe.FindStringSubmatch(stdout); m != nil {
			mismatches = atoi(m[1])
			total = atoi(m[2])
			return mismatches == 0, mismatches, total
		}
		lower := strings.ToLower(stdout)
		if strings.Contains(lower, "mismatches: 0") {
			return true, 0, 0
		}
		if strings.Contains(lower, "mismatches:") {
			return false, 0, 0
		}
	}

	outLower := strings.ToLower(stdout)
	errLower := strings.ToLower(stderr)

	for _, indicator := range []string{"fail", "error", "mismatch", "assertion", "timeout"} {
		if strings.Contains(outLower, indicator) || strings.Contains(errLower, indicator) {
			return false, 0, 0
		}
	}

	for _, indicator := range []string{"pass", "success", "test completed", "simulation finished"} {
		if strings.Contains(outLower, indicator) {
			return true, 0, 0
		}
	}

	// No explicit verdict either way: a silent, clean run counts as a pass.
	return len(stderr) == 0, 0, 0
}

// simFailureMessage picks the most useful text to show the model.
func simFailureMessage(stdout, stderr string) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	const maxLen = 2000
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
