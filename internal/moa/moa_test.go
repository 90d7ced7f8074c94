package moa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"hdlbench/internal/cache"
	"hdlbench/internal/config"
	"hdlbench/internal/dataset"
	"hdlbench/internal/llm"
	"hdlbench/internal/quality"
	"hdlbench/internal/verify"
)

func TestMain(m *testing.M) {
	// The genai SDK pulls in opencensus, which starts a permanent stats
	// worker on import.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedClient pops one response per completion call. Safe for the
// concurrent path fan-out.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

var _ llm.Client = (*scriptedClient)(nil)

func (c *scriptedClient) Complete(ctx context.Context, p string) (string, error) {
	return c.CompleteWithSystem(ctx, "", p)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if c.calls >= len(c.responses) {
		return "", errors.New("script exhausted")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fixedVerifier returns the same verdict for every candidate.
type fixedVerifier struct {
	mu      sync.Mutex
	verdict verify.Verdict
}

func (v *fixedVerifier) CheckSyntax(ctx context.Context, code string, design dataset.Design) (bool, string) {
	return v.verdict.SyntaxOK, ""
}

func (v *fixedVerifier) Verify(ctx context.Context, code string, design dataset.Design) verify.Verdict {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.verdict
}

// passKeyVerifier passes only code containing its key; everything else is
// a simulation failure.
type passKeyVerifier struct {
	key string
}

func (v *passKeyVerifier) CheckSyntax(ctx context.Context, code string, design dataset.Design) (bool, string) {
	return true, ""
}

func (v *passKeyVerifier) Verify(ctx context.Context, code string, design dataset.Design) verify.Verdict {
	if strings.Contains(code, v.key) {
		return verify.Verdict{Passed: true, SyntaxOK: true}
	}
	return verify.Verdict{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "mismatch"}
}

const counterModule = `module counter (
    input wire clk,
    input wire rst,
    output reg [3:0] q
);
    always @ (posedge clk) begin
        if (rst)
            q <= 4'b0000;
        else
            q <= q + 1;
    end
endmodule`

var counterDesign = dataset.Design{
	Name:        "counter",
	Dataset:     "rtllm",
	Description: "Module name: counter\nA 4-bit counter.",
}

func pipelineConfig(layers int, paths []string) config.PipelineConfig {
	return config.PipelineConfig{
		Layers:         layers,
		Paths:          paths,
		NSelect:        3,
		Trials:         1,
		EarlyStop:      true,
		QualityCaching: true,
	}
}

func TestRunTrial_EarlyStopOnPerfectCandidate(t *testing.T) {
	client := &scriptedClient{responses: []string{counterModule}}
	verifier := &fixedVerifier{verdict: verify.Verdict{Passed: true, SyntaxOK: true}}
	gen := NewGenerator(pipelineConfig(3, []string{"direct"}), "rtllm",
		client, quality.NewEvaluator(verifier), nil)

	res, trialCache, ok := gen.RunTrial(context.Background(), counterDesign, 1)

	if !ok {
		t.Fatal("trial should succeed")
	}
	if res.Code != counterModule {
		t.Error("early stop should return the perfect candidate verbatim")
	}
	if res.Quality != 1.0 || !res.Passed {
		t.Errorf("early stop outcome = %+v, want quality 1.0 and passed", res)
	}
	if trialCache.Layers() != 1 {
		t.Errorf("cache has %d layers, want 1 (later layers skipped)", trialCache.Layers())
	}
	if client.callCount() != 1 {
		t.Errorf("client called %d times, want 1 (no aggregation)", client.callCount())
	}
}

func TestRunTrial_AggregationFallsBackToBestCandidate(t *testing.T) {
	// The layer produces one imperfect candidate; both aggregation
	// attempts return unusable text.
	client := &scriptedClient{responses: []string{
		counterModule,
		"I'd be happy to synthesize those for you.",
		"Still no code here.",
	}}
	verifier := &fixedVerifier{verdict: verify.Verdict{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "mismatch"}}
	gen := NewGenerator(pipelineConfig(1, []string{"direct"}), "rtllm",
		client, quality.NewEvaluator(verifier), nil)

	res, trialCache, ok := gen.RunTrial(context.Background(), counterDesign, 1)

	if !ok {
		t.Fatal("fallback should still yield code")
	}
	if res.Code != counterModule {
		t.Error("fallback must be the best cached candidate verbatim")
	}
	if res.Quality != 0.85 || res.Passed {
		t.Errorf("fallback outcome = %+v, want the cached score and not passed", res)
	}
	if !trialCache.HasData() {
		t.Error("layer candidates should be cached")
	}
	if client.callCount() != 3 {
		t.Errorf("client called %d times, want 3 (layer + two aggregation attempts)", client.callCount())
	}
}

func TestRunTrial_ChainedPathReusesAuxiliary(t *testing.T) {
	auxResponse := "```cpp\nint count(int q) { return q + 1; }\n```"
	translated := `module counter (
    input wire clk,
    input wire rst,
    output reg [3:0] q
);
    always @ (posedge clk) begin
        if (rst)
            q <= 4'b0000;
        else
            q <= q + 4'b0001;
    end
endmodule`

	// Layer 0: auxiliary + translate. Layer 1: translate only, reusing the
	// cached auxiliary. Then one aggregation attempt.
	client := &scriptedClient{responses: []string{auxResponse, counterModule, translated, counterModule}}
	verifier := &fixedVerifier{verdict: verify.Verdict{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "mismatch"}}
	gen := NewGenerator(pipelineConfig(2, []string{"cpp"}), "rtllm",
		client, quality.NewEvaluator(verifier), nil)

	res, trialCache, ok := gen.RunTrial(context.Background(), counterDesign, 1)

	if !ok || res.Code == "" {
		t.Fatal("trial should produce code")
	}
	if client.callCount() != 4 {
		t.Errorf("client called %d times, want 4 (auxiliary generated once)", client.callCount())
	}

	for _, cand := range trialCache.All() {
		if cand.Auxiliary == nil {
			t.Error("chained candidates should carry their auxiliary artifact")
		}
		if cand.Path != "cpp_chain" {
			t.Errorf("path = %q, want cpp_chain", cand.Path)
		}
	}
}

func TestRunTrial_AggregateIsScoredFresh(t *testing.T) {
	merged := `module counter (
    input wire clk,
    input wire rst,
    output reg [3:0] q
);
    always @ (posedge clk) begin
        if (rst)
            q <= 4'b0000;
        else
            q <= q + 4'b0001;
    end
endmodule`

	// Only the aggregate passes simulation. It never appears in the cache,
	// so its score must come from a fresh assessment rather than a cache
	// lookup.
	client := &scriptedClient{responses: []string{counterModule, merged}}
	verifier := &passKeyVerifier{key: "4'b0001"}
	gen := NewGenerator(pipelineConfig(1, []string{"direct"}), "rtllm",
		client, quality.NewEvaluator(verifier), nil)

	res, trialCache, ok := gen.RunTrial(context.Background(), counterDesign, 1)

	if !ok {
		t.Fatal("trial should succeed")
	}
	if res.Code != merged {
		t.Fatalf("final code should be the aggregate, got %q", res.Code)
	}
	if res.Quality != 1.0 || !res.Passed {
		t.Errorf("aggregate outcome = %+v, want quality 1.0 and passed", res)
	}
	for _, cand := range trialCache.All() {
		if cand.Code == merged {
			t.Error("the aggregate should not be among the cached candidates here")
		}
	}
}

func TestRunTrial_TotalFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("service unavailable")}
	verifier := &fixedVerifier{verdict: verify.Verdict{SyntaxOK: true}}
	gen := NewGenerator(pipelineConfig(2, []string{"direct", "cpp"}), "rtllm",
		client, quality.NewEvaluator(verifier), nil)

	res, _, ok := gen.RunTrial(context.Background(), counterDesign, 1)
	if ok || res.Code != "" {
		t.Errorf("trial with no candidates must fail: ok=%v code=%q", ok, res.Code)
	}
}

func TestNewGenerator_RepairRequiresCaching(t *testing.T) {
	cfg := pipelineConfig(1, []string{"direct"})
	cfg.QualityCaching = false
	cfg.SelfRepair = true

	gen := NewGenerator(cfg, "rtllm", &scriptedClient{}, nil, nil)
	if gen.cfg.SelfRepair {
		t.Error("self repair must be disabled without quality caching")
	}
}

func TestRunner_WritesTrialCodeAndSummary(t *testing.T) {
	outputDir := t.TempDir()

	client := &scriptedClient{responses: []string{counterModule}}
	verifier := &fixedVerifier{verdict: verify.Verdict{Passed: true, SyntaxOK: true}}
	gen := NewGenerator(pipelineConfig(1, []string{"direct"}), "rtllm",
		client, quality.NewEvaluator(verifier), nil)
	runner := NewRunner(gen, 1, outputDir, nil, nil)

	summary, err := runner.RunBatch(context.Background(), []dataset.Design{counterDesign})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if len(summary.Designs) != 1 || summary.Designs[0].Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Designs[0].BestScore != 1.0 {
		t.Errorf("best score = %v, want 1.0", summary.Designs[0].BestScore)
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "t1", "counter.v"))
	if err != nil {
		t.Fatalf("trial code not written: %v", err)
	}
	if string(data) != counterModule {
		t.Error("written code should match the trial result")
	}

	if _, err := os.Stat(filepath.Join(outputDir, "generation_summary.json")); err != nil {
		t.Errorf("summary file not written: %v", err)
	}
}

func TestRunner_SkipsDesignWithoutDescription(t *testing.T) {
	gen := NewGenerator(pipelineConfig(1, []string{"direct"}), "rtllm",
		&scriptedClient{}, quality.NewEvaluator(&fixedVerifier{}), nil)
	runner := NewRunner(gen, 2, t.TempDir(), nil, nil)

	outcome := runner.runDesign(context.Background(), dataset.Design{Name: "blank", Dataset: "rtllm"})
	if outcome.Completed != 0 {
		t.Errorf("design without description must be skipped, got %+v", outcome)
	}
}

func TestForwardFeed_WithoutCachingUsesPreviousLayer(t *testing.T) {
	cfg := pipelineConfig(2, []string{"direct"})
	cfg.QualityCaching = false
	gen := NewGenerator(cfg, "rtllm", &scriptedClient{}, nil, nil)

	last := []cache.Candidate{
		{Code: "low", QualityScore: 0.2},
		{Code: "high", QualityScore: 0.9},
		{Code: "mid", QualityScore: 0.5},
		{Code: "extra", QualityScore: 0.1},
	}
	got := gen.forwardFeed(cache.NewTrialCache("d", 1, nil), last, 1)

	if len(got) != 3 {
		t.Fatalf("forward feed size = %d, want n_select", len(got))
	}
	if got[0].Code != "high" || got[1].Code != "mid" || got[2].Code != "low" {
		t.Errorf("unexpected order: %s, %s, %s", got[0].Code, got[1].Code, got[2].Code)
	}
}
