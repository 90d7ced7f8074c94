package repair

import (
	"context"
	"errors"
	"testing"

	"hdlbench/internal/dataset"
	"hdlbench/internal/llm"
	"hdlbench/internal/prompt"
	"hdlbench/internal/quality"
	"hdlbench/internal/verify"
)

// scriptedVerifier pops one verdict per Verify call; the last verdict
// repeats once the script runs out.
type scriptedVerifier struct {
	verdicts []verify.Verdict
	calls    int
}

func (s *scriptedVerifier) CheckSyntax(ctx context.Context, code string, design dataset.Design) (bool, string) {
	return true, ""
}

func (s *scriptedVerifier) Verify(ctx context.Context, code string, design dataset.Design) verify.Verdict {
	i := s.calls
	if i >= len(s.verdicts) {
		i = len(s.verdicts) - 1
	}
	s.calls++
	return s.verdicts[i]
}

// scriptedClient pops one response per completion call.
type scriptedClient struct {
	responses []string
	err       error
	calls     int
}

var _ llm.Client = (*scriptedClient)(nil)

func (c *scriptedClient) Complete(ctx context.Context, p string) (string, error) {
	return c.CompleteWithSystem(ctx, "", p)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
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

const validModule = `module counter (
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

var testDesign = dataset.Design{Name: "counter", Dataset: "rtllm", Description: "a 4-bit counter"}

func newTestLoop(v verify.Verifier, c llm.Client, maxIter int) *Loop {
	return NewLoop(c, quality.NewEvaluator(v), prompt.NewBuilder("rtllm", maxIter), maxIter)
}

func TestRun_AlreadyPassing(t *testing.T) {
	v := &scriptedVerifier{verdicts: []verify.Verdict{{Passed: true, SyntaxOK: true}}}
	client := &scriptedClient{}
	loop := newTestLoop(v, client, 3)

	res := loop.Run(context.Background(), validModule, testDesign, nil)

	if !res.Passed || res.Iterations != 0 {
		t.Errorf("passing code should need no repair: %+v", res)
	}
	if res.Quality != 1.0 || res.OriginalQuality != 1.0 {
		t.Errorf("quality = %v/%v, want 1.0/1.0", res.Quality, res.OriginalQuality)
	}
	if client.calls != 0 {
		t.Error("client should not be invoked")
	}
	if loop.GetState() != StateAccepted {
		t.Errorf("state = %v, want accepted", loop.GetState())
	}
}

func TestRun_ConvergesAfterOneIteration(t *testing.T) {
	v := &scriptedVerifier{verdicts: []verify.Verdict{
		{SyntaxOK: false, Class: verify.ErrorSyntax, Message: "syntax error"},
		{Passed: true, SyntaxOK: true},
	}}
	client := &scriptedClient{responses: []string{validModule}}
	loop := newTestLoop(v, client, 3)

	res := loop.Run(context.Background(), "module garbage", testDesign, nil)

	if !res.Passed || res.Iterations != 1 {
		t.Fatalf("expected pass after 1 iteration: %+v", res)
	}
	if res.Code != validModule {
		t.Error("repaired code should be returned")
	}
	if res.Quality != 1.0 {
		t.Errorf("quality = %v, want 1.0", res.Quality)
	}
	if res.OriginalQuality >= res.Quality {
		t.Errorf("original quality %v should stay at the entry score", res.OriginalQuality)
	}
}

func TestRun_ExhaustionKeepsBestSeen(t *testing.T) {
	// Entry scores low (syntax fail), iteration 1 improves (sim fail),
	// iteration 2 regresses (syntax fail again).
	v := &scriptedVerifier{verdicts: []verify.Verdict{
		{SyntaxOK: false, Class: verify.ErrorSyntax, Message: "syntax error"},
		{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "output mismatch"},
		{SyntaxOK: false, Class: verify.ErrorSyntax, Message: "syntax error"},
	}}
	regression := `module counter(input clk,output reg q);
always @(posedge clk) q <= ~q;
endmodule`
	client := &scriptedClient{responses: []string{validModule, regression}}
	loop := newTestLoop(v, client, 2)

	res := loop.Run(context.Background(), "module garbage", testDesign, nil)

	if res.Passed {
		t.Fatal("loop should exhaust without passing")
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if res.Code != validModule {
		t.Error("best-seen code should survive a later regression")
	}
	if res.Quality <= res.OriginalQuality {
		t.Errorf("best quality %v should beat entry %v", res.Quality, res.OriginalQuality)
	}
	if loop.GetState() != StateExhausted {
		t.Errorf("state = %v, want exhausted", loop.GetState())
	}
}

func TestRun_ExhaustionWithoutImprovement(t *testing.T) {
	// Every round returns the same still-failing code, so the budget runs
	// out with the entry score intact.
	v := &scriptedVerifier{verdicts: []verify.Verdict{
		{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "output mismatch"},
	}}
	client := &scriptedClient{responses: []string{validModule, validModule, validModule}}
	loop := newTestLoop(v, client, 3)

	res := loop.Run(context.Background(), validModule, testDesign, nil)

	if res.Passed {
		t.Fatal("loop should exhaust without passing")
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want the full budget of 3", res.Iterations)
	}
	if res.Quality != res.OriginalQuality {
		t.Errorf("quality %v should equal entry score %v when nothing improved",
			res.Quality, res.OriginalQuality)
	}
	if res.Code != validModule {
		t.Error("entry code should be returned when no attempt beat it")
	}
	if loop.GetState() != StateExhausted {
		t.Errorf("state = %v, want exhausted", loop.GetState())
	}
}

func TestRun_InvalidRepairOutputStopsLoop(t *testing.T) {
	v := &scriptedVerifier{verdicts: []verify.Verdict{
		{SyntaxOK: false, Class: verify.ErrorSyntax, Message: "syntax error"},
	}}
	client := &scriptedClient{responses: []string{"I am unable to fix this."}}
	loop := newTestLoop(v, client, 3)

	res := loop.Run(context.Background(), "module garbage", testDesign, nil)

	if res.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", res.Iterations)
	}
	if res.Code != "module garbage" {
		t.Error("original code should be returned when repair yields nothing usable")
	}
	if res.Quality != res.OriginalQuality {
		t.Errorf("quality %v should equal entry score %v", res.Quality, res.OriginalQuality)
	}
}

func TestRun_ClientErrorStopsLoop(t *testing.T) {
	v := &scriptedVerifier{verdicts: []verify.Verdict{
		{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "mismatch"},
	}}
	client := &scriptedClient{err: errors.New("rate limited")}
	loop := newTestLoop(v, client, 3)

	res := loop.Run(context.Background(), validModule, testDesign, nil)

	if res.Iterations != 0 || res.Passed {
		t.Errorf("client failure should end the loop cleanly: %+v", res)
	}
}

func TestRun_ZeroBudgetOnlyScores(t *testing.T) {
	v := &scriptedVerifier{verdicts: []verify.Verdict{
		{SyntaxOK: true, Class: verify.ErrorSimulation, Message: "mismatch"},
	}}
	client := &scriptedClient{}
	loop := newTestLoop(v, client, 0)

	res := loop.Run(context.Background(), validModule, testDesign, nil)

	if res.Iterations != 0 || client.calls != 0 {
		t.Errorf("zero budget must not repair: %+v", res)
	}
	if res.Quality != res.OriginalQuality {
		t.Error("score should be the entry score")
	}
}

func TestHistoryRecordsTransitions(t *testing.T) {
	v := &scriptedVerifier{verdicts: []verify.Verdict{{Passed: true, SyntaxOK: true}}}
	loop := newTestLoop(v, &scriptedClient{}, 3)

	loop.Run(context.Background(), validModule, testDesign, nil)

	history := loop.GetHistory()
	if len(history) != 2 {
		t.Fatalf("history has %d transitions, want 2", len(history))
	}
	if history[0].To != StateScoring || history[1].To != StateAccepted {
		t.Errorf("unexpected transition sequence: %+v", history)
	}
}
