package prompt

import (
	"strings"
	"testing"

	"hdlbench/internal/cache"
	"hdlbench/internal/hdl"
	"hdlbench/internal/verify"
)

const rtllmDesc = "Module name: traffic_light\nA traffic light controller."

func TestInitial_DatasetDialects(t *testing.T) {
	rtllm := NewBuilder("rtllm", 3).Initial(rtllmDesc)
	if !strings.Contains(rtllm, "Module name should be: traffic_light") {
		t.Error("rtllm prompt should name the module from the specification")
	}
	if !strings.Contains(rtllm, "Verilog") {
		t.Error("rtllm prompt should target Verilog")
	}

	veval := NewBuilder("verilogeval", 3).Initial("Build an inverter.")
	if !strings.Contains(veval, "'TopModule'") {
		t.Error("verilogeval prompt must pin the TopModule name")
	}
	if !strings.Contains(veval, "SystemVerilog") {
		t.Error("verilogeval prompt should target SystemVerilog")
	}
}

func TestAuxiliary_ShowsAtMostTwoPrevious(t *testing.T) {
	b := NewBuilder("rtllm", 3)
	previous := []cache.Candidate{
		{Code: "module one(); endmodule"},
		{Code: "module two(); endmodule"},
		{Code: "module three(); endmodule"},
	}

	p := b.Auxiliary(hdl.LanguagePython, rtllmDesc, previous)
	if !strings.Contains(p, "Python") {
		t.Error("prompt should name the auxiliary language")
	}
	if !strings.Contains(p, "Previous implementation 1") || !strings.Contains(p, "Previous implementation 2") {
		t.Error("first two candidates should appear")
	}
	if strings.Contains(p, "Previous implementation 3") {
		t.Error("at most two candidates may appear")
	}
}

func TestAuxiliary_TruncatesLongCandidates(t *testing.T) {
	b := NewBuilder("rtllm", 3)
	long := strings.Repeat("x", 2000)

	p := b.Auxiliary(hdl.LanguageCPP, rtllmDesc, []cache.Candidate{{Code: long}})
	if !strings.Contains(p, "[truncated for length]") {
		t.Error("long candidates should be truncated")
	}
	if strings.Contains(p, long) {
		t.Error("full candidate text should not appear")
	}
}

func TestAggregation_AnnotatesCandidates(t *testing.T) {
	b := NewBuilder("rtllm", 3)
	candidates := []cache.Candidate{
		{Code: "module a(); endmodule", QualityScore: 0.85, Path: "direct"},
		{Code: "module b(); endmodule", QualityScore: 0.60, Path: "cpp_chain"},
	}

	p := b.Aggregation(candidates, rtllmDesc, nil, 0)
	if !strings.Contains(p, "[Implementation 1] (quality: 0.85, path: direct)") {
		t.Error("candidates should carry quality and path annotations")
	}
	if !strings.Contains(p, "module traffic_light") {
		t.Error("output format should pin the module name")
	}
}

func TestAggregation_AuxiliaryReference(t *testing.T) {
	b := NewBuilder("rtllm", 3)
	aux := &cache.AuxiliaryArtifact{Language: hdl.LanguageCPP, Code: "int f() { return 0; }"}

	p := b.Aggregation([]cache.Candidate{{Code: "module a(); endmodule"}}, rtllmDesc, aux, 0.8)
	if !strings.Contains(p, "CPP implementation (HDL quality: 0.80)") {
		t.Error("auxiliary reference should appear with its quality")
	}
}

func TestAggregationRetryNote(t *testing.T) {
	rtllm := NewBuilder("rtllm", 3).AggregationRetryNote()
	if !strings.Contains(rtllm, "ONLY the module code") {
		t.Error("retry note should insist on bare module output")
	}
	veval := NewBuilder("verilogeval", 3).AggregationRetryNote()
	if !strings.Contains(veval, "'TopModule'") {
		t.Error("verilogeval retry note should restate the module name")
	}
}

func TestRepair_ErrorClassGuidance(t *testing.T) {
	b := NewBuilder("rtllm", 3)

	tests := []struct {
		class   verify.ErrorClass
		message string
		expect  string
	}{
		{verify.ErrorSyntax, "syntax error near always", "SYNTAX ERROR DETECTED"},
		{verify.ErrorCompilation, "error: Unknown module type: adder", "MISSING/UNKNOWN MODULE ERROR"},
		{verify.ErrorCompilation, "port mismatch", "COMPILATION ERROR"},
		{verify.ErrorSimulation, "output mismatch at t=10", "SIMULATION FAILURE"},
		{verify.ErrorNone, "something odd", "TESTING FAILED"},
	}

	for _, tt := range tests {
		p := b.Repair(RepairInput{
			Code:        "module traffic_light(); endmodule",
			Class:       tt.class,
			Message:     tt.message,
			Description: rtllmDesc,
			Iteration:   1,
		})
		if !strings.Contains(p, tt.expect) {
			t.Errorf("class %q: prompt missing %q", tt.class, tt.expect)
		}
		if !strings.Contains(p, tt.message) {
			t.Errorf("class %q: error message should be quoted", tt.class)
		}
	}
}

func TestRepair_IterationNotes(t *testing.T) {
	b := NewBuilder("rtllm", 3)
	in := RepairInput{Code: "module t(); endmodule", Class: verify.ErrorSyntax, Description: rtllmDesc}

	in.Iteration = 1
	if !strings.Contains(b.Repair(in), "first attempt") {
		t.Error("iteration 1 should carry the first-attempt note")
	}
	in.Iteration = 2
	if !strings.Contains(b.Repair(in), "different approach") {
		t.Error("iteration 2 should suggest a different approach")
	}
	in.Iteration = 3
	if !strings.Contains(b.Repair(in), "simplifying the design") {
		t.Error("iteration 3+ should suggest simplification")
	}
}

func TestRepair_AuxiliaryFraming(t *testing.T) {
	b := NewBuilder("rtllm", 3)
	p := b.Repair(RepairInput{
		Code:        "module t(); endmodule",
		Class:       verify.ErrorSimulation,
		Message:     "mismatch",
		Description: rtllmDesc,
		Iteration:   1,
		Auxiliary:   &cache.AuxiliaryArtifact{Language: hdl.LanguagePython, Code: "def f(): return 0"},
	})

	if !strings.Contains(p, "The PYTHON reference is correct") {
		t.Error("auxiliary repairs should frame the reference as correct")
	}
	if !strings.Contains(p, "Common issues when translating from PYTHON") {
		t.Error("auxiliary repairs should include translation guidance")
	}
	if !strings.Contains(p, "Repair attempt 1/3") {
		t.Error("attempt counter should appear")
	}
}

func TestSystemPrompts(t *testing.T) {
	rtllm := NewBuilder("rtllm", 3)
	veval := NewBuilder("verilogeval", 3)

	if !strings.Contains(veval.SystemDirect(), "'TopModule'") {
		t.Error("verilogeval system prompt must pin TopModule")
	}
	if strings.Contains(rtllm.SystemDirect(), "TopModule") {
		t.Error("rtllm system prompt must not mention TopModule")
	}
	if !strings.Contains(rtllm.SystemRepair(), "Verilog debugger") {
		t.Error("repair system prompt should name the dialect")
	}
	if veval.Language() != "SystemVerilog" || rtllm.Language() != "Verilog" {
		t.Error("dialect selection is dataset-driven")
	}
}
