package metrics

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"hdlbench/internal/store"
)

func TestPassAtK(t *testing.T) {
	tests := []struct {
		name    string
		n, c, k int
		want    float64
	}{
		{"no successes", 10, 0, 5, 0},
		{"all successes", 10, 10, 1, 1.0},
		{"guaranteed hit", 5, 3, 4, 1.0}, // n-c < k
		{"pass@1 is the success rate", 10, 3, 1, 0.3},
		{"half at k=2", 4, 2, 2, 5.0 / 6.0}, // 1 - C(2,2)/C(4,2)
		{"k clamps to n", 3, 1, 5, 1.0}, // pass@5 over 3 trials behaves as pass@3
		{"k clamps to n with no successes", 3, 0, 5, 0},
		{"zero trials", 0, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PassAtK(tt.n, tt.c, tt.k)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PassAtK(%d, %d, %d) = %v, want %v", tt.n, tt.c, tt.k, got, tt.want)
			}
		})
	}
}

func TestPassAtK_MatchesCombinatorialDefinition(t *testing.T) {
	// 1 - C(n-c,k)/C(n,k) for n=10, c=4, k=3:
	// C(6,3)=20, C(10,3)=120 -> 1 - 20/120 = 5/6.
	got := PassAtK(10, 4, 3)
	if math.Abs(got-5.0/6.0) > 1e-9 {
		t.Errorf("PassAtK(10, 4, 3) = %v, want %v", got, 5.0/6.0)
	}
}

func trial(design string, quality float64, passed bool) store.TrialResult {
	return store.TrialResult{Design: design, Dataset: "rtllm", Quality: quality, Passed: passed}
}

func TestBuildReport(t *testing.T) {
	results := []store.TrialResult{
		trial("adder", 1.0, true),
		trial("adder", 0.85, false),
		trial("adder", 1.0, true),
		trial("fsm", 0.6, false),
		trial("fsm", 0.45, false),
	}
	models := []store.ModelStats{{Model: "gemini-2.0-flash", Count: 30, AvgQuality: 0.7, MaxQuality: 1.0}}

	report := BuildReport(results, models)

	assert.Len(t, report.Designs, 2)
	assert.Equal(t, 5, report.TotalTrials)
	assert.Equal(t, 2, report.TotalPassed)

	// Sorted by design name.
	adder := report.Designs[0]
	assert.Equal(t, "adder", adder.Design)
	assert.Equal(t, 3, adder.Trials)
	assert.Equal(t, 2, adder.Passed)
	assert.InDelta(t, 2.0/3.0, adder.PassAt1, 1e-9)
	assert.InDelta(t, 0.95, adder.AvgQuality, 1e-9)
	assert.Equal(t, 1.0, adder.MaxQuality)

	fsm := report.Designs[1]
	assert.Equal(t, 0.0, fsm.PassAt1)
	assert.Equal(t, 0.0, fsm.PassAt5)

	// Overall pass@1 is the mean over designs.
	assert.InDelta(t, (2.0/3.0+0.0)/2.0, report.PassAt1, 1e-9)
}

func TestBuildReport_Empty(t *testing.T) {
	report := BuildReport(nil, nil)
	assert.Empty(t, report.Designs)
	assert.Zero(t, report.PassAt1)
}

func TestRunReport_Format(t *testing.T) {
	report := BuildReport([]store.TrialResult{trial("adder", 1.0, true)},
		[]store.ModelStats{{Model: "m", Count: 3, AvgQuality: 0.9, MaxQuality: 1.0}})

	text := report.Format()
	assert.True(t, strings.Contains(text, "adder"))
	assert.True(t, strings.Contains(text, "pass@1"))
	assert.True(t, strings.Contains(text, "model"))
}
