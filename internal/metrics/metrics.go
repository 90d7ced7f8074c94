// Package metrics computes benchmark statistics over stored trial results.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"hdlbench/internal/store"
)

// PassAtK is the unbiased pass@k estimator: the probability that at least
// one of k samples drawn from n trials with c successes passes.
// Computed as 1 - C(n-c, k)/C(n, k). When fewer than k trials were run,
// k is clamped to n so a short run still reports a meaningful figure.
func PassAtK(n, c, k int) float64 {
	if n <= 0 || k <= 0 {
		return 0
	}
	if k > n {
		k = n
	}
	if c <= 0 {
		return 0
	}
	if n-c < k {
		return 1.0
	}
	// Product form of 1 - C(n-c,k)/C(n,k) avoids large factorials.
	prod := 1.0
	for i := n - c + 1; i <= n; i++ {
		prod *= 1.0 - float64(k)/float64(i)
	}
	return 1.0 - prod
}

// DesignMetrics summarizes all trials of one design.
type DesignMetrics struct {
	Design     string
	Trials     int
	Passed     int
	AvgQuality float64
	MaxQuality float64
	PassAt1    float64
	PassAt5    float64
}

// RunReport aggregates an entire run.
type RunReport struct {
	Designs     []DesignMetrics
	TotalTrials int
	TotalPassed int
	PassAt1     float64
	PassAt5     float64
	Models      []store.ModelStats
	Layers      []store.LayerStats
}

// BuildReport computes per-design and overall metrics from trial results.
// Per-design pass@k uses that design's own trial count; the overall figures
// are means over designs, the standard convention for these benchmarks.
func BuildReport(results []store.TrialResult, models []store.ModelStats) RunReport {
	byDesign := make(map[string][]store.TrialResult)
	for _, r := range results {
		byDesign[r.Design] = append(byDesign[r.Design], r)
	}

	names := make([]string, 0, len(byDesign))
	for name := range byDesign {
		names = append(names, name)
	}
	sort.Strings(names)

	report := RunReport{Models: models}
	var sumP1, sumP5 float64

	for _, name := range names {
		trials := byDesign[name]
		dm := DesignMetrics{Design: name, Trials: len(trials)}

		var sum float64
		for _, t := range trials {
			if t.Passed {
				dm.Passed++
			}
			sum += t.Quality
			dm.MaxQuality = math.Max(dm.MaxQuality, t.Quality)
		}
		dm.AvgQuality = sum / float64(len(trials))
		dm.PassAt1 = PassAtK(dm.Trials, dm.Passed, 1)
		dm.PassAt5 = PassAtK(dm.Trials, dm.Passed, 5)

		report.Designs = append(report.Designs, dm)
		report.TotalTrials += dm.Trials
		report.TotalPassed += dm.Passed
		sumP1 += dm.PassAt1
		sumP5 += dm.PassAt5
	}

	if n := len(report.Designs); n > 0 {
		report.PassAt1 = sumP1 / float64(n)
		report.PassAt5 = sumP5 / float64(n)
	}
	return report
}

// Format renders the report as a plain-text table.
func (r RunReport) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-30s %7s %7s %8s %8s %8s\n",
		"design", "trials", "passed", "avg_q", "pass@1", "pass@5")
	for _, d := range r.Designs {
		fmt.Fprintf(&b, "%-30s %7d %7d %8.3f %8.3f %8.3f\n",
			d.Design, d.Trials, d.Passed, d.AvgQuality, d.PassAt1, d.PassAt5)
	}

	fmt.Fprintf(&b, "\ndesigns: %d  trials: %d  passed: %d  pass@1: %.3f  pass@5: %.3f\n",
		len(r.Designs), r.TotalTrials, r.TotalPassed, r.PassAt1, r.PassAt5)

	if len(r.Models) > 0 {
		fmt.Fprintf(&b, "\n%-40s %7s %8s %8s\n", "model", "count", "avg_q", "max_q")
		for _, m := range r.Models {
			fmt.Fprintf(&b, "%-40s %7d %8.3f %8.3f\n", m.Model, m.Count, m.AvgQuality, m.MaxQuality)
		}
	}

	if len(r.Layers) > 0 {
		fmt.Fprintf(&b, "\n%7s %7s %8s %8s\n", "layer", "count", "avg_q", "max_q")
		for _, l := range r.Layers {
			fmt.Fprintf(&b, "%7d %7d %8.3f %8.3f\n", l.Layer, l.Count, l.AvgQuality, l.MaxQuality)
		}
	}
	return b.String()
}
