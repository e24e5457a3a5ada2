package perf

import (
	"fmt"
	"strings"
	"time"
)

// Constraints is the fixed validation set with configurable thresholds.
type Constraints struct {
	// MaxLatency is the ceiling on a single operation's duration
	MaxLatency time.Duration `json:"max_latency_ns"`

	// MinThroughput is the floor on operations per second.  Zero disables
	// the check, for idle systems.
	MinThroughput float64 `json:"min_throughput"`

	// MaxErrorPPM is the ceiling on error rate in parts per million
	MaxErrorPPM float64 `json:"max_error_ppm"`
}

// ConstraintResult is the outcome of one constraint check.
type ConstraintResult struct {
	Name      string  `json:"name"`
	Pass      bool    `json:"pass"`
	Measured  float64 `json:"measured"`
	Threshold float64 `json:"threshold"`
}

// Report carries every constraint outcome plus the overall verdict.
type Report struct {
	Pass        bool               `json:"pass"`
	Constraints []ConstraintResult `json:"constraints"`
}

// Validate checks the current metrics against the constraints.  The
// slice-budget constraint is not configurable: the acceptable violation
// count is always zero.
func (m *Monitor) Validate(c Constraints) Report {
	mt := m.Metrics()
	results := []ConstraintResult{
		{
			Name:      "max_latency",
			Pass:      c.MaxLatency <= 0 || mt.MaxLatency <= c.MaxLatency,
			Measured:  float64(mt.MaxLatency),
			Threshold: float64(c.MaxLatency),
		},
		{
			Name:      "zero_slice_violations",
			Pass:      mt.Violations == 0,
			Measured:  float64(mt.Violations),
			Threshold: 0,
		},
		{
			Name:      "min_throughput",
			Pass:      c.MinThroughput <= 0 || mt.OpsPerSec >= c.MinThroughput,
			Measured:  mt.OpsPerSec,
			Threshold: c.MinThroughput,
		},
		{
			Name:      "max_error_ppm",
			Pass:      mt.ErrorPPM <= c.MaxErrorPPM,
			Measured:  mt.ErrorPPM,
			Threshold: c.MaxErrorPPM,
		},
	}
	rep := Report{Pass: true, Constraints: results}
	for _, r := range results {
		if !r.Pass {
			rep.Pass = false
		}
	}
	return rep
}

// Summary renders a report as text for the console.
func (r Report) Summary() string {
	var b strings.Builder
	for _, c := range r.Constraints {
		verdict := "PASS"
		if !c.Pass {
			verdict = "FAIL"
		}
		fmt.Fprintf(&b, "  %-22s %s (measured %.3f, threshold %.3f)\n", c.Name, verdict, c.Measured, c.Threshold)
	}
	if r.Pass {
		b.WriteString("all constraints met\n")
	} else {
		b.WriteString("CONSTRAINTS VIOLATED\n")
	}
	return b.String()
}
