package report

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// ErrInvalidPayload is returned when an upload body does not match either
// supported results shape.
var ErrInvalidPayload = errors.New("invalid results payload")

// Payload is the body of a scan upload. Results is decoded lazily so the two
// supported shapes can be resolved in one place.
type Payload struct {
	Hostname  string          `json:"hostname"`
	OS        string          `json:"os"`
	Timestamp string          `json:"timestamp"`
	Results   json.RawMessage `json:"results"`
}

// Check is one benchmark rule evaluated by a scanner.
type Check struct {
	CISID       string              `json:"cis_id"`
	Title       string              `json:"title"`
	Status      string              `json:"status"`
	Remediation string              `json:"remediation"`
	Tags        map[string][]string `json:"tags,omitempty"`
}

// Failed reports whether the check result is a failure. Status matching is
// case-insensitive; anything other than "fail" counts as passing.
func (c Check) Failed() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), "fail")
}

// Kind discriminates the two supported results shapes.
type Kind int

const (
	// KindChecks is a raw per-rule check list that we score ourselves.
	KindChecks Kind = iota
	// KindPrescored carries counts and score computed by the scanner.
	KindPrescored
)

// Results is the resolved upload content. Checks is populated only for
// KindChecks; Passed/Failed/Score are valid for both kinds.
type Results struct {
	Kind      Kind
	Benchmark string
	Checks    []Check
	Passed    int
	Failed    int
	Score     float64
}

type rawResults struct {
	Benchmark    string   `json:"benchmark"`
	Checks       []Check  `json:"checks"`
	ScorePercent *float64 `json:"score_percent"`
	PassedCount  *int     `json:"passed_count"`
	FailedCount  *int     `json:"failed_count"`
}

// Parse resolves the results object into one of the two supported shapes.
// A checks list takes precedence; otherwise pre-aggregated counts are
// trusted as supplied. Anything else is ErrInvalidPayload.
func Parse(raw json.RawMessage) (*Results, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidPayload
	}

	var rr rawResults
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, ErrInvalidPayload
	}

	benchmark := strings.TrimSpace(rr.Benchmark)
	if benchmark == "" {
		benchmark = "CIS"
	}

	if rr.Checks != nil {
		failed := 0
		for _, c := range rr.Checks {
			if c.Failed() {
				failed++
			}
		}
		passed := len(rr.Checks) - failed
		return &Results{
			Kind:      KindChecks,
			Benchmark: benchmark,
			Checks:    rr.Checks,
			Passed:    passed,
			Failed:    failed,
			Score:     Score(passed, failed),
		}, nil
	}

	if rr.PassedCount != nil && rr.FailedCount != nil {
		if *rr.PassedCount < 0 || *rr.FailedCount < 0 {
			return nil, ErrInvalidPayload
		}
		res := &Results{
			Kind:      KindPrescored,
			Benchmark: benchmark,
			Passed:    *rr.PassedCount,
			Failed:    *rr.FailedCount,
		}
		if rr.ScorePercent != nil {
			res.Score = Round2(*rr.ScorePercent)
		} else {
			res.Score = Score(res.Passed, res.Failed)
		}
		return res, nil
	}

	return nil, ErrInvalidPayload
}

// Score computes the percentage of passing checks rounded to two decimals.
// A run with no evaluated checks scores 0.
func Score(passed, failed int) float64 {
	total := passed + failed
	if total <= 0 {
		return 0
	}
	return Round2(float64(passed) / float64(total) * 100)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
