package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name   string
		passed int
		failed int
		want   float64
	}{
		{"all passing", 10, 0, 100},
		{"seven of ten", 7, 3, 70},
		{"one of three", 1, 2, 33.33},
		{"two of three", 2, 1, 66.67},
		{"all failing", 0, 4, 0},
		{"empty run", 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Score(tc.passed, tc.failed))
		})
	}
}

func TestParseChecksShape(t *testing.T) {
	raw := json.RawMessage(`{
		"benchmark": "CIS Ubuntu 20.04",
		"checks": [
			{"cis_id": "1.1.1", "title": "a", "status": "pass"},
			{"cis_id": "1.1.2", "title": "b", "status": "FAIL"},
			{"cis_id": "1.1.3", "title": "c", "status": "Pass"},
			{"cis_id": "1.1.4", "title": "d", "status": "fail"}
		]
	}`)

	res, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, KindChecks, res.Kind)
	require.Equal(t, "CIS Ubuntu 20.04", res.Benchmark)
	require.Len(t, res.Checks, 4)
	require.Equal(t, 2, res.Passed)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, 50.0, res.Score)
}

func TestParseEmptyChecksListScoresZero(t *testing.T) {
	res, err := Parse(json.RawMessage(`{"checks": []}`))
	require.NoError(t, err)
	require.Equal(t, KindChecks, res.Kind)
	require.Equal(t, "CIS", res.Benchmark)
	require.Zero(t, res.Passed)
	require.Zero(t, res.Failed)
	require.Zero(t, res.Score)
}

func TestParsePrescoredShape(t *testing.T) {
	raw := json.RawMessage(`{
		"benchmark": "CIS Windows 2016 L1",
		"score_percent": 81.25,
		"passed_count": 13,
		"failed_count": 3
	}`)

	res, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, KindPrescored, res.Kind)
	require.Equal(t, 13, res.Passed)
	require.Equal(t, 3, res.Failed)
	require.Equal(t, 81.25, res.Score)
	require.Nil(t, res.Checks)
}

func TestParsePrescoredDerivesMissingScore(t *testing.T) {
	res, err := Parse(json.RawMessage(`{"passed_count": 7, "failed_count": 3}`))
	require.NoError(t, err)
	require.Equal(t, 70.0, res.Score)
}

func TestParseRejectsMalformedResults(t *testing.T) {
	cases := map[string]json.RawMessage{
		"empty":           nil,
		"not json":        json.RawMessage(`not-json`),
		"no known shape":  json.RawMessage(`{"benchmark": "CIS"}`),
		"counts partial":  json.RawMessage(`{"passed_count": 5}`),
		"negative counts": json.RawMessage(`{"passed_count": -1, "failed_count": 2}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			require.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestCheckFailedIsCaseInsensitive(t *testing.T) {
	require.True(t, Check{Status: "FAIL"}.Failed())
	require.True(t, Check{Status: " fail "}.Failed())
	require.False(t, Check{Status: "pass"}.Failed())
	require.False(t, Check{Status: "skipped"}.Failed())
}
