package matching

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/similarity"
)

func sampleResult() *Result {
	return &Result{
		RunID:     "run-1",
		BackendID: "local:hash/8",
		Metric:    similarity.MetricCosine,
		Mode:      similarity.ModePerJob,
		Matches: []similarity.Pair{
			{JobRef: "j1", CandidateRef: "c1", Score: 0.9, Rank: 1},
			{JobRef: "j2", CandidateRef: "c1", Score: 0.8, Rank: 1},
			{JobRef: "j1", CandidateRef: "c2", Score: 0.7, Rank: 2},
		},
		Failures: []Failure{
			{Ref: "x", Role: RoleJob, Kind: embedding.KindInvalidInput, Attempts: 1},
			{Ref: "x", Role: RoleCandidate, Kind: embedding.KindBackendUnavailable, Attempts: 3},
			{Ref: "y", Role: RoleCandidate, Kind: embedding.KindBackendConfig, Attempts: 1},
		},
	}
}

func TestFailureReportPrefixesSharedRefs(t *testing.T) {
	assert.Equal(t, map[string]embedding.Kind{
		"job:x":       embedding.KindInvalidInput,
		"candidate:x": embedding.KindBackendUnavailable,
		"y":           embedding.KindBackendConfig,
	}, sampleResult().FailureReport())
}

func TestByJobKeepsOrder(t *testing.T) {
	grouped := sampleResult().ByJob()
	require.Len(t, grouped["j1"], 2)
	assert.Equal(t, "c1", grouped["j1"][0].CandidateRef)
	assert.Equal(t, "c2", grouped["j1"][1].CandidateRef)
	assert.Len(t, grouped["j2"], 1)
}

func TestWriteFormats(t *testing.T) {
	r := sampleResult()

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Len(t, decoded["matches"], 3)

	buf.Reset()
	require.NoError(t, r.Write(&buf, "yaml"))
	decoded = nil
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "local:hash/8", decoded["backend_id"])

	assert.Error(t, r.Write(&buf, "xml"))
}

func TestDumpToTmpFile(t *testing.T) {
	name, err := sampleResult().DumpToTmpFile()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(name) })

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"candidate_ref": "c2"`)
}
