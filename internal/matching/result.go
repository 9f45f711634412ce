package matching

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/similarity"
)

// Role tells which side of the match an item belongs to.
type Role string

const (
	RoleJob       Role = "job"
	RoleCandidate Role = "candidate"
)

// Item is a caller-supplied record to embed.
type Item struct {
	Ref  string `json:"ref" yaml:"ref"`
	Text string `json:"text" yaml:"text"`
}

// Failure describes an item that could not be embedded.
type Failure struct {
	Ref      string         `json:"ref" yaml:"ref"`
	Role     Role           `json:"role" yaml:"role"`
	Kind     embedding.Kind `json:"kind" yaml:"kind"`
	Message  string         `json:"message" yaml:"message"`
	Attempts int            `json:"attempts" yaml:"attempts"`
}

type Stats struct {
	Jobs               int           `json:"jobs" yaml:"jobs"`
	Candidates         int           `json:"candidates" yaml:"candidates"`
	ResolvedJobs       int           `json:"resolved_jobs" yaml:"resolved_jobs"`
	ResolvedCandidates int           `json:"resolved_candidates" yaml:"resolved_candidates"`
	Failed             int           `json:"failed" yaml:"failed"`
	CacheHits          int           `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses        int           `json:"cache_misses" yaml:"cache_misses"`
	Duration           time.Duration `json:"duration" yaml:"duration"`
}

// Result is the outcome of one matching run.
type Result struct {
	RunID     string            `json:"run_id" yaml:"run_id"`
	BackendID string            `json:"backend_id" yaml:"backend_id"`
	Metric    similarity.Metric `json:"metric" yaml:"metric"`
	Mode      similarity.Mode   `json:"mode" yaml:"mode"`
	Matches   []similarity.Pair `json:"matches" yaml:"matches"`
	Failures  []Failure         `json:"failures" yaml:"failures"`
	Stats     Stats             `json:"stats" yaml:"stats"`
}

// FailureReport maps failed refs to their error kind. When a ref failed on
// both sides the keys are prefixed with the role, as in "job:<ref>".
func (r *Result) FailureReport() map[string]embedding.Kind {
	roles := make(map[string]map[Role]bool)
	for _, f := range r.Failures {
		if roles[f.Ref] == nil {
			roles[f.Ref] = make(map[Role]bool)
		}
		roles[f.Ref][f.Role] = true
	}

	report := make(map[string]embedding.Kind, len(r.Failures))
	for _, f := range r.Failures {
		key := f.Ref
		if len(roles[f.Ref]) > 1 {
			key = string(f.Role) + ":" + f.Ref
		}
		if _, ok := report[key]; !ok {
			report[key] = f.Kind
		}
	}
	return report
}

// ByJob groups matches per job ref keeping their order.
func (r *Result) ByJob() map[string][]similarity.Pair {
	grouped := make(map[string][]similarity.Pair)
	for _, p := range r.Matches {
		grouped[p.JobRef] = append(grouped[p.JobRef], p)
	}
	return grouped
}

// Write encodes the result as "json" or "yaml".
func (r *Result) Write(w io.Writer, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// DumpToTmpFile writes the result as JSON into a new temporary file and returns its name.
func (r *Result) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "matches_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := r.Write(file, "json"); err != nil {
		return "", err
	}
	return file.Name(), nil
}
