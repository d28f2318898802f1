package harness

import (
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fieldlogic/internal/ir"
)

// Snapshot is the golden end state of a scenario.
type Snapshot struct {
	Scenario    string
	Value       map[string]any
	Errors      map[string][]string
	Hidden      []string
	Diagnostics []string
	Submissions []SubmissionSnapshot
}

// SubmissionSnapshot is the golden form of one submit.
type SubmissionSnapshot struct {
	ID    string
	Valid bool
}

// NewSnapshot extracts the golden end state from a result.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{
		Scenario: name,
		Value:    result.Value,
		Errors:   make(map[string][]string),
	}
	for path, fs := range result.Fields {
		if fs.Hidden {
			s.Hidden = append(s.Hidden, path)
		}
		for _, o := range fs.Errors {
			s.Errors[path] = append(s.Errors[path], o.Kind)
		}
	}
	sort.Strings(s.Hidden)
	for _, d := range result.Diagnostics {
		entry := string(d.Code)
		if d.FieldPath != "" {
			entry += " " + d.FieldPath
		}
		s.Diagnostics = append(s.Diagnostics, entry)
	}
	for _, sub := range result.Submissions {
		s.Submissions = append(s.Submissions, SubmissionSnapshot{ID: sub.ID, Valid: sub.Valid})
	}
	return s
}

// toCanonicalMap converts a Snapshot to a map for canonical JSON.
// ir.MarshalCanonical only handles JSON-shaped values.
func (s *Snapshot) toCanonicalMap() map[string]any {
	errs := make(map[string]any, len(s.Errors))
	for path, kinds := range s.Errors {
		errs[path] = toAnySlice(kinds)
	}
	subs := make([]any, len(s.Submissions))
	for i, sub := range s.Submissions {
		subs[i] = map[string]any{"id": sub.ID, "valid": sub.Valid}
	}
	return map[string]any{
		"scenario":    s.Scenario,
		"value":       s.Value,
		"errors":      errs,
		"hidden":      toAnySlice(s.Hidden),
		"diagnostics": toAnySlice(s.Diagnostics),
		"submissions": subs,
	}
}

// Canonical encodes the snapshot as canonical JSON, the golden file format.
func (s *Snapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// RunWithGolden executes a scenario and compares its end state against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the end state doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
