package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "testdata/scenarios"

func TestTest_Filter(t *testing.T) {
	out, err := execute(t, "test", scenarioDir, "--filter", "invoice")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ invoice_totals")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_Failure(t *testing.T) {
	out, err := execute(t, "test", scenarioDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ invoice_totals")
	assert.Contains(t, out, "✗ wrong_tax")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTest_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", scenarioDir)
	require.Error(t, err)

	var result TestResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Failed)

	for _, sr := range result.Scenarios {
		if sr.Name == "wrong_tax" {
			assert.False(t, sr.Pass)
			assert.NotEmpty(t, sr.Errors)
		}
	}
}

func TestTest_SingleFile(t *testing.T) {
	out, err := execute(t, "test", filepath.Join(scenarioDir, "invoice.scenario.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed")
}

func TestTest_NoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	out, err = execute(t, "test", scenarioDir, "--filter", "zzz*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTest_CommandErrors(t *testing.T) {
	_, err := execute(t, "test", "testdata/nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "test", scenarioDir, "--update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--update requires --golden")

	_, err = execute(t, "test", scenarioDir, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

// ===== Golden snapshots =====

func TestTest_Golden(t *testing.T) {
	golden := t.TempDir()
	args := []string{"test", scenarioDir, "--filter", "invoice", "--golden", golden}

	_, err := execute(t, append(args, "--update")...)
	require.NoError(t, err)

	path := filepath.Join(golden, "invoice_totals.golden")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total":220`)

	out, err := execute(t, args...)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(path, []byte(`{"value":{}}`), 0644))
	out, err = execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestFilterScenarios(t *testing.T) {
	files := []string{
		"a/invoice.scenario.yaml",
		"b/items.scenario.yaml",
		"c/invoice_tax.scenario.yaml",
	}
	assert.Equal(t, files, filterScenarios(files, ""))
	assert.Equal(t, []string{"a/invoice.scenario.yaml", "c/invoice_tax.scenario.yaml"}, filterScenarios(files, "invoice*"))
	assert.Empty(t, filterScenarios(files, "nope"))
}
