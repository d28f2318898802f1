package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", "testdata/invoice.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "testdata/invoice.yaml")
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
}

func TestValidate_UnregisteredFunction(t *testing.T) {
	out, err := execute(t, "validate", "testdata/unregistered.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E202")
	assert.Contains(t, out, "checkCode")
}

func TestValidate_UnregisteredFunctionJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "testdata/unregistered.yaml")
	require.Error(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E202", resp.Error.Code)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidate_WithFunctions(t *testing.T) {
	out, err := execute(t, "validate", "testdata/signup.yaml", "--functions", "testdata/signup.functions.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid")

	_, err = execute(t, "validate", "testdata/signup.yaml")
	require.Error(t, err, "async validator is unresolved without --functions")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidate_MissingFile(t *testing.T) {
	out, err := execute(t, "validate", "testdata/does-not-exist.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidate_Malformed(t *testing.T) {
	_, err := execute(t, "validate", "testdata/malformed.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeLoadFailed)
}

func TestValidate_MissingFunctionsFile(t *testing.T) {
	_, err := execute(t, "validate", "testdata/signup.yaml", "--functions", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "functions file not found")
}
