package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/store"
)

// journalSession runs eval against a fresh journal and returns its path
// and the recorded session ID.
func journalSession(t *testing.T, args ...string) (string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "forms.db")
	full := append([]string{"--format", "json", "eval", "testdata/invoice.yaml", "--db", db}, args...)
	out, err := execute(t, full...)
	require.NoError(t, err)

	var result EvalResult
	decodeResponse(t, out, &result)
	require.NotEmpty(t, result.SessionID)
	return db, result.SessionID
}

func TestReplay_Deterministic(t *testing.T) {
	db, session := journalSession(t, "--set", "subtotal=200", "--submit")

	out, err := execute(t, "replay", "testdata/invoice.yaml", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 session(s)")
	assert.Contains(t, out, session)
	assert.Contains(t, out, "✓ All sessions verified deterministic")
}

func TestReplay_JSON(t *testing.T) {
	db, session := journalSession(t, "--set", "subtotal=80", "--submit")

	out, err := execute(t, "--format", "json", "replay", "testdata/invoice.yaml", "--db", db, "--session", session)
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.AllDeterministic)
	require.Len(t, result.Sessions, 1)

	sr := result.Sessions[0]
	assert.Equal(t, session, sr.SessionID)
	assert.True(t, sr.Deterministic)
	assert.NotEmpty(t, sr.FinalHash)
	require.Len(t, sr.Submissions, 1)
	assert.True(t, sr.Submissions[0].Match)
}

func TestReplay_ConfigMismatch(t *testing.T) {
	db, _ := journalSession(t, "--set", "subtotal=200")

	out, err := execute(t, "replay", "testdata/signup.yaml",
		"--functions", "testdata/signup.functions.yaml", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "recorded against a different configuration")
	assert.Contains(t, out, "✗ Determinism verification failed")
}

func TestReplay_UnknownSession(t *testing.T) {
	db, _ := journalSession(t)

	_, err := execute(t, "replay", "testdata/invoice.yaml", "--db", db, "--session", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestReplay_EmptyJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "replay", "testdata/invoice.yaml", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found in journal.")
}

func TestReplay_MissingJournal(t *testing.T) {
	_, err := execute(t, "replay", "testdata/invoice.yaml", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal not found")
}

func TestReplay_RequiresDB(t *testing.T) {
	_, err := execute(t, "replay", "testdata/invoice.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db"`)
}
