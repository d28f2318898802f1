package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/ir"
)

// ===== Open =====

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"user_version": "1",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestOpenExisting(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenExisting(filepath.Join(dir, "missing.db"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(filepath.Join(dir, "missing.db"))
	assert.True(t, os.IsNotExist(statErr), "missing journal must not be created")

	_, err = OpenExisting(dir)
	assert.ErrorContains(t, err, "is a directory")

	path := filepath.Join(dir, "forms.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenExisting(path)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

// ===== Sessions =====

func TestSession_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WriteSession(ctx, ir.Session{
		ID:         "sess-1",
		ConfigHash: "abc",
		Initial:    map[string]any{"quantity": 2, "name": "x"},
		External:   map[string]any{"rate": 1.1},
	})
	require.NoError(t, err)

	got, err := s.ReadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ConfigHash)
	assert.Equal(t, map[string]any{"quantity": float64(2), "name": "x"}, got.Initial)
	assert.Equal(t, map[string]any{"rate": 1.1}, got.External)
}

func TestSession_DuplicateIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteSession(ctx, ir.Session{ID: "sess-1", ConfigHash: "first"}))
	require.NoError(t, s.WriteSession(ctx, ir.Session{ID: "sess-1", ConfigHash: "second"}))

	got, err := s.ReadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.ConfigHash)
}

func TestSession_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessions_Sorted(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "b")
	createTestSession(t, s, "a")

	ids, err := s.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

// ===== Changes =====

func TestChanges_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")

	require.NoError(t, s.WriteChange(ctx, "sess-1", ir.Change{Seq: 3, Op: ir.OpRemoveItem, Path: "contacts", Index: 1}))
	require.NoError(t, s.WriteChange(ctx, "sess-1", ir.Change{Seq: 1, Op: ir.OpSetValue, Path: "quantity", Value: 3}))
	require.NoError(t, s.WriteChange(ctx, "sess-1", ir.Change{Seq: 2, Op: ir.OpSetExternal, Key: "rate", Value: 1.2}))

	changes, err := s.ReadChanges(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.Equal(t, ir.Change{Seq: 1, Op: ir.OpSetValue, Path: "quantity", Value: float64(3)}, changes[0])
	assert.Equal(t, ir.Change{Seq: 2, Op: ir.OpSetExternal, Key: "rate", Value: 1.2}, changes[1])
	assert.Equal(t, ir.Change{Seq: 3, Op: ir.OpRemoveItem, Path: "contacts", Index: 1}, changes[2])
}

func TestChanges_DuplicateSeqIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")

	require.NoError(t, s.WriteChange(ctx, "sess-1", ir.Change{Seq: 1, Op: ir.OpSetValue, Path: "a", Value: "x"}))
	require.NoError(t, s.WriteChange(ctx, "sess-1", ir.Change{Seq: 1, Op: ir.OpSetValue, Path: "a", Value: "y"}))

	changes, err := s.ReadChanges(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "x", changes[0].Value)
}

func TestChanges_RequireSession(t *testing.T) {
	s := createTestStore(t)

	err := s.WriteChange(context.Background(), "missing", ir.Change{Seq: 1, Op: ir.OpReset})
	assert.Error(t, err)
}

func TestChanges_EmptySession(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1")

	changes, err := s.ReadChanges(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, changes)
	assert.Empty(t, changes)
}

// ===== Submissions and diagnostics =====

func TestSubmissions_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")

	sub := ir.Submission{
		ID:        "sub-1",
		Seq:       7,
		Valid:     false,
		ValueHash: "h",
		Value:     map[string]any{"email": "bad"},
		Errors:    map[string][]string{"email": {"email"}},
	}
	require.NoError(t, s.WriteSubmission(ctx, "sess-1", sub))

	subs, err := s.ReadSubmissions(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub, subs[0])
}

func TestDiagnostics_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")

	d := ir.Diagnostic{Seq: 4, Code: "NON_CONVERGENT", FieldPath: "a", EntryID: "a#0", Message: "did not settle"}
	require.NoError(t, s.WriteDiagnostic(ctx, "sess-1", d))

	diags, err := s.ReadDiagnostics(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []ir.Diagnostic{d}, diags)
}
