package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/fieldlogic/internal/ir"
)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession writes a session with minimal required fields.
func createTestSession(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.WriteSession(context.Background(), ir.Session{
		ID:         id,
		ConfigHash: "test-hash",
		Initial:    map[string]any{"quantity": float64(2)},
	})
	if err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}
}
