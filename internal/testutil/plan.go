package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/registry"
)

// MustPlan loads a YAML form configuration and compiles it, failing the
// test on any error. reg may be nil.
func MustPlan(t testing.TB, src string, reg *registry.Registry) *compiler.Plan {
	t.Helper()
	cfg, err := compiler.LoadYAML([]byte(src))
	require.NoError(t, err)
	if reg == nil {
		reg = registry.New()
	}
	plan, err := compiler.Compile(cfg, reg)
	require.NoError(t, err)
	return plan
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
