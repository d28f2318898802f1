package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	s, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 20, s.Engine.MaxIterations)
	assert.Equal(t, 1e-9, s.Engine.Epsilon)
	assert.Equal(t, 10*time.Second, s.Validation.AsyncTimeout)
	assert.Equal(t, 10.0, s.Validation.HTTPRate)
	assert.Equal(t, 5, s.Validation.HTTPBurst)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "text", s.Log.Format)
	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Empty(t, s.Journal.Path)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  max_iterations: 50
validation:
  async_timeout: 2s
log:
  format: json
journal:
  path: forms.db
`), 0644))

	s, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, 50, s.Engine.MaxIterations)
	assert.Equal(t, 2*time.Second, s.Validation.AsyncTimeout)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, "forms.db", s.Journal.Path)
	assert.Equal(t, ":8080", s.Server.Addr, "unset keys keep defaults")
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fieldlogic.yaml"), []byte("server:\n  addr: \":9999\"\n"), 0644))
	chdir(t, dir)

	s, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", s.Server.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FIELDLOGIC_ENGINE_MAX_ITERATIONS", "7")
	t.Setenv("FIELDLOGIC_LOG_LEVEL", "debug")
	t.Setenv("FIELDLOGIC_VALIDATION_ASYNC_TIMEOUT", "250ms")

	s, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7, s.Engine.MaxIterations)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, 250*time.Millisecond, s.Validation.AsyncTimeout)
}

func TestLoad_MissingNamedFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read settings")
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		return Settings{
			Engine:     EngineSettings{MaxIterations: 20},
			Validation: ValidationSettings{AsyncTimeout: time.Second},
			Log:        LogSettings{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"zero iterations", func(s *Settings) { s.Engine.MaxIterations = 0 }, "max_iterations"},
		{"negative epsilon", func(s *Settings) { s.Engine.Epsilon = -1 }, "epsilon"},
		{"negative timeout", func(s *Settings) { s.Validation.AsyncTimeout = -time.Second }, "async_timeout"},
		{"negative rate", func(s *Settings) { s.Validation.HTTPRate = -1 }, "http_rate"},
		{"bad level", func(s *Settings) { s.Log.Level = "loud" }, "log.level"},
		{"bad format", func(s *Settings) { s.Log.Format = "xml" }, "log.format"},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	s := Settings{Log: LogSettings{Level: "warn", Format: "json"}}

	logger := s.Logger(&buf, false)
	logger.Info("hidden")
	logger.Warn("shown", "field", "email")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"field":"email"`)

	buf.Reset()
	s.Logger(&buf, true).Debug("verbose")
	assert.Contains(t, buf.String(), "verbose")
}

func TestEngineOptions(t *testing.T) {
	s := Settings{Engine: EngineSettings{MaxIterations: 3, Epsilon: 1e-6}}
	assert.Len(t, s.EngineOptions(), 4)
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir on Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
