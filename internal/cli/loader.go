package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/harness"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// Error code constants - unified across all CLI commands. Configuration
// problems use the compiler's E2xx codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeLoadFailed  = "E004" // Config or functions file could not be decoded
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeJournal     = "E008" // Journal could not be opened or read
	ErrCodeInvalidArgs = "E009" // Malformed flag value
)

// LoadError represents an error that occurred while loading a form.
type LoadError struct {
	Code    string
	Message string
	Line    int
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Code, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadedForm is a decoded configuration and the registry its custom
// functions resolve against.
type LoadedForm struct {
	Path     string
	Config   *ir.FormConfig
	Registry *registry.Registry
}

// functionsFile is the document read by --functions: the same function
// declarations scenario files use.
type functionsFile struct {
	Functions []harness.FunctionSpec `yaml:"functions"`
}

// LoadForm reads a configuration file and, when functionsPath is set, the
// custom functions it references.
func LoadForm(path, functionsPath string) (*LoadedForm, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}

	cfg, err := compiler.LoadFile(path)
	if err != nil {
		le := &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
		var ce *compiler.CompileError
		if errors.As(err, &ce) && ce.Pos.IsValid() {
			le.Line = ce.Pos.Line()
		}
		return nil, le
	}

	reg := registry.New()
	if functionsPath != "" {
		reg, err = loadFunctions(functionsPath)
		if err != nil {
			return nil, err
		}
	}
	return &LoadedForm{Path: path, Config: cfg, Registry: reg}, nil
}

func loadFunctions(path string) (*registry.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("functions file not found: %s", path)}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f functionsFile
	if err := dec.Decode(&f); err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("decode functions: %v", err)}
	}
	reg, err := harness.BuildRegistry(f.Functions)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("functions: %v", err)}
	}
	return reg, nil
}

// Compile compiles the loaded configuration.
func (f *LoadedForm) Compile() (*compiler.Plan, error) {
	return compiler.Compile(f.Config, f.Registry)
}

// loadErrorCode returns the code and message of a LoadForm failure.
func loadErrorCode(err error) (string, string) {
	var le *LoadError
	if errors.As(err, &le) {
		if le.Line > 0 {
			return le.Code, fmt.Sprintf("line %d: %s", le.Line, le.Message)
		}
		return le.Code, le.Message
	}
	return ErrCodeGeneric, err.Error()
}

// compileFailure renders a compile error as its first configuration
// problem.
func compileFailure(err error) (string, string) {
	var ce *compiler.ConfigError
	if errors.As(err, &ce) && len(ce.Errors) > 0 {
		first := ce.Errors[0]
		return first.Code, fmt.Sprintf("%s: %s", first.Field, first.Message)
	}
	return ErrCodeGeneric, err.Error()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
