package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldlogic/internal/ir"
)

// LoadJSON decodes a JSON configuration. Unknown keys are rejected so that
// misspelled logic fields do not silently disappear.
func LoadJSON(data []byte) (*ir.FormConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg ir.FormConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode json config: %w", err)
	}
	return &cfg, nil
}

// LoadYAML decodes a YAML configuration.
func LoadYAML(data []byte) (*ir.FormConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg ir.FormConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}
	return &cfg, nil
}

// LoadCUE evaluates a CUE configuration. The form is read from a top-level
// `form` field when present, otherwise from the whole file. The value must
// be concrete.
func LoadCUE(data []byte, filename string) (*ir.FormConfig, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	if form := v.LookupPath(cue.ParsePath("form")); form.Exists() {
		v = form
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	fields := v.LookupPath(cue.ParsePath("fields"))
	if !fields.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: "fields is required",
			Pos:     v.Pos(),
		}
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return LoadJSON(raw)
}

// LoadFile reads a configuration, choosing the decoder by file extension:
// .json, .yaml/.yml or .cue.
func LoadFile(path string) (*ir.FormConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".cue":
		return LoadCUE(data, path)
	}
	return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
}
