package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/ir"
)

const invoiceJSON = `{
  "fields": [
    {"key": "quantity", "value": 2},
    {"key": "unitPrice", "value": 50},
    {"key": "subtotal", "logic": [{"type": "derivation", "expression": "formValue.quantity * formValue.unitPrice"}]},
    {"key": "notes", "logic": [{"type": "hidden", "condition": {"type": "fieldValue", "fieldPath": "quantity", "operator": "less", "value": 1}}]},
    {"key": "gift", "logic": [{"type": "disabled", "condition": true}]}
  ]
}`

const invoiceYAML = `
fields:
  - key: quantity
    value: 2
  - key: unitPrice
    value: 50
  - key: subtotal
    logic:
      - type: derivation
        expression: formValue.quantity * formValue.unitPrice
  - key: notes
    logic:
      - type: hidden
        condition:
          type: fieldValue
          fieldPath: quantity
          operator: less
          value: 1
  - key: gift
    logic:
      - type: disabled
        condition: true
`

const invoiceCUE = `
#Input: {key: string, kind: *"input" | string, ...}

form: fields: [
	#Input & {key: "quantity", value: 2},
	#Input & {key: "unitPrice", value: 50},
	#Input & {key: "subtotal", logic: [{type: "derivation", expression: "formValue.quantity * formValue.unitPrice"}]},
	#Input & {key: "notes", logic: [{type: "hidden", condition: {type: "fieldValue", fieldPath: "quantity", operator: "less", value: 1}}]},
	#Input & {key: "gift", logic: [{type: "disabled", condition: true}]},
]
`

func assertInvoice(t *testing.T, cfg *ir.FormConfig) {
	t.Helper()
	require.Len(t, cfg.Fields, 5)
	plan := mustCompilePlan(t, cfg, nil)

	qty, _ := plan.Field("quantity")
	assert.Equal(t, 2.0, qty.Default)

	notes, _ := plan.Field("notes")
	require.Len(t, notes.Entries, 1)
	assert.Equal(t, []Dep{{Kind: DepField, Path: "quantity"}}, notes.Entries[0].Deps)

	gift, _ := plan.Field("gift")
	require.Len(t, gift.Entries, 1)
	assert.True(t, gift.Entries[0].Unconditional())
}

// ===== Formats =====

func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON([]byte(invoiceJSON))
	require.NoError(t, err)
	assertInvoice(t, cfg)
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	_, err := LoadJSON([]byte(`{"fields": [{"key": "x", "logics": []}]}`))
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := LoadYAML([]byte(invoiceYAML))
	require.NoError(t, err)
	assertInvoice(t, cfg)
}

func TestLoadCUE(t *testing.T) {
	cfg, err := LoadCUE([]byte(invoiceCUE), "invoice.cue")
	require.NoError(t, err)
	assertInvoice(t, cfg)
	assert.Equal(t, ir.KindInput, cfg.Fields[0].Kind)
}

func TestLoadCUEReportsPosition(t *testing.T) {
	_, err := LoadCUE([]byte("form: fields: [\n\t{key: 1 & 2},\n]\n"), "broken.cue")
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, err.Error(), "broken.cue:2")
}

func TestLoadCUERequiresFields(t *testing.T) {
	_, err := LoadCUE([]byte(`form: schemas: []`), "empty.cue")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "fields", ce.Field)
}

func TestLoadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"invoice.json": invoiceJSON,
		"invoice.yaml": invoiceYAML,
		"invoice.yml":  invoiceYAML,
		"invoice.cue":  invoiceCUE,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		cfg, err := LoadFile(path)
		require.NoError(t, err, name)
		assertInvoice(t, cfg)
	}

	_, err := LoadFile(filepath.Join(dir, "invoice.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "form.txt")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestDescribeListsEntries(t *testing.T) {
	cfg, err := LoadJSON([]byte(invoiceJSON))
	require.NoError(t, err)
	plan := mustCompilePlan(t, cfg, nil)
	d := plan.Describe()

	require.Len(t, d.Entries, 3)
	assert.Equal(t, "subtotal#0", d.Entries[0].ID)
	assert.Equal(t, []string{"quantity", "unitPrice"}, d.Entries[0].DependsOn)
	require.NotNil(t, d.Entries[0].Order)
	assert.Equal(t, 0, *d.Entries[0].Order)
	assert.Nil(t, d.Entries[1].Order)
	assert.Equal(t, plan.Hash, d.Hash)
}
