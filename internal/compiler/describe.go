package compiler

import "github.com/roach88/fieldlogic/internal/ir"

// PlanDescription is the inspectable form of a Plan, printed by
// `fieldlogic compile`.
type PlanDescription struct {
	Hash    string             `json:"hash"`
	Fields  []FieldDescription `json:"fields"`
	Entries []EntryDescription `json:"entries"`
	Pairs   []Pair             `json:"pairs,omitempty"`
	Schemas []string           `json:"schemas,omitempty"`
}

// FieldDescription summarizes one field template.
type FieldDescription struct {
	Path          string   `json:"path"`
	Kind          ir.Kind  `json:"kind"`
	Scope         string   `json:"scope,omitempty"`
	Validators    []string `json:"validators,omitempty"`
	Schemas       []string `json:"schemas,omitempty"`
	ValidatorDeps []string `json:"validatorDeps,omitempty"`
}

// EntryDescription summarizes one logic entry.
type EntryDescription struct {
	ID         string         `json:"id"`
	Type       ir.LogicType   `json:"type"`
	Source     SourceKind     `json:"source"`
	Conditional bool          `json:"conditional,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
	Trigger    ir.TriggerMode `json:"trigger"`
	DebounceMs int            `json:"debounceMs,omitempty"`
	Target     string         `json:"targetProperty,omitempty"`
	Order      *int           `json:"order,omitempty"`
}

// Describe builds the inspectable description of the plan.
func (p *Plan) Describe() PlanDescription {
	d := PlanDescription{Hash: p.Hash, Pairs: p.Pairs}
	for _, ft := range p.Fields {
		fd := FieldDescription{Path: ft.Path, Kind: ft.Kind, Scope: ft.Scope}
		for _, v := range ft.Validators {
			fd.Validators = append(fd.Validators, v.Kind)
		}
		for _, s := range ft.Schemas {
			fd.Schemas = append(fd.Schemas, string(s.Type)+":"+s.Schema.Name)
		}
		fd.ValidatorDeps = depStrings(ft.ValidatorDeps)
		d.Fields = append(d.Fields, fd)
	}
	for _, e := range p.Entries {
		ed := EntryDescription{
			ID:         e.ID,
			Type:       e.Type,
			Source:     e.Source,
			Conditional: e.Condition != nil,
			DependsOn:  depStrings(e.Deps),
			Trigger:    e.Spec.EffectiveTrigger(),
			DebounceMs: e.Spec.DebounceMs,
		}
		if len(e.Target) > 0 {
			ed.Target = ir.JoinPath(e.Target...)
		}
		if e.Order >= 0 {
			order := e.Order
			ed.Order = &order
		}
		d.Entries = append(d.Entries, ed)
	}
	for _, def := range p.Config.Schemas {
		d.Schemas = append(d.Schemas, def.Name)
	}
	return d
}

func depStrings(deps []Dep) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.String()
	}
	return out
}
