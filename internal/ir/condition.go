package ir

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConditionType enumerates the Condition union variants.
type ConditionType string

const (
	ConditionFieldValue     ConditionType = "fieldValue"
	ConditionJavascript     ConditionType = "javascript"
	ConditionAnd            ConditionType = "and"
	ConditionOr             ConditionType = "or"
	ConditionTrue           ConditionType = "true"
	ConditionFalse          ConditionType = "false"
	ConditionCustom         ConditionType = "custom"
	ConditionFormInvalid    ConditionType = "formInvalid"
	ConditionFormSubmitting ConditionType = "formSubmitting"
	ConditionPageInvalid    ConditionType = "pageInvalid"
)

// IsFormState reports whether the variant reads aggregate form state. These
// are only legal on button fields.
func (t ConditionType) IsFormState() bool {
	switch t {
	case ConditionFormInvalid, ConditionFormSubmitting, ConditionPageInvalid:
		return true
	}
	return false
}

// Operator is a fieldValue comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpGreater        Operator = "greater"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLess           Operator = "less"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpContains       Operator = "contains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpMatches        Operator = "matches"
)

// ValidOperators lists every supported operator.
var ValidOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreater: true, OpGreaterOrEqual: true,
	OpLess: true, OpLessOrEqual: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpMatches: true,
}

// Condition is a boolean-valued tree gating a logic entry or validator.
//
// In configuration a bare boolean literal is accepted in place of an object
// and decodes to a ConditionTrue or ConditionFalse node.
type Condition struct {
	Type         ConditionType `json:"type" yaml:"type"`
	FieldPath    string        `json:"fieldPath,omitempty" yaml:"fieldPath,omitempty"`
	Operator     Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value        any           `json:"value,omitempty" yaml:"value,omitempty"`
	Expression   string        `json:"expression,omitempty" yaml:"expression,omitempty"`
	FunctionName string        `json:"functionName,omitempty" yaml:"functionName,omitempty"`
	Conditions   []Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Always returns a literal condition.
func Always(b bool) *Condition {
	if b {
		return &Condition{Type: ConditionTrue}
	}
	return &Condition{Type: ConditionFalse}
}

// conditionFields avoids recursion into the custom unmarshalers.
type conditionFields Condition

// UnmarshalJSON accepts either a condition object or a boolean literal.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*c = *Always(b)
		return nil
	}
	var f conditionFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	*c = Condition(f)
	return nil
}

// UnmarshalYAML accepts either a condition mapping or a boolean scalar.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("condition: line %d: expected boolean or mapping", node.Line)
		}
		*c = *Always(b)
		return nil
	}
	var f conditionFields
	if err := node.Decode(&f); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	*c = Condition(f)
	return nil
}

// Walk visits c and every nested condition depth-first.
func (c *Condition) Walk(fn func(*Condition)) {
	if c == nil {
		return
	}
	fn(c)
	for i := range c.Conditions {
		c.Conditions[i].Walk(fn)
	}
}
