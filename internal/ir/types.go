package ir

// Kind tags a FieldNode as a container, a button, static text, or a
// value-bearing leaf. Unknown kinds are treated as value-bearing leaves so
// that rendering layers can introduce new widgets without engine changes.
type Kind string

const (
	KindGroup Kind = "group"
	KindRow   Kind = "row"
	KindArray Kind = "array"
	KindPage  Kind = "page"

	KindButton   Kind = "button"
	KindSubmit   Kind = "submit"
	KindNext     Kind = "next"
	KindPrevious Kind = "previous"

	KindText  Kind = "text"
	KindInput Kind = "input"
)

// IsContainer reports whether the kind groups child fields.
func (k Kind) IsContainer() bool {
	switch k {
	case KindGroup, KindRow, KindArray, KindPage:
		return true
	}
	return false
}

// IsTransparent reports whether the container contributes its children
// directly to the enclosing value scope (row, page) instead of nesting them.
func (k Kind) IsTransparent() bool {
	return k == KindRow || k == KindPage
}

// IsButton reports whether the kind is an action button.
func (k Kind) IsButton() bool {
	switch k {
	case KindButton, KindSubmit, KindNext, KindPrevious:
		return true
	}
	return false
}

// HasValue reports whether a field of this kind owns a slot in the form value.
func (k Kind) HasValue() bool {
	return !k.IsContainer() && !k.IsButton() && k != KindText
}

// LogicType enumerates the logic entry variants.
type LogicType string

const (
	LogicHidden             LogicType = "hidden"
	LogicDisabled           LogicType = "disabled"
	LogicReadonly           LogicType = "readonly"
	LogicRequired           LogicType = "required"
	LogicDerivation         LogicType = "derivation"
	LogicPropertyDerivation LogicType = "propertyDerivation"
)

// IsBoolean reports whether the logic type produces a boolean field state.
func (t LogicType) IsBoolean() bool {
	switch t {
	case LogicHidden, LogicDisabled, LogicReadonly, LogicRequired:
		return true
	}
	return false
}

// BooleanLogicTypes lists the state-producing logic types in a stable order.
var BooleanLogicTypes = []LogicType{LogicHidden, LogicDisabled, LogicReadonly, LogicRequired}

// TriggerMode selects when an entry runs after its dependencies change.
type TriggerMode string

const (
	TriggerOnChange  TriggerMode = "onChange"
	TriggerDebounced TriggerMode = "debounced"
)

// FormConfig is the declarative input of the engine.
type FormConfig struct {
	Fields                    []FieldNode       `json:"fields" yaml:"fields"`
	Schemas                   []SchemaDef       `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	DefaultValidationMessages map[string]string `json:"defaultValidationMessages,omitempty" yaml:"defaultValidationMessages,omitempty"`
}

// FieldNode is one node of the configuration tree.
//
// The shorthand flags (Required, Hidden, ...) seed the base field state; logic
// entries of the matching type OR into it at runtime. The validator shorthands
// (Email, Min, Max, ...) expand into ValidatorSpecs at compile time.
type FieldNode struct {
	Key      string      `json:"key" yaml:"key"`
	Kind     Kind        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Label    string      `json:"label,omitempty" yaml:"label,omitempty"`
	Value    any         `json:"value,omitempty" yaml:"value,omitempty"`
	Children []FieldNode `json:"children,omitempty" yaml:"children,omitempty"`

	Logic      []LogicEntry        `json:"logic,omitempty" yaml:"logic,omitempty"`
	Validators []ValidatorSpec     `json:"validators,omitempty" yaml:"validators,omitempty"`
	Schemas    []SchemaApplication `json:"schemas,omitempty" yaml:"schemas,omitempty"`

	Hidden   bool `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Readonly bool `json:"readonly,omitempty" yaml:"readonly,omitempty"`
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	Email     bool     `json:"email,omitempty" yaml:"email,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	Props              map[string]any    `json:"props,omitempty" yaml:"props,omitempty"`
	ValidationMessages map[string]string `json:"validationMessages,omitempty" yaml:"validationMessages,omitempty"`
}

// EffectiveKind returns the node kind, defaulting to a plain input.
func (n FieldNode) EffectiveKind() Kind {
	if n.Kind == "" {
		return KindInput
	}
	return n.Kind
}

// LogicEntry is a declarative rule attached to a field.
//
// Exactly one of StaticValue, Expression, or FunctionName is the source.
// Boolean entries may omit the source and use Condition alone. A nil
// StaticValue is indistinguishable from an absent one.
type LogicEntry struct {
	Type           LogicType   `json:"type" yaml:"type"`
	StaticValue    any         `json:"staticValue,omitempty" yaml:"staticValue,omitempty"`
	Expression     string      `json:"expression,omitempty" yaml:"expression,omitempty"`
	FunctionName   string      `json:"functionName,omitempty" yaml:"functionName,omitempty"`
	Condition      *Condition  `json:"condition,omitempty" yaml:"condition,omitempty"`
	DependsOn      []string    `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Trigger        TriggerMode `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	DebounceMs     int         `json:"debounceMs,omitempty" yaml:"debounceMs,omitempty"`
	TargetProperty string      `json:"targetProperty,omitempty" yaml:"targetProperty,omitempty"`
}

// SourceCount returns how many of the three source fields are set.
func (e LogicEntry) SourceCount() int {
	n := 0
	if e.StaticValue != nil {
		n++
	}
	if e.Expression != "" {
		n++
	}
	if e.FunctionName != "" {
		n++
	}
	return n
}

// EffectiveTrigger returns the trigger mode, defaulting to onChange.
func (e LogicEntry) EffectiveTrigger() TriggerMode {
	if e.Trigger == "" {
		return TriggerOnChange
	}
	return e.Trigger
}

// ValidatorType enumerates validator variants.
type ValidatorType string

const (
	ValidatorRequired  ValidatorType = "required"
	ValidatorEmail     ValidatorType = "email"
	ValidatorMin       ValidatorType = "min"
	ValidatorMax       ValidatorType = "max"
	ValidatorMinLength ValidatorType = "minLength"
	ValidatorMaxLength ValidatorType = "maxLength"
	ValidatorPattern   ValidatorType = "pattern"
	ValidatorCustom    ValidatorType = "custom"
	ValidatorAsync     ValidatorType = "async"
	ValidatorHTTP      ValidatorType = "http"
)

// IsAsync reports whether validators of this type run as cancellable tasks.
func (t ValidatorType) IsAsync() bool {
	return t == ValidatorAsync || t == ValidatorHTTP
}

// ValidatorSpec describes one validator attached to a field or schema.
//
// Custom validators use either Expression (valid when truthy) or
// FunctionName. Kind overrides the error kind reported on failure.
type ValidatorSpec struct {
	Type         ValidatorType `json:"type" yaml:"type"`
	Value        any           `json:"value,omitempty" yaml:"value,omitempty"`
	Expression   string        `json:"expression,omitempty" yaml:"expression,omitempty"`
	FunctionName string        `json:"functionName,omitempty" yaml:"functionName,omitempty"`
	Kind         string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	When         *Condition    `json:"when,omitempty" yaml:"when,omitempty"`
	DependsOn    []string      `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	HTTP         *HTTPRequest  `json:"http,omitempty" yaml:"http,omitempty"`
}

// ErrorKind returns the kind reported when the validator fails.
func (v ValidatorSpec) ErrorKind() string {
	if v.Kind != "" {
		return v.Kind
	}
	if v.FunctionName != "" {
		return v.FunctionName
	}
	return string(v.Type)
}

// HTTPRequest configures an http validator. The field value is sent as the
// query parameter Param (GET) or as a JSON body (POST).
type HTTPRequest struct {
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Param  string `json:"param,omitempty" yaml:"param,omitempty"`
}

// SchemaDef is a named, reusable bundle of validators.
type SchemaDef struct {
	Name       string          `json:"name" yaml:"name"`
	Validators []ValidatorSpec `json:"validators" yaml:"validators"`
}

// SchemaApplicationType selects unconditional or guarded application.
type SchemaApplicationType string

const (
	SchemaApply     SchemaApplicationType = "apply"
	SchemaApplyWhen SchemaApplicationType = "applyWhen"
)

// SchemaApplication attaches a named schema to a field.
type SchemaApplication struct {
	Type      SchemaApplicationType `json:"type" yaml:"type"`
	Schema    string                `json:"schema" yaml:"schema"`
	Condition *Condition            `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// EvaluationContext is the snapshot handed to expressions and functions.
//
// FormValue is scope-relative: inside an array item it is the item object.
// RootFormValue is always the whole form.
type EvaluationContext struct {
	FormValue     map[string]any
	RootFormValue map[string]any
	FieldValue    any
	FieldPath     string
	ExternalData  map[string]any
}

// ValidationOutcome is a validation failure. Message text is resolved
// separately from Kind.
type ValidationOutcome struct {
	Kind            string `json:"kind" yaml:"kind"`
	TargetFieldPath string `json:"targetFieldPath" yaml:"targetFieldPath"`
}
