package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// Configuration error codes (E200-E299)
const (
	ErrContainerLogic      = "E201" // logic type other than hidden on a container
	ErrUnknownFunction     = "E202" // functionName not in the registry
	ErrIllegalCycle        = "E203" // dependency cycle that is not a bidirectional pair
	ErrPropertyTarget      = "E204" // missing or too deep targetProperty
	ErrInvalidExpression   = "E205" // expression rejected by the sandbox
	ErrInvalidKey          = "E206" // invalid or duplicate key, or malformed tree
	ErrUnknownSchema       = "E207" // schema reference or application is invalid
	ErrInvalidSource       = "E208" // unknown logic type or wrong number of sources
	ErrInvalidCondition    = "E209" // condition failed to compile
	ErrFormStateCondition  = "E210" // form-state predicate outside a button
	ErrInvalidTrigger      = "E211" // unknown trigger or missing debounceMs
	ErrDerivationNoValue   = "E212" // derivation on a field without a value
	ErrConflictingDerivers = "E213" // two unconditional derivations on one field
	ErrInvalidValidator    = "E214" // validator failed to compile
)

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ConfigError is returned by Compile when the configuration is rejected.
// It carries every problem found, in tree order.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "invalid configuration"
	case 1:
		return "invalid configuration: " + e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid configuration: %d errors:\n  %s", len(e.Errors), strings.Join(msgs, "\n  "))
}

// IsConfigError reports whether err is a rejected configuration.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// HasCode reports whether err is a ConfigError containing code.
func HasCode(err error, code string) bool {
	var ce *ConfigError
	if !errors.As(err, &ce) {
		return false
	}
	for _, ve := range ce.Errors {
		if ve.Code == code {
			return true
		}
	}
	return false
}

// Validate checks a configuration against reg and returns all problems found
// (does not fail fast). An empty result means Compile will succeed.
func Validate(cfg *ir.FormConfig, reg *registry.Registry) []ValidationError {
	_, err := Compile(cfg, reg)
	if err == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Errors
	}
	return []ValidationError{{Field: "config", Message: err.Error(), Code: ErrInvalidKey}}
}
