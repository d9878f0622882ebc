package tool

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Param describes one argument of a tool.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // JSON Schema primitive type
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Validate implements validation.Validatable.
func (p Param) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Match(nameRe)),
		validation.Field(&p.Type,
			validation.Required,
			validation.In("string", "number", "integer", "boolean"),
		),
	)
}

// Spec is a typed tool declaration.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Validate checks the declaration once at startup.
func (s Spec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required, validation.Match(nameRe)),
		validation.Field(&s.Description, validation.Required),
		validation.Field(&s.Params, validation.Required, validation.By(uniqueParams)),
	)
}

func uniqueParams(value interface{}) error {
	params, _ := value.([]Param)
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// InputSchema renders the parameters as a JSON Schema object.
func (s Spec) InputSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Definition returns the declaration in wire-neutral form.
func (s Spec) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		InputSchema: s.InputSchema(),
	}
}

// Check reports every required parameter that is absent or empty in input.
// The returned error matches protocol.ErrMissingField.
func (s Spec) Check(input map[string]any) error {
	var errs []error
	for _, p := range s.Params {
		if !p.Required {
			continue
		}
		v, ok := input[p.Name]
		if !ok || v == nil {
			errs = append(errs, fmt.Errorf("%s: %q: %w", s.Name, p.Name, protocol.ErrMissingField))
			continue
		}
		if str, isStr := v.(string); isStr && str == "" {
			errs = append(errs, fmt.Errorf("%s: %q is empty: %w", s.Name, p.Name, protocol.ErrMissingField))
		}
	}
	return errors.Join(errs...)
}
