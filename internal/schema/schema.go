// Package schema checks stage outputs against JSON Schemas generated from
// the domain output structs.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"proact/internal/domain"
)

// Validator implements domain.Validator with huma's schema registry. It is
// safe for concurrent use once built.
type Validator struct {
	registry huma.Registry
	schemas  map[domain.ComponentType]*huma.Schema
}

// New registers a schema for every stage output.
func New() *Validator {
	registry := huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	v := &Validator{registry: registry, schemas: map[domain.ComponentType]*huma.Schema{}}
	for _, t := range domain.AllComponentTypes() {
		empty, err := domain.EmptyOutput(t)
		if err != nil {
			panic(err)
		}
		v.schemas[t] = registry.Schema(reflect.TypeOf(empty), true, "")
	}
	return v
}

// Registry exposes the registry so the API can publish the schemas.
func (v *Validator) Registry() huma.Registry { return v.registry }

// Schema returns the resolved schema for a stage.
func (v *Validator) Schema(t domain.ComponentType) (*huma.Schema, bool) {
	s, ok := v.schemas[t]
	if !ok {
		return nil, false
	}
	if s.Ref != "" {
		return v.registry.SchemaFromRef(s.Ref), true
	}
	return s, true
}

func (v *Validator) ValidateOutput(t domain.ComponentType, out domain.Output) error {
	data, err := domain.EncodeOutput(out)
	if err != nil {
		return &domain.ValidationError{Component: t, Rule: domain.RuleSchema, Message: err.Error()}
	}
	return v.ValidateJSON(t, data)
}

// ValidateJSON checks a raw payload before it is decoded, so clients get
// field paths for every problem at once.
func (v *Validator) ValidateJSON(t domain.ComponentType, raw []byte) error {
	s, ok := v.schemas[t]
	if !ok {
		return fmt.Errorf("%s: %w", t, domain.ErrComponentNotFound)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &domain.ValidationError{Component: t, Rule: domain.RuleSchema, Message: "invalid JSON: " + err.Error()}
	}
	res := &huma.ValidateResult{}
	huma.Validate(v.registry, s, huma.NewPathBuffer([]byte{}, 0), huma.ModeWriteToServer, value, res)
	if len(res.Errors) == 0 {
		return nil
	}
	return toValidationError(t, res.Errors)
}

func toValidationError(t domain.ComponentType, errs []error) error {
	msgs := make([]string, 0, len(errs))
	field := ""
	for _, e := range errs {
		if d, ok := e.(*huma.ErrorDetail); ok {
			if field == "" {
				field = d.Location
			}
			if d.Location != "" {
				msgs = append(msgs, d.Location+": "+d.Message)
				continue
			}
			msgs = append(msgs, d.Message)
			continue
		}
		msgs = append(msgs, e.Error())
	}
	return &domain.ValidationError{Component: t, Rule: domain.RuleSchema, Field: field, Message: strings.Join(msgs, "; ")}
}
