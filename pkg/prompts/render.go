// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prompts

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/hermes/pkg/types"
)

// jsonSchema converts a VariableSpec into a JSON Schema document.
func (s VariableSpec) jsonSchema() map[string]any {
	schema := map[string]any{}
	if s.Type != "" {
		schema["type"] = s.Type
	}
	if s.Pattern != "" {
		schema["pattern"] = s.Pattern
	}
	if len(s.Enum) > 0 {
		schema["enum"] = s.Enum
	}
	return schema
}

// validateVariableSpecs checks that every declared variable compiles to a
// usable JSON Schema. Called on create and update so bad declarations are
// rejected at the edge rather than at render time.
func validateVariableSpecs(vars map[string]VariableSpec) error {
	for name, spec := range vars {
		if name == "" {
			return types.Invalidf("variable with empty name")
		}
		doc := spec.jsonSchema()
		if len(doc) == 0 {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc)); err != nil {
			return types.Invalidf("variable %q has invalid schema: %v", name, err)
		}
	}
	return nil
}

// validateVariableValue validates one supplied value against the
// variable's schema.
func validateVariableValue(name string, spec VariableSpec, value any) error {
	doc := spec.jsonSchema()
	if len(doc) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(doc), gojsonschema.NewGoLoader(value))
	if err != nil {
		return types.Invalidf("variable %q: schema validation failed: %v", name, err)
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			details[i] = verr.String()
		}
		return types.Invalidf("variable %q: %s", name, strings.Join(details, "; "))
	}
	return nil
}

// Render substitutes {{name}} placeholders in the prompt's content with
// the supplied values. Values are validated against the declared variable
// schemas; required variables must be present, optional ones fall back to
// their declared default.
func Render(p *Prompt, values map[string]any) (string, error) {
	if p == nil {
		return "", types.Invalidf("nil prompt")
	}

	resolved := make(map[string]any, len(p.Variables))
	for name, spec := range p.Variables {
		value, ok := values[name]
		if !ok {
			if spec.Required {
				return "", types.Invalidf("missing required variable %q", name)
			}
			if spec.Default == nil {
				continue
			}
			value = spec.Default
		}
		if err := validateVariableValue(name, spec, value); err != nil {
			return "", err
		}
		resolved[name] = value
	}

	for name := range values {
		if _, declared := p.Variables[name]; !declared {
			return "", types.Invalidf("unknown variable %q", name)
		}
	}

	content := p.Content
	for name, value := range resolved {
		content = strings.ReplaceAll(content, "{{"+name+"}}", fmt.Sprintf("%v", value))
	}
	return content, nil
}
