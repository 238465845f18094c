package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompileSchema compiles a raw JSON Schema document into a Schema that
// ValidateArguments can check tool-call arguments against. This is a
// supplemented feature beyond a bare name→Tool lookup: tools that declare
// a schema get their arguments checked before Execute ever sees them.
func CompileSchema(raw json.RawMessage) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tools: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema: %w", err)
	}
	return &Schema{Raw: raw, compiled: compiled}, nil
}

// ValidateArguments validates args against s. A nil Schema always passes.
func ValidateArguments(s *Schema, args json.RawMessage) error {
	if s == nil || s.compiled == nil {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tools: decode arguments: %w", err)
	}
	if err := s.compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tools: arguments failed schema validation: %w", err)
	}
	return nil
}
