package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

// ValidateInput checks a tool input document against the tool's JSON schema.
// Tools without a schema accept anything.
func ValidateInput(schema tool.Schema, input json.RawMessage) error {
	if len(schema.InputSchema) == 0 {
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema.InputSchema),
		gojsonschema.NewBytesLoader(input),
	)
	if err != nil {
		return fmt.Errorf("validate %s input: %w", schema.Name, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid input for %s: %s", schema.Name, strings.Join(problems, "; "))
}
