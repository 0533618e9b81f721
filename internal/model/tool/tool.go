package tool

import "encoding/json"

// Schema describes one callable tool.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Catalog is the ordered tool list offered to the model for a session.
type Catalog []Schema

// Find looks up a tool by name.
func (c Catalog) Find(name string) (Schema, bool) {
	for _, s := range c {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// Names lists tool names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}
