// Package prompts holds the system prompt given to the model for every session.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// System is the built-in system prompt.
const System = `You are a helpful assistant that works with the user's GitHub account.
When a request needs data from GitHub or should change something there, call one of the
available tools instead of guessing. Summarise tool results briefly and plainly. If no
tools are available, tell the user to connect GitHub first.`

// Set is the collection of prompts in use.
type Set struct {
	System string `yaml:"system"`
}

// Default returns the built-in prompts.
func Default() Set {
	return Set{System: System}
}

// Load reads an override file. An empty path yields the defaults; fields
// missing from the file keep their default value.
func Load(path string) (Set, error) {
	set := Default()
	if path == "" {
		return set, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompts file: %w", err)
	}

	var override Set
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Set{}, fmt.Errorf("parse prompts file: %w", err)
	}
	if s := strings.TrimSpace(override.System); s != "" {
		set.System = s
	}
	return set, nil
}
