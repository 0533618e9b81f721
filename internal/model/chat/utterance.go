package chat

import "context"

// Action is an interactive element attached to an utterance.
type Action struct {
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload"`
	Label   string            `json:"label"`
}

// Utterance is one message surfaced to the UI.
type Utterance struct {
	Author  string   `json:"author,omitempty"`
	Content string   `json:"content"`
	Actions []Action `json:"actions,omitempty"`
}

// Emitter delivers utterances to whichever UI transport is serving the thread.
type Emitter interface {
	Emit(ctx context.Context, u Utterance) error
}

// DeltaEmitter is implemented by emitters that can render streamed text.
type DeltaEmitter interface {
	Emitter
	EmitDelta(ctx context.Context, text string) error
}

// Collector buffers utterances in memory.
type Collector struct {
	Utterances []Utterance
}

func (c *Collector) Emit(_ context.Context, u Utterance) error {
	c.Utterances = append(c.Utterances, u)
	return nil
}

// Last returns the most recently collected utterance.
func (c *Collector) Last() (Utterance, bool) {
	if len(c.Utterances) == 0 {
		return Utterance{}, false
	}
	return c.Utterances[len(c.Utterances)-1], true
}
