package types

// Action is a proposed agent action as submitted for review.
type Action struct {
	Text    string         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}
