package model

// Violation is one schema failure: a JSON field path and the reason it failed.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}
