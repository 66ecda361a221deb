// Package command turns free-text review replies into structured commands.
package command

// Kind identifies the intent of a parsed command.
type Kind string

const (
	KindSelect       Kind = "select"
	KindModify       Kind = "modify"
	KindRegenerate   Kind = "regenerate"
	KindSkip         Kind = "skip"
	KindDiscuss      Kind = "discuss"
	KindUnrecognized Kind = "unrecognized"
)

// Command is the parsed intent of one reply. Exactly one Kind applies;
// the payload fields are populated per kind and empty otherwise.
type Command struct {
	Kind         Kind   `json:"kind"`
	Index        int    `json:"index,omitempty"`        // select, modify (1-based)
	Instructions string `json:"instructions,omitempty"` // modify
	Brief        string `json:"brief,omitempty"`        // regenerate, may be empty
	Message      string `json:"message,omitempty"`      // discuss
	Raw          string `json:"raw,omitempty"`          // unrecognized
}

// Select builds a selection command for a 1-based candidate index.
func Select(index int) Command {
	return Command{Kind: KindSelect, Index: index}
}

// Modify builds a revision command for a candidate.
func Modify(index int, instructions string) Command {
	return Command{Kind: KindModify, Index: index, Instructions: instructions}
}

// Regenerate builds a regeneration command. An empty brief means no new
// constraints.
func Regenerate(brief string) Command {
	return Command{Kind: KindRegenerate, Brief: brief}
}

// Skip builds a skip command.
func Skip() Command {
	return Command{Kind: KindSkip}
}

// Discuss builds a discussion command carrying the reply body.
func Discuss(message string) Command {
	return Command{Kind: KindDiscuss, Message: message}
}

// Unrecognized builds the catch-all command preserving the raw input.
func Unrecognized(raw string) Command {
	return Command{Kind: KindUnrecognized, Raw: raw}
}
