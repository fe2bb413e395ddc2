// Package synth produces simulated audience comments for a live book-club session.
//
// A Client turns the discussion context (topic, book title, the host's latest words)
// into a single prompt, sends it to a generative-text Backend, and parses the reply
// into at most ten {name, message} comments. Parsing never fails outward: anything
// unreadable resolves to a fixed fallback list. Only an upstream failure is reported,
// as ErrGenerationFailed, and callers are expected to drop the attempt.
package synth

import (
	"fmt"
	"strings"
)

// MaxComments is the number of comments requested per call and the cap on parsed results.
const MaxComments = 10

// Context is the discussion state a batch of comments reacts to. At least one field must be set.
type Context struct {
	Topic         string
	BookTitle     string
	AuthorMessage string
}

// Empty reports whether no usable field is set.
func (c Context) Empty() bool {
	return strings.TrimSpace(c.Topic) == "" &&
		strings.TrimSpace(c.BookTitle) == "" &&
		strings.TrimSpace(c.AuthorMessage) == ""
}

const promptInstructions = `
Write exactly 10 short live-chat comments from different viewers watching this session.
- Each viewer has a realistic first name or casual username.
- Keep every message under 120 characters; mix questions, reactions and small insights.
- React to what was just said when it is given, otherwise to the book and topic.
- Do not number the comments and do not add commentary.

Respond with a JSON array only, in this exact shape:
[{"name": "Maya", "message": "That opening chapter still gives me chills"}]
`

// BuildPrompt renders the prompt for c. It returns ErrValidation when c is empty.
func BuildPrompt(c Context) (string, error) {
	if c.Empty() {
		return "", ErrValidation
	}
	var b strings.Builder
	b.WriteString("You are simulating the audience chat of a live book club video session.\n\n")
	if v := strings.TrimSpace(c.BookTitle); v != "" {
		fmt.Fprintf(&b, "Book being discussed: %q\n", v)
	}
	if v := strings.TrimSpace(c.Topic); v != "" {
		fmt.Fprintf(&b, "Discussion topic: %s\n", v)
	}
	if v := strings.TrimSpace(c.AuthorMessage); v != "" {
		fmt.Fprintf(&b, "The author just said: %q\n", v)
	}
	b.WriteString(promptInstructions)
	return b.String(), nil
}
