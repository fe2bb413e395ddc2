package synth

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Comment is one simulated audience comment.
type Comment struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

var (
	fencedBlock  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	bracketArray = regexp.MustCompile(`(?s)\[.*\]`)

	errNoComments = errors.New("no usable comments in response")
)

// ParseComments extracts comments from a model reply. It looks for a fenced code block
// first, then for the first bracket-delimited array, and finally tries the whole text.
// The result holds at most MaxComments entries; entries missing a name or message are dropped.
func ParseComments(text string) ([]Comment, error) {
	candidate := text
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	} else if m := bracketArray.FindString(text); m != "" {
		candidate = m
	}

	var raw []Comment
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &raw); err != nil {
		return nil, err
	}
	out := make([]Comment, 0, min(len(raw), MaxComments))
	for _, c := range raw {
		c.Name = strings.TrimSpace(c.Name)
		c.Message = strings.TrimSpace(c.Message)
		if c.Name == "" || c.Message == "" {
			continue
		}
		out = append(out, c)
		if len(out) == MaxComments {
			break
		}
	}
	if len(out) == 0 {
		return nil, errNoComments
	}
	return out, nil
}

// Parse is ParseComments with the failure path resolved to Fallback.
func Parse(text string) []Comment {
	comments, err := ParseComments(text)
	if err != nil {
		return Fallback()
	}
	return comments
}

var fallbackComments = [MaxComments]Comment{
	{Name: "Maya", Message: "This discussion is exactly what I needed tonight"},
	{Name: "BookwormBen", Message: "Totally agree, that chapter changed how I saw the whole story"},
	{Name: "Priya", Message: "Anyone else reading along with a highlighter? 📚"},
	{Name: "Tom_R", Message: "The way the author explains the characters is so good"},
	{Name: "Lena", Message: "Joining late, what chapter are we on?"},
	{Name: "Carlos", Message: "That ending still has me thinking days later"},
	{Name: "readwithjess", Message: "Adding this to my club's list for next month"},
	{Name: "Omar", Message: "Great question, I was wondering the same thing"},
	{Name: "Hannah", Message: "Love hearing the story behind the story ❤️"},
	{Name: "Sam", Message: "Can't wait for the next session!"},
}

// Fallback returns a fresh copy of the fixed ten-comment list used when a reply cannot be parsed.
func Fallback() []Comment {
	out := make([]Comment, len(fallbackComments))
	copy(out, fallbackComments[:])
	return out
}
