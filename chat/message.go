package chat

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/onnwee/bookclub-live/backend/sched"
)

// Origin tells genuine participant messages apart from synthesized ones.
type Origin string

const (
	OriginUser        Origin = "user"
	OriginSynthesized Origin = "synthesized"
)

// Message is one chat line. Messages are never edited or deleted once appended.
type Message struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
	AvatarGlyph string    `json:"avatarGlyph"`
	AvatarColor string    `json:"avatarColor"`
	Origin      Origin    `json:"origin"`
	Host        bool      `json:"host,omitempty"`
}

// Palette holds the avatar background colors. Colors are cosmetic and drawn per message,
// so the same name can show up in different colors.
var Palette = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e",
	"#14b8a6", "#3b82f6", "#8b5cf6", "#ec4899",
}

// AvatarGlyph returns the upper-cased first character of name, or "?" when name is blank.
func AvatarGlyph(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r))
}

func newMessage(rnd sched.Rand, displayName, body string, origin Origin, host bool) Message {
	return Message{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Body:        body,
		AvatarGlyph: AvatarGlyph(displayName),
		AvatarColor: Palette[rnd.Intn(len(Palette))],
		Origin:      origin,
		Host:        host,
	}
}
