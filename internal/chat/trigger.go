package chat

import (
	"strings"
)

// TriggerMarker is the reserved mention token that requests an AI generation.
// Matching is case-sensitive and the marker must end the content or be
// followed by whitespace, so "@groceries" does not trigger.
const TriggerMarker = "@gro"

// Trigger is a detected AI-generation request.
type Trigger struct {
	// Goal is the message content with the marker token removed and
	// trimmed. A bare marker yields an empty goal.
	Goal string
}

// DetectTrigger inspects message content for the trigger marker. Detection
// is read-only; the stored and delivered chat message keeps the marker.
func DetectTrigger(content string) (Trigger, bool) {
	from := 0
	for {
		i := strings.Index(content[from:], TriggerMarker)
		if i < 0 {
			return Trigger{}, false
		}
		i += from
		end := i + len(TriggerMarker)
		if end == len(content) || isSpace(content[end]) {
			left := strings.TrimRight(content[:i], " \t\n\r")
			right := strings.TrimLeft(content[end:], " \t\n\r")
			return Trigger{Goal: strings.TrimSpace(left + " " + right)}, true
		}
		from = end
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
