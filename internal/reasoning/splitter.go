// Package reasoning separates a model's scratch "thought" block from the
// answer that is shown to the user.
package reasoning

import (
	"strings"
	"unicode"
)

// ThinkClose closes a DeepSeek/Qwen style reasoning block.
const ThinkClose = "</think>"

// Split is the result of separating raw output.
type Split struct {
	// Thought holds everything up to and including the last closing marker,
	// trimmed. Nil when no marker was found.
	Thought *string
	Answer  string
}

// SplitThought splits raw at the last ThinkClose marker.
func SplitThought(raw string) Split { return SplitAt(raw, ThinkClose) }

// SplitAt splits raw at the last occurrence of marker. Text between an
// earlier marker and the last one stays in the thought. Without a marker
// the answer is raw unchanged.
func SplitAt(raw, marker string) Split {
	if marker == "" {
		return Split{Answer: raw}
	}
	p := strings.LastIndex(raw, marker)
	if p < 0 {
		return Split{Answer: raw}
	}
	end := p + len(marker)
	thought := strings.TrimSpace(raw[:end])
	return Split{
		Thought: &thought,
		Answer:  strings.TrimLeftFunc(raw[end:], unicode.IsSpace),
	}
}

// HasThought reports whether a thought block was found.
func (s Split) HasThought() bool { return s.Thought != nil }
