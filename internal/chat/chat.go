// Package chat renders role-tagged conversation histories into ChatML prompts.
package chat

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Role identifies the author of a turn.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps the lowercase wire token to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	if r < RoleSystem || r > RoleAssistant {
		return nil, fmt.Errorf("cannot marshal %s", r)
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Message is a single immutable turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an ordered conversation; order is turn order.
type History []Message

// Prompt is a rendered, model-ready prompt string.
type Prompt string

// ChatML turn markers.
const (
	TurnStart = "<|im_start|>"
	TurnEnd   = "<|im_end|>"
)

// GenerationCue is appended after the last turn and marks where the
// assistant reply begins.
const GenerationCue = TurnStart + "assistant\n"

// Format renders history as ChatML followed by the assistant cue. Content is
// passed through verbatim.
func Format(history History) Prompt {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(TurnStart)
		b.WriteString(m.Role.String())
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString(TurnEnd)
		b.WriteByte('\n')
	}
	b.WriteString(GenerationCue)
	return Prompt(b.String())
}

// Cued reports whether the prompt ends with the assistant generation cue.
func (p Prompt) Cued() bool { return strings.HasSuffix(string(p), GenerationCue) }

func (p Prompt) String() string { return string(p) }
