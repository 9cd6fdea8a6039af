// Package command interprets the admin command language used to inspect and
// edit user documents:
//
//	/Roza.<action>.<type>[.<field...>][.any] <params...>
//
// A trailing "any" segment switches targets to bot:group:user triples where
// "%" or an empty part matches everything.
package command

import (
	"strings"

	"github.com/easeaico/roza/internal/storage"
)

// DefaultPrefix introduces every command.
const DefaultPrefix = "/Roza."

const (
	anySegment     = "any"
	allTarget      = "all"
	wildcardTarget = "%:%:%"
	wildcard       = "%"
)

// Actions.
const (
	ActionGet   = "get"
	ActionSet   = "set"
	ActionClear = "clear"
	ActionRank  = "rank"
)

// Command is a parsed command line.
type Command struct {
	Action   string
	Type     string
	Field    string
	Wildcard bool
	Params   []string
}

// Label is "action.type", or the bare action when the type is missing.
func (c Command) Label() string {
	if c.Type == "" {
		return c.Action
	}
	return c.Action + "." + c.Type
}

// IsCommand reports whether input starts with prefix after trimming.
func IsCommand(prefix, input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), prefix)
}

// Parse splits input into a Command. ok is false when input is not a command.
// Missing params default to "%:%:%" in wildcard mode and "all" otherwise.
func Parse(prefix, input string) (Command, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, prefix) {
		return Command{}, false
	}
	tokens := strings.Fields(trimmed)
	segments := strings.Split(strings.TrimPrefix(tokens[0], prefix), ".")
	if len(segments) < 2 {
		return Command{}, false
	}

	cmd := Command{Action: segments[0], Type: segments[1], Params: tokens[1:]}
	rest := segments[2:]
	if n := len(rest); n > 0 && rest[n-1] == anySegment {
		cmd.Wildcard = true
		rest = rest[:n-1]
	}
	cmd.Field = strings.Join(rest, ".")

	if len(cmd.Params) == 0 {
		if cmd.Wildcard {
			cmd.Params = []string{wildcardTarget}
		} else {
			cmd.Params = []string{allTarget}
		}
	}
	return cmd, true
}

// WildcardFilter turns "bot:group:user" into a filter. Missing, empty or "%"
// parts do not constrain.
func WildcardFilter(target string) storage.Filter {
	parts := strings.Split(target, ":")
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	part := func(s string) string {
		if s == wildcard {
			return ""
		}
		return s
	}
	return storage.Filter{BotID: part(parts[0]), GroupID: part(parts[1]), UserID: part(parts[2])}
}
