// Package command parses inbound mesh text into structured query commands.
// The grammar is a single keyword followed by a free-form location; anything
// else is not a command and is silently ignored by the caller.
package command

import (
	"regexp"
	"strings"
)

// Kind is a recognized command category.
type Kind string

const (
	KindAccidents Kind = "accidents"
	KindEvents    Kind = "events"
	KindAlerts    Kind = "alerts"
	KindWeather   Kind = "weather"
)

// Command is a parsed query request. Immutable once created.
type Command struct {
	Kind     Kind
	Location string
}

// commandPattern matches "<kind> <location>" with optional surrounding
// whitespace. The location captures everything up to trailing whitespace.
var commandPattern = regexp.MustCompile(`(?i)^\s*(accidents|events|alerts|weather)\s+(.+?)\s*$`)

// interstatePattern matches interstate references like "i10", "I10", "i-17",
// "I-101". An embedded space ("i 17") deliberately does not match.
var interstatePattern = regexp.MustCompile(`\b[Ii]-?(\d{1,3})\b`)

// Parse matches text against the command grammar. The second return value is
// false when the text is not a command; Parse never fails on any input.
func Parse(text string) (Command, bool) {
	m := commandPattern.FindStringSubmatch(text)
	if m == nil {
		return Command{}, false
	}

	return Command{
		Kind:     Kind(strings.ToLower(m[1])),
		Location: NormalizeInterstate(m[2]),
	}, true
}

// NormalizeInterstate rewrites interstate highway references to the
// canonical "I-<number>" form (I10, i-10, i10 all become I-10). Applying it
// to an already-normalized string is a no-op; non-interstate text passes
// through unchanged.
func NormalizeInterstate(location string) string {
	return interstatePattern.ReplaceAllString(location, "I-$1")
}

// ParseKind validates a bare kind keyword, used by the one-shot CLI surface.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(s)) {
	case KindAccidents, KindEvents, KindAlerts, KindWeather:
		return Kind(strings.ToLower(s)), true
	}
	return "", false
}
