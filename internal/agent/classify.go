package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/agent-relay/internal/domain"
)

// Rule maps diagnostic text to an error kind. Message is a format string
// receiving the CLI command name as %[1]s.
//
// These are heuristics over text the CLI does not promise to keep stable,
// so anything unmatched stays ErrorKindProcess with the raw text.
type Rule struct {
	Kind    domain.ErrorKind
	Pattern *regexp.Regexp
	Message string
}

// DefaultRules are checked in order; the first match wins.
var DefaultRules = []Rule{
	{
		Kind:    domain.ErrorKindSessionConflict,
		Pattern: regexp.MustCompile(`(?i)headless|nested session|inside (another|an active) .*session`),
		Message: "Cannot run %[1]s in headless mode from within an active agent session. Exit the current session and retry from a regular terminal.",
	},
	{
		Kind:    domain.ErrorKindAuth,
		Pattern: regexp.MustCompile(`(?i)invalid api key|not logged in|authentication[ _](failed|error)|oauth token (has )?expired`),
		Message: "Invalid API key. Please run '%[1]s login' in your terminal to authenticate.",
	},
}

// Classify returns the kind and user-facing text for a failure diagnostic.
func Classify(rules []Rule, command, text string) (domain.ErrorKind, string) {
	text = strings.TrimSpace(text)
	for _, rule := range rules {
		if rule.Pattern.MatchString(text) {
			return rule.Kind, fmt.Sprintf(rule.Message, command)
		}
	}
	return domain.ErrorKindProcess, text
}
