package tui

import (
	"strconv"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

var commandAliases = map[string]string{
	"q":     "quit",
	"exit":  "quit",
	"h":     "help",
	"s":     "search",
	"start": "new",
	"open":  "new",
	"ls":    "refresh",
}

// ParseCommand parses a command string (without the leading ':') and
// resolves aliases to their canonical name.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if canonical, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = canonical
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Fields splits the arguments on whitespace.
func (c Command) Fields() []string {
	return strings.Fields(c.Args)
}

// threadIndex parses a "#n" or "n" thread label. Anything else is treated
// as a message id by the caller.
func threadIndex(arg string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
