package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/donorsync/internal/client/guard"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

var errUsage = errors.New("usage")

// command is one REPL verb. screen is the navigation path the guard checks
// before run; commands without a screen are always available.
type command struct {
	name   string
	alias  string
	usage  string
	screen string
	run    func(ctx context.Context, args []string) error
}

func usageError(c string) error {
	return fmt.Errorf("%w: %s", errUsage, c)
}

// runREPL reads commands from reader until EOF, "exit" or "quit".
//
// Each line's first token selects a command; the rest are its arguments.
// Before a command runs, the guard decides whether its screen is reachable in
// the current session status; a redirect is reported instead of running it.
// Command errors are printed and the loop continues.
func runREPL(ctx context.Context, cmds []command, policy guard.Policy, status func() models.SessionStatus, prompt func() string, reader *bufio.Reader) {
	byName := make(map[string]command, len(cmds))
	for _, c := range cmds {
		byName[c.name] = c
		if c.alias != "" {
			byName[c.alias] = c
		}
	}

	for {
		printlnFn(prompt())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "help":
			printlnFn(helpText(cmds, policy, status()))
			continue
		}

		c, ok := byName[name]
		if !ok {
			printlnFn("Unknown command:", name)
			continue
		}

		if c.screen != "" {
			if d := policy.Decide(status(), c.screen); d.Action == guard.Redirect {
				printlnFn(redirectMessage(policy, d))
				continue
			}
		}

		if err := c.run(ctx, args); err != nil {
			printlnFn(describe(err))
		}
	}
}

func helpText(cmds []command, policy guard.Policy, st models.SessionStatus) string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, c := range cmds {
		if c.screen != "" && policy.Decide(st, c.screen).Action != guard.Allow {
			continue
		}
		b.WriteString("\n  " + c.name)
		if c.usage != "" {
			b.WriteString(" " + c.usage)
		}
	}
	b.WriteString("\n  help\n  exit")
	return b.String()
}

func redirectMessage(policy guard.Policy, d guard.Decision) string {
	if d.Target == policy.SignInPath {
		return "Please login first"
	}
	return "Already logged in, see 'dashboard'"
}
