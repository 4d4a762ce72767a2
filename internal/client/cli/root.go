package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
)

func (a *App) getStatus() string {
	a.mu.Lock()
	parts := []string{}
	if a.userName != "" {
		parts = append(parts, a.userName)
	}
	if a.mode != "" {
		parts = append(parts, string(a.mode))
	}
	a.mu.Unlock()

	if a.session != nil {
		if st := a.session.Status(); st != models.StatusAnonymous {
			parts = append(parts, st.String())
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("(%s)", strings.Join(parts, " "))
}

func (a *App) prompt() string {
	return fmt.Sprintf("ds %s> ", a.getStatus())
}

// navStatus is the status the guard sees; an expired session with a stored
// refresh token is renewed first.
func (a *App) navStatus(ctx context.Context) models.SessionStatus {
	a.resume(ctx)
	return a.session.Status()
}

// Root runs the REPL on stdin.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.writer(), "Welcome to donorsync CLI (type 'help' for commands)")
	runREPL(ctx, a.commands(), a.policy,
		func() models.SessionStatus { return a.navStatus(ctx) },
		a.prompt, a.reader)
}
