package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/common"
	"github.com/dmitrijs2005/donorsync/internal/logging"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func (a *App) writer() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *App) logger() logging.Logger {
	if a.log == nil {
		return logging.Nop()
	}
	return a.log
}

func (a *App) credentials(withName bool) (models.Credentials, error) {
	var c models.Credentials
	var err error

	if c.Email, err = getSimpleText(a.reader, "Enter email", a.writer()); err != nil {
		return c, err
	}
	if withName {
		if c.FirstName, err = getSimpleText(a.reader, "Enter first name", a.writer()); err != nil {
			return c, err
		}
		if c.LastName, err = getSimpleText(a.reader, "Enter last name", a.writer()); err != nil {
			return c, err
		}
	}

	password, err := getPassword(a.writer())
	if err != nil {
		return c, err
	}
	c.Password = string(password)
	common.WipeByteArray(password)

	if c.Email == "" || c.Password == "" {
		return c, fmt.Errorf("%w: email and password are required", common.ErrorValidation)
	}
	return c, nil
}

// Register prompts for the account details and signs up. A successful
// registration starts a session.
func (a *App) Register(ctx context.Context) error {
	creds, err := a.credentials(true)
	if err != nil {
		return err
	}
	if err := a.session.Register(ctx, creds); err != nil {
		return err
	}

	a.setUserName(creds.Email)
	fmt.Fprintln(a.writer(), "Success!")
	return nil
}

// Login prompts for credentials and signs in.
func (a *App) Login(ctx context.Context) error {
	creds, err := a.credentials(false)
	if err != nil {
		return err
	}
	if err := a.session.Login(ctx, creds); err != nil {
		a.logger().Info(ctx, "login unsuccessful", "email", creds.Email, "error", err)
		return err
	}

	a.setUserName(creds.Email)
	a.logger().Info(ctx, "login successful", "email", creds.Email)
	fmt.Fprintln(a.writer(), "Logged in")
	return nil
}

// Logout ends the session and forgets the stored tokens.
func (a *App) Logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	a.setUserName("")
	fmt.Fprintln(a.writer(), "Logged out")
	return nil
}

// ShowStatus prints the session state and connectivity.
func (a *App) ShowStatus(context.Context) error {
	s := a.session.Session()
	fmt.Fprintf(a.writer(), "Session: %s (epoch %d)\n", s.Status, s.Epoch)
	if mode := a.Mode(); mode != "" {
		fmt.Fprintf(a.writer(), "Server: %s\n", mode)
	}
	return nil
}
