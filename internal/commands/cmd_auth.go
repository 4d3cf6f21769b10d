package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

type AuthCmd struct {
	flags *Flags

	username string
	email    string
}

func NewAuthCmd(flags *Flags) *AuthCmd {
	return &AuthCmd{flags: flags}
}

// Register adds the login and signup commands to the application
func (cmd *AuthCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "login",
			Usage:     "Log in and save the access token",
			UsageText: "chatcli login --email you@example.com",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "email",
					Usage:       "account email",
					Required:    true,
					Destination: &cmd.email,
				},
			},
			Action: cmd.login,
		},
		&cli.Command{
			Name:      "signup",
			Usage:     "Create an account and save the access token",
			UsageText: "chatcli signup --username you --email you@example.com",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "username",
					Required:    true,
					Destination: &cmd.username,
				},
				&cli.StringFlag{
					Name:        "email",
					Required:    true,
					Destination: &cmd.email,
				},
			},
			Action: cmd.signup,
		},
	)
	return app
}

func (cmd *AuthCmd) login(ctx context.Context, c *cli.Command) error {
	password, err := readPassword(c.Root().ErrWriter)
	if err != nil {
		return err
	}

	r, err := cmd.flags.remote(false)
	if err != nil {
		return err
	}
	res, err := r.Login(ctx, cmd.email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := cmd.flags.saveToken(res.Token); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "logged in as user %d\n", res.UserID)
	return nil
}

func (cmd *AuthCmd) signup(ctx context.Context, c *cli.Command) error {
	password, err := readPassword(c.Root().ErrWriter)
	if err != nil {
		return err
	}

	r, err := cmd.flags.remote(false)
	if err != nil {
		return err
	}
	res, err := r.Signup(ctx, cmd.username, cmd.email, password)
	if err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	if err := cmd.flags.saveToken(res.Token); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "created user %d (%s)\n", res.UserID, cmd.username)
	return nil
}

// readPassword prompts without echo on a terminal, and reads one line
// from stdin otherwise so scripts can pipe it in.
func readPassword(prompt io.Writer) (string, error) {
	if prompt == nil {
		prompt = os.Stderr
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		_, _ = fmt.Fprint(prompt, "password: ")
		raw, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
