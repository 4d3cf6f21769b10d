package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/lalith-99/dmstream/internal/chat"
)

type LsCmd struct {
	flags *Flags
}

func NewLsCmd(flags *Flags) *LsCmd {
	return &LsCmd{flags: flags}
}

// Register adds the conversations command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "conversations",
		Aliases:     []string{"ls"},
		Usage:       "List conversations, most recent first",
		UsageText:   "chatcli conversations",
		Description: "Shows every other user with the last message exchanged, if any.",
		Action:      cmd.run,
	})
	return app
}

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	r, err := cmd.flags.remote(true)
	if err != nil {
		return err
	}
	inbox, err := r.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	out := c.Root().Writer
	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s (%d)", inbox.CurrentUser.Username, inbox.CurrentUser.ID)))

	if len(inbox.Conversations) == 0 {
		_, _ = fmt.Fprintln(out, noticeStyle.Render("nobody else is here yet"))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tLAST\tMESSAGE")
	for _, e := range inbox.Conversations {
		last, preview := "-", ""
		if e.LastMessage != nil {
			last = clock(e.LastMessage.CreatedAt)
			preview = chat.Preview(e.LastMessage.Content)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.User.ID, e.User.Username, last, preview)
	}
	return w.Flush()
}
