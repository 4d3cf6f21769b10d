package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/client"
)

type ChatCmd struct {
	flags *Flags
}

func NewChatCmd(flags *Flags) *ChatCmd {
	return &ChatCmd{flags: flags}
}

// Register adds the chat command to the application
func (cmd *ChatCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "chat",
		Usage:     "Open a conversation and chat live",
		UsageText: "chatcli chat <user-id>",
		Description: `Prints the latest messages, then every new one as it arrives.
Each line typed on stdin is sent. Commands:
  /more   load older messages
  /quit   leave`,
		Action: cmd.run,
	})
	return app
}

func (cmd *ChatCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one argument: the other user's id")
	}
	otherID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || otherID <= 0 {
		return fmt.Errorf("invalid user id %q", c.Args().First())
	}

	r, err := cmd.flags.remote(true)
	if err != nil {
		return err
	}
	me, err := r.Me(ctx)
	if err != nil {
		return fmt.Errorf("who am i: %w", err)
	}

	out := &lockedWriter{w: c.Root().Writer}

	session := client.NewSession(me.ID, r, r, r, client.Options{
		Logger: cmd.flags.Logger,
		OnMessage: func(m chat.MessagePayload) {
			// Own messages are printed from the send response.
			if m.SenderID != me.ID {
				out.Println(formatMessage(m, me.ID, ""))
			}
		},
	})
	defer session.Close()

	if err := session.Open(ctx, otherID); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	peerName := "#" + strconv.FormatInt(otherID, 10)
	history := session.Messages()
	for _, m := range history {
		if m.SenderID == otherID && m.SenderName != "" {
			peerName = m.SenderName
			break
		}
	}
	out.Println(headerStyle.Render("conversation with " + peerName))
	if session.HasMore() {
		out.Println(noticeStyle.Render("/more for older messages"))
	}
	for _, m := range history {
		out.Println(formatMessage(m, me.ID, peerName))
	}

	// Alerts for everyone but the peer on screen.
	stopNotices, err := session.Notifications(ctx, func(n chat.NotificationPayload) {
		if n.SenderID == otherID {
			return
		}
		out.Println(noticeStyle.Render(fmt.Sprintf("new message from %s (%d): %s", n.SenderName, n.SenderID, n.Content)))
	})
	if err != nil {
		cmd.flags.Logger.Warn("notifications unavailable", zap.Error(err))
	} else {
		defer stopNotices()
	}

	return cmd.readInput(ctx, os.Stdin, session, me.ID, peerName, out)
}

func (cmd *ChatCmd) readInput(ctx context.Context, in io.Reader, session *client.Session, selfID int64, peerName string, out *lockedWriter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit":
				return nil
			case "/more":
				cmd.loadMore(ctx, session, selfID, peerName, out)
				continue
			}

			sent, err := session.Send(ctx, line)
			if err != nil {
				out.Println(noticeStyle.Render("not sent: " + err.Error()))
				continue
			}
			out.Println(formatMessage(*sent, selfID, peerName))
		}
	}
}

func (cmd *ChatCmd) loadMore(ctx context.Context, session *client.Session, selfID int64, peerName string, out *lockedWriter) {
	n, err := session.LoadMore(ctx)
	if err != nil {
		out.Println(noticeStyle.Render("could not load more: " + err.Error()))
		return
	}
	if n == 0 {
		out.Println(noticeStyle.Render("no older messages"))
		return
	}
	out.Println(noticeStyle.Render(fmt.Sprintf("%d older messages", n)))
	for _, m := range session.Messages()[:n] {
		out.Println(formatMessage(m, selfID, peerName))
	}
}

// lockedWriter serialises lines from the input loop and the stream
// goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintln(l.w, s)
}
