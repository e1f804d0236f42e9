package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiretask-server/internal/client"
	"github.com/vovakirdan/wiretask-server/internal/log"
	"github.com/vovakirdan/wiretask-server/internal/proto"
)

type clientFlags struct {
	url      string
	username string
	password string
	register bool
	create   string
	due      string
	watch    bool
	timeout  time.Duration
}

func clientCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Log in over WebSocket, list tasks and optionally watch pushes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, cmd.OutOrStdout(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.url, "url", "ws://localhost:3001/ws", "WebSocket address")
	f.StringVarP(&flags.username, "user", "u", "testuser", "username")
	f.StringVarP(&flags.password, "password", "p", "test123", "password")
	f.BoolVar(&flags.register, "register", false, "register the account instead of logging in")
	f.StringVar(&flags.create, "create", "", "create a task with this title")
	f.StringVar(&flags.due, "due", "", "due date for --create (YYYY-MM-DD)")
	f.BoolVarP(&flags.watch, "watch", "w", false, "keep the connection open and print task pushes")
	f.DurationVar(&flags.timeout, "timeout", client.DefaultTimeout, "per-request timeout")

	return cmd
}

func runClient(ctx context.Context, out io.Writer, flags clientFlags) error {
	logger := log.New("warn", "console")

	c, err := client.Dial(ctx, flags.url, client.Options{
		Timeout: flags.timeout,
		Logger:  logger,
		OnPush: func(p client.Push) {
			fmt.Fprintf(out, "push: action=%s task=%s\n", p.Action, p.Task)
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	authenticate := c.Login
	if flags.register {
		authenticate = c.Register
	}
	auth, err := authenticate(ctx, flags.username, flags.password)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	fmt.Fprintf(out, "authenticated as %s (id %d)\n", auth.User.Username, auth.User.ID)

	if flags.create != "" {
		task, err := c.CreateTask(ctx, flags.create, flags.due)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		fmt.Fprintf(out, "created task %d\n", task.ID)
	}

	list, err := c.GetTasks(ctx)
	if err != nil {
		return fmt.Errorf("get tasks: %w", err)
	}
	for _, t := range list.Tasks {
		printTask(out, t)
	}
	fmt.Fprintf(out, "total=%d completed=%d active=%d overdue=%d\n",
		list.Stats.Total, list.Stats.Completed, list.Stats.Active, list.Stats.Overdue)

	if !flags.watch {
		return nil
	}

	fmt.Fprintln(out, "watching for pushes, press Ctrl+C to stop")
	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		return c.Err()
	}
}

func printTask(out io.Writer, t proto.Task) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	due := ""
	if t.DueDate != nil {
		due = " due " + t.DueDate.Format(time.DateOnly)
	}
	fmt.Fprintf(out, "[%s] %d %s%s\n", mark, t.ID, t.Title, due)
}
