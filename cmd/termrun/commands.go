package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/termrun"
	"github.com/loykin/termrun/internal/store"
)

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "termrun",
		Short:         "Run shell commands in supervised pty sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(newRunCmd(gf))
	root.AddCommand(newListCmd(gf))
	root.AddCommand(newStatusCmd(gf))
	root.AddCommand(newLogsCmd(gf))
	return root
}

func openManager(gf *GlobalFlags) (*termrun.Manager, error) {
	cfg, err := termrun.LoadConfig(gf.ConfigPath)
	if err != nil {
		return nil, err
	}
	return termrun.New(cfg)
}

func newRunCmd(gf *GlobalFlags) *cobra.Command {
	rf := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Create a session, execute the command, and stream its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(gf)
			if err != nil {
				return err
			}
			defer m.Shutdown()
			return runAndFollow(cmd.Context(), m, strings.Join(args, " "), rf)
		},
	}
	cmd.Flags().DurationVar(&rf.PollInterval, "poll", 500*time.Millisecond, "status/log poll interval")
	cmd.Flags().DurationVar(&rf.Timeout, "timeout", 0, "terminate the session after this duration (0 = no limit)")
	return cmd
}

// runAndFollow is the orchestration contract in miniature: create, start,
// then poll status and logs on a bounded interval until a terminal status.
func runAndFollow(parent context.Context, m *termrun.Manager, command string, rf *RunFlags) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if rf.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, rf.Timeout)
		defer tcancel()
	}

	id, err := m.Create(command)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stderr, "session %s\n", id)
	m.Start(id)

	ticker := time.NewTicker(rf.PollInterval)
	defer ticker.Stop()
	printed := 0
	flush := func() {
		out := m.Logs(id)
		if len(out) > printed {
			_, _ = os.Stdout.WriteString(out[printed:])
			printed = len(out)
		}
	}
	for {
		select {
		case <-ctx.Done():
			m.Terminate(id)
			flush()
			_, _ = fmt.Fprintf(os.Stderr, "session %s terminated\n", id)
			return errors.New("session terminated before completion")
		case <-ticker.C:
		}
		flush()
		st := m.Status(id)
		if st.Terminal() {
			flush()
			_, _ = fmt.Fprintf(os.Stderr, "session %s %s\n", id, st)
			if st != termrun.StatusCompleted {
				return fmt.Errorf("session finished with status %s", st)
			}
			return nil
		}
	}
}

func newListCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions recorded in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(gf)
			if err != nil {
				return err
			}
			defer m.Shutdown()
			recs, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(recs)
			return nil
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the last recorded status of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(gf)
			if err != nil {
				return err
			}
			defer m.Shutdown()
			rec, err := m.Record(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				fmt.Println(termrun.StatusUnknown)
				return nil
			}
			if err != nil {
				return err
			}
			printRecords([]termrun.Record{rec})
			return nil
		},
	}
}

func newLogsCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Print the captured output of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(gf)
			if err != nil {
				return err
			}
			defer m.Shutdown()
			rec, err := m.Record(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return nil // unknown ids degrade to empty output
			}
			if err != nil {
				return err
			}
			b, err := os.ReadFile(rec.LogFile)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			_, _ = os.Stdout.Write(b)
			return nil
		},
	}
}

func printRecords(recs []termrun.Record) {
	fmt.Printf("%-10s %-10s %-20s %s\n", "SESSION", "STATUS", "UPDATED", "COMMAND")
	for _, r := range recs {
		fmt.Printf("%-10s %-10s %-20s %s\n",
			r.SessionID, r.Status, r.UpdatedAt.Local().Format("2006-01-02 15:04:05"), r.Command)
	}
}
