package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/obsarchive/quicklook/internal/tasks"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Task queue commands",
	}

	cmd.AddCommand(newTasksSubmitCmd())
	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksStatusCmd())
	cmd.AddCommand(newTasksRevokeCmd())
	cmd.AddCommand(newTasksPurgeCmd())
	return cmd
}

func newTasksSubmitCmd() *cobra.Command {
	var (
		configPath string
		payload    string
		wait       bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <name>",
		Short: "Enqueue a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksSubmit(cmd, configPath, args[0], payload, wait, timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload for the task")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the task to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long --wait waits before giving up")
	return cmd
}

func runTasksSubmit(cmd *cobra.Command, configPath, name, payload string, wait bool, timeout time.Duration) error {
	out := cmd.OutOrStdout()

	_, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	broker := tasks.NewBroker(gdb)

	var body any
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return fmt.Errorf("parse --payload: %w", err)
		}
	}

	rec, err := broker.Submit(name, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Submitted %s %s\n", rec.Name, rec.UUID)

	if !wait {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	final, err := broker.Await(ctx, rec.UUID)
	if err != nil {
		return err
	}
	printTask(out, final.UUID, final.Name, final.Status, final.Result, final.Error)
	return nil
}

func newTasksListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksList(cmd, configPath, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum tasks to show")
	return cmd
}

func runTasksList(cmd *cobra.Command, configPath string, limit int) error {
	out := cmd.OutOrStdout()

	_, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	recs, err := tasks.NewBroker(gdb).Recent(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(out, "%-36s  %-14s  %-8s  %s\n", rec.UUID, rec.Name, rec.Status, rec.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func newTasksStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <uuid>",
		Short: "Show one task's status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksStatus(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	return cmd
}

func runTasksStatus(cmd *cobra.Command, configPath, id string) error {
	_, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	rec, err := tasks.NewBroker(gdb).Get(id)
	if err != nil {
		return err
	}
	printTask(cmd.OutOrStdout(), rec.UUID, rec.Name, rec.Status, rec.Result, rec.Error)
	return nil
}

func newTasksRevokeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "revoke <uuid>",
		Short: "Cancel a pending or running task",
		Long: `Marks the task revoked. A pending task never runs; a running task keeps
going until its next cancellation checkpoint, and any late result is
discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksRevoke(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	return cmd
}

func runTasksRevoke(cmd *cobra.Command, configPath, id string) error {
	_, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	if err := tasks.NewBroker(gdb).Revoke(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", id)
	return nil
}

func newTasksPurgeCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Discard every pending and started task",
		Long: `Deletes all unfinished tasks. Submitters awaiting a purged task see it
vanish rather than finish. Only use this when no conflicting work is in
flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksPurge(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runTasksPurge(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	if !skipConfirm {
		// Never prompt a pipe; purging from scripts requires the explicit flag.
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("refusing to purge without --yes on non-interactive input")
		}
		if !confirmPurge(cmd) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	_, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	purged, err := tasks.NewBroker(gdb).Purge()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Purged %d tasks\n", purged)
	return nil
}

func confirmPurge(cmd *cobra.Command) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintln(out, "WARNING: This will discard every pending and started task.")
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

func printTask(out io.Writer, uuid, name, status, result, errMsg string) {
	fmt.Fprintf(out, "Task:   %s\n", uuid)
	fmt.Fprintf(out, "Name:   %s\n", name)
	fmt.Fprintf(out, "Status: %s\n", status)
	if result != "" {
		fmt.Fprintf(out, "Result: %s\n", result)
	}
	if errMsg != "" {
		fmt.Fprintf(out, "Error:  %s\n", errMsg)
	}
}
