package main

import (
	"fmt"
	"time"

	"github.com/obsarchive/quicklook/internal/lock"
	"github.com/spf13/cobra"
)

func newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Named lock commands",
	}

	cmd.AddCommand(newLocksListCmd())
	cmd.AddCommand(newLocksCleanCmd())
	return cmd
}

func newLocksListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show held locks, stale ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocksList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	return cmd
}

func runLocksList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}

	rows, err := lock.NewManager(gdb, "cli:"+cfg.Worker.ID).List()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No locks held.")
		return nil
	}

	now := time.Now()
	for _, row := range rows {
		state := "held"
		if row.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(out, "%-40s  %-20s  %-8s  acquired %s\n",
			row.Key, row.Owner, state, row.AcquiredAt.Format(time.RFC3339))
	}
	return nil
}

func newLocksCleanCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete locks whose timeout has elapsed",
		Long: `Removes stale lock rows left behind by crashed holders. Locks with a
zero timeout never expire and are never cleaned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocksClean(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	return cmd
}

func runLocksClean(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}

	cleaned, err := lock.NewManager(gdb, "cli:"+cfg.Worker.ID).Clean()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleaned %d stale locks\n", cleaned)
	return nil
}
