package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/obsarchive/quicklook/internal/db"
	"github.com/obsarchive/quicklook/internal/ingest"
	"github.com/obsarchive/quicklook/internal/lock"
	"github.com/spf13/cobra"
)

// ingestLockKey guards archive scans across every process that might
// run one: the CLI, the serve-mode cron, and workers.
const ingestLockKey = "archive:ingest"

const ingestLockTimeout = 30 * time.Minute

func newIngestCmd() *cobra.Command {
	var (
		configPath string
		root       string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Scan the archive and index observation files",
		Long: `Walks the archive filesystem, parses every observation filename, and
upserts the index rows the dashboard serves. Malformed names are counted
and skipped, never fatal. The scan runs under the shared ingest lock; if
another scan is already running this one is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, configPath, root)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	cmd.Flags().StringVar(&root, "root", "", "archive root override (defaults to archive_root from config)")
	return cmd
}

func runIngest(cmd *cobra.Command, configPath, root string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	if root == "" {
		root = cfg.ArchiveRoot
	}

	fmt.Fprintf(out, "Scanning %s\n", root)

	mgr := lock.NewManager(gdb, "cli:"+cfg.Worker.ID)
	var stats ingest.Stats
	err = mgr.WithLock(cmd.Context(), ingestLockKey, ingestLockTimeout, func() error {
		var scanErr error
		stats, scanErr = ingest.NewScanner(gdb, root).Scan(cmd.Context())
		return scanErr
	})
	if errors.Is(err, lock.ErrLockHeld) {
		fmt.Fprintln(out, "Another ingest is already running; skipping.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Indexed %d file roots from %d files (%d malformed, %d skipped)\n",
		stats.Indexed, stats.FilesSeen, stats.Malformed, stats.Skipped)
	return nil
}
