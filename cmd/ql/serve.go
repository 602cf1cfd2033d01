package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/obsarchive/quicklook/internal/dashboard"
	"github.com/obsarchive/quicklook/internal/db"
	"github.com/obsarchive/quicklook/internal/ingest"
	"github.com/obsarchive/quicklook/internal/lock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Quicklook dashboard",
		Long: `Serves the archive browser and monitor UI. With ingest.cron configured,
also re-scans the archive on that schedule; scans are skipped when
another process holds the ingest lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port override (defaults to server.port from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	if cfg.Ingest.Cron != "" {
		mgr := lock.NewManager(gdb, "serve:"+cfg.Worker.ID)
		scanner := ingest.NewScanner(gdb, cfg.ArchiveRoot)

		cr := cron.New()
		_, err := cr.AddFunc(cfg.Ingest.Cron, func() {
			scanErr := mgr.WithLock(context.Background(), ingestLockKey, ingestLockTimeout, func() error {
				stats, err := scanner.Scan(context.Background())
				if err != nil {
					return err
				}
				log.Printf("serve: re-ingest: indexed %d roots (%d malformed)", stats.Indexed, stats.Malformed)
				return nil
			})
			if errors.Is(scanErr, lock.ErrLockHeld) {
				log.Printf("serve: re-ingest skipped: another scan is running")
				return
			}
			if scanErr != nil {
				log.Printf("serve: re-ingest: %v", scanErr)
				if nerr := notifier.Notify(context.Background(), "archive re-ingest failed", scanErr.Error()); nerr != nil {
					log.Printf("serve: notify: %v", nerr)
				}
			}
		})
		if err != nil {
			return fmt.Errorf("serve: cron spec %q: %w", cfg.Ingest.Cron, err)
		}
		cr.Start()
		defer cr.Stop()
	}

	return dashboard.Start(cmd.Context(), dashboard.StartOpts{
		DB:   gdb,
		Port: port,
		Out:  cmd.OutOrStdout(),
	})
}
