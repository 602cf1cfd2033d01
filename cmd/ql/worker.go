package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/obsarchive/quicklook/internal/config"
	"github.com/obsarchive/quicklook/internal/db"
	"github.com/obsarchive/quicklook/internal/ingest"
	"github.com/obsarchive/quicklook/internal/lock"
	"github.com/obsarchive/quicklook/internal/tasks"
	"github.com/obsarchive/quicklook/internal/viewstate"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newWorkerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a task worker",
		Long: `Claims queued tasks and runs them until interrupted. Failures are
reported to the configured notifier. Revoked tasks are abandoned at the
next cancellation checkpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quicklook.yaml", "path to Quicklook config file")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := openArchive(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	broker := tasks.NewBroker(gdb)
	fmt.Fprintf(out, "Worker %s starting (%d slots)\n", cfg.Worker.ID, cfg.Worker.Concurrency)

	ctx := cmd.Context()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		id := fmt.Sprintf("%s/%d", cfg.Worker.ID, i)
		worker := tasks.NewWorker(broker, id, notifier)
		registerHandlers(worker, gdb, cfg, id)

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// registerHandlers binds every known task name. Unknown names fail with
// a structured error at claim time.
func registerHandlers(worker *tasks.Worker, gdb *gorm.DB, cfg *config.Config, workerID string) {
	mgr := lock.NewManager(gdb, "worker:"+workerID)

	worker.Register("ingest", func(ctx context.Context, payload json.RawMessage, cancelled func() bool) (any, error) {
		var p struct {
			Root string `json:"root"`
		}
		if len(payload) > 0 {
			json.Unmarshal(payload, &p)
		}
		root := cfg.ArchiveRoot
		if p.Root != "" {
			root = p.Root
		}

		// A revocation cancels the scan at its next directory visit.
		scanCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-scanCtx.Done():
					return
				case <-ticker.C:
					if cancelled() {
						cancel()
						return
					}
				}
			}
		}()

		var stats ingest.Stats
		err := mgr.WithLock(scanCtx, ingestLockKey, ingestLockTimeout, func() error {
			var scanErr error
			stats, scanErr = ingest.NewScanner(gdb, root).Scan(scanCtx)
			return scanErr
		})
		if err != nil {
			return nil, err
		}
		return stats, nil
	})

	worker.Register("clean_locks", func(ctx context.Context, _ json.RawMessage, _ func() bool) (any, error) {
		cleaned, err := mgr.Clean()
		if err != nil {
			return nil, err
		}
		return map[string]int{"cleaned": cleaned}, nil
	})

	worker.Register("prune_sessions", func(ctx context.Context, payload json.RawMessage, _ func() bool) (any, error) {
		var p struct {
			Days int `json:"days"`
		}
		if len(payload) > 0 {
			json.Unmarshal(payload, &p)
		}
		if p.Days <= 0 {
			p.Days = 30
		}
		pruned, err := viewstate.NewStore(gdb).Prune(time.Duration(p.Days) * 24 * time.Hour)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"pruned": pruned}, nil
	})
}
