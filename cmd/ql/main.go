package main

import (
	"fmt"
	"os"

	"github.com/obsarchive/quicklook/internal/config"
	"github.com/obsarchive/quicklook/internal/db"
	"github.com/obsarchive/quicklook/internal/notify"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ql",
		Short: "Quicklook — observation archive browser and monitor",
		Long:  "Quicklook indexes an observation archive, serves a web dashboard for browsing it, and runs background processing tasks.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newLocksCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ql %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// openArchive loads the config and connects to the configured backend.
func openArchive(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Open(cfg.Database.Backend, cfg.Database.SQLitePath,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gdb, nil
}

// newNotifier builds the configured alert fan-out. With no chat
// credentials configured, alerts go to the process log.
func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	var targets notify.Multi
	if cfg.Notify.Slack.BotToken != "" {
		targets = append(targets, notify.NewSlack(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.ChannelID))
	}
	if cfg.Notify.Discord.BotToken != "" {
		discord, err := notify.NewDiscord(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, discord)
	}
	if len(targets) == 0 {
		return notify.Log{}, nil
	}
	return targets, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
