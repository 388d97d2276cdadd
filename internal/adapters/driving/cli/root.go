// Package cli provides the catalogsync command line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// version is set at build time with -ldflags.
var version = "dev"

var (
	verbose    bool
	scopeFlag  string
	configPath string
)

// Services injected by the composition root.
var (
	launcher       driving.SessionLauncher
	historyService driving.HistoryService
	queueWorker    driving.Worker
	scheduler      driving.Scheduler
)

// Initializer builds the services from the configuration file and registers
// them with SetServices. It runs before every command except version.
type Initializer func(ctx context.Context, configPath string) error

var initializer Initializer

var rootCmd = &cobra.Command{
	Use:   "catalogsync",
	Short: "Import an external product catalog in resumable batches",
	Long: `catalogsync imports products, categories and stock levels from an external
catalog API into the local store. Imports run as sessions of small ticks
executed by the queue worker, so they survive restarts and can be paused,
resumed and stopped at any time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		if initializer == nil || cmd.Annotations[annotationNoInit] == "true" {
			return nil
		}
		return initializer(cmd.Context(), configPath)
	},
}

// annotationNoInit marks commands that run without services.
const annotationNoInit = "no-init"

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&scopeFlag, "scope", "s", "", "Profile scope (default scope when empty)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.catalogsync/config.toml)")
}

// Services groups the driving ports used by the commands.
type Services struct {
	Launcher  driving.SessionLauncher
	History   driving.HistoryService
	Worker    driving.Worker
	Scheduler driving.Scheduler
}

// SetServices registers the services used by the commands.
func SetServices(s Services) {
	launcher = s.Launcher
	historyService = s.History
	queueWorker = s.Worker
	scheduler = s.Scheduler
}

// SetInitializer registers the function that builds the services.
func SetInitializer(fn Initializer) {
	initializer = fn
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
