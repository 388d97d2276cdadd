package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/catalog-sync/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued sync ticks",
	Long: `Drain the task queue, running each due tick through the batch processor.

By default the worker keeps polling alongside the recurring scheduler until
interrupted. With --once it runs every task that is due now and exits.`,
	RunE: runWorker,
}

var workerOnce bool

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Run due tasks and exit")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if queueWorker == nil {
		return errors.New("worker service not configured")
	}

	if workerOnce {
		logger.Section("worker: due tasks")
		ran, err := queueWorker.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("worker failed after %d tasks: %w", ran, err)
		}
		cmd.Printf("Ran %d tasks.\n", ran)
		return nil
	}

	logger.Section("worker: polling")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(queueWorker.Run(gctx)) })
	if scheduler != nil {
		g.Go(func() error { return ignoreCancel(scheduler.Start(gctx)) })
	}

	logger.Info("worker running, press Ctrl+C to stop")
	err := g.Wait()

	if scheduler != nil {
		if stopErr := scheduler.Stop(); stopErr != nil {
			logger.Warn("scheduler stop: %v", stopErr)
		}
	}
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
