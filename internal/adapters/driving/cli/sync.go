package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Start and control catalog sync sessions",
	Long: `Start, pause, resume and stop catalog sync sessions.

A session only schedules work; run "catalogsync worker" to execute it.
Every subcommand acts on the scope selected with --scope.`,
}

var syncStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a full sync",
	RunE:  runSyncStart,
}

var syncIncrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Start an incremental sync",
	Long: `Start a sync of records modified since a point in time.

Without --since the watermark of the last completed session is used.
When the scope never completed a sync, a full sync is started instead.`,
	RunE: runSyncIncremental,
}

var syncResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused sync",
	RunE:  runSyncResume,
}

var syncPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running sync at its next tick",
	RunE:  runSyncPause,
}

var syncStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sync at its next tick",
	RunE:  runSyncStop,
}

var syncClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Force-clear the sync state of a scope",
	Long: `Delete the lease, status record, control flags and queued ticks of a scope.
Use this to recover a scope whose worker died mid-session.`,
	RunE: runSyncClear,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status of a scope",
	RunE:  runSyncStatus,
}

var (
	startLimit int
	sinceFlag  string
	clearYes   bool
)

func init() {
	syncStartCmd.Flags().IntVar(&startLimit, "limit", 0, "Maximum number of records to process (0 = all)")
	syncIncrementalCmd.Flags().StringVar(&sinceFlag, "since", "", "Only records modified since this RFC3339 time")
	syncClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")

	syncCmd.AddCommand(syncStartCmd)
	syncCmd.AddCommand(syncIncrementalCmd)
	syncCmd.AddCommand(syncResumeCmd)
	syncCmd.AddCommand(syncPauseCmd)
	syncCmd.AddCommand(syncStopCmd)
	syncCmd.AddCommand(syncClearCmd)
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

func requireLauncher() error {
	if launcher == nil {
		return errors.New("sync service not configured")
	}
	return nil
}

func runSyncStart(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	id, err := launcher.Start(cmd.Context(), startLimit, scopeFlag)
	if err != nil {
		return describeStartError(err)
	}

	cmd.Printf("Started full sync %s for scope %s.\n", id, domain.ScopeName(scopeFlag))
	if startLimit > 0 {
		cmd.Printf("At most %d records will be processed.\n", startLimit)
	}
	return nil
}

func runSyncIncremental(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	var since *time.Time
	if sinceFlag != "" {
		t, err := time.Parse(time.RFC3339, sinceFlag)
		if err != nil {
			return fmt.Errorf("invalid --since %q: expected RFC3339, e.g. 2024-05-01T00:00:00Z", sinceFlag)
		}
		since = &t
	}

	id, err := launcher.StartIncremental(cmd.Context(), since, scopeFlag)
	if err != nil {
		return describeStartError(err)
	}

	cmd.Printf("Started incremental sync %s for scope %s.\n", id, domain.ScopeName(scopeFlag))
	return nil
}

func runSyncResume(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	id, err := launcher.Resume(cmd.Context(), scopeFlag)
	if errors.Is(err, domain.ErrNotPaused) {
		return fmt.Errorf("no paused sync for scope %s", domain.ScopeName(scopeFlag))
	}
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	cmd.Printf("Resumed sync %s.\n", id)
	return nil
}

func runSyncPause(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	id, err := launcher.Pause(cmd.Context(), scopeFlag)
	if errors.Is(err, domain.ErrNotRunning) {
		return fmt.Errorf("no running sync for scope %s", domain.ScopeName(scopeFlag))
	}
	if err != nil {
		return fmt.Errorf("pause failed: %w", err)
	}

	cmd.Printf("Pause requested for sync %s; it pauses at its next tick.\n", id)
	return nil
}

func runSyncStop(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	id, err := launcher.Stop(cmd.Context(), scopeFlag)
	if errors.Is(err, domain.ErrNotRunning) {
		return fmt.Errorf("no running sync for scope %s", domain.ScopeName(scopeFlag))
	}
	if err != nil {
		return fmt.Errorf("stop failed: %w", err)
	}

	cmd.Printf("Stop requested for sync %s.\n", id)
	return nil
}

func runSyncClear(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	scope := domain.ScopeName(scopeFlag)
	if !clearYes && isTerminal(cmd.InOrStdin()) {
		cmd.Printf("Clear all sync state for scope %s? [y/N] ", scope)
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			cmd.Println("Aborted.")
			return nil
		}
	}

	if err := launcher.ForceClear(cmd.Context(), scopeFlag); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	cmd.Printf("Sync state cleared for scope %s.\n", scope)
	return nil
}

func runSyncStatus(cmd *cobra.Command, _ []string) error {
	if err := requireLauncher(); err != nil {
		return err
	}

	status, err := launcher.Status(cmd.Context(), scopeFlag)
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	cmd.Print(renderStatus(status))
	return nil
}

// describeStartError explains why a session could not start.
func describeStartError(err error) error {
	var inProgress *domain.SessionInProgressError
	if errors.As(err, &inProgress) {
		return fmt.Errorf("sync %s is already running for scope %s; pause or stop it first",
			inProgress.SessionID, domain.ScopeName(inProgress.Scope))
	}
	return fmt.Errorf("start failed: %w", err)
}

func renderStatus(st *driving.SyncStatus) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(headerStyle.Render("Catalog sync: "+domain.ScopeName(st.Scope)) + "\n")

	s := st.Session
	if s == nil {
		b.WriteString("No sync has run for this scope.\n")
		row("Last sync", formatTime(st.LastSync))
		return b.String()
	}

	state := string(s.Status)
	switch {
	case st.Running:
		state += " (active)"
	case s.Status.IsActive():
		state += " (stale)"
	}
	row("Status", statusStyle(s.Status).Render(state))
	row("Session", s.ID)
	row("Type", string(s.Type))
	if !s.Since.IsZero() {
		row("Since", formatTime(s.Since))
	}
	row("Position", fmt.Sprintf("page %d, offset %d", s.Page, s.Offset))
	row("Records", fmt.Sprintf("%d processed (%d created, %d updated, %d failed)",
		s.Processed, s.Created, s.Updated, s.Failed))
	if s.Limit > 0 {
		row("Limit", fmt.Sprintf("%d (%d remaining)", s.Limit, s.Remaining()))
	}
	row("Batch size", fmt.Sprintf("%d", s.BatchSize))
	row("Errors", fmt.Sprintf("%d (%d consecutive)", s.ErrorCount, s.ConsecutiveFailures))
	if s.Error != "" {
		row("Last error", errorStyle.Render(s.Error))
	}
	row("Started", formatTime(s.StartedAt))
	row("Updated", formatTime(s.UpdatedAt))
	if !s.CompletedAt.IsZero() {
		row("Completed", formatTime(s.CompletedAt))
	}
	if st.Lease != nil {
		lease := "held until " + formatTime(st.Lease.ExpiresAt)
		if st.Lease.Paused {
			lease += " (paused)"
		}
		row("Lease", lease)
	}
	row("Queued", fmt.Sprintf("%d ticks", st.PendingTasks))
	row("Last sync", formatTime(st.LastSync))
	return b.String()
}
