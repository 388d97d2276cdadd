package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the sync history ledger",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync sessions",
	RunE:  runHistoryList,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate sync statistics",
	RunE:  runHistoryStats,
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete all but the most recent sessions",
	RunE:  runHistoryCleanup,
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List scheduled syncs of a scope and how they ended",
	RunE:  runHistoryRuns,
}

var (
	historyLimit int
	historyAll   bool
	historyKeep  int
)

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to show")
	historyListCmd.Flags().BoolVar(&historyAll, "all", false, "Include every scope")
	historyStatsCmd.Flags().BoolVar(&historyAll, "all", false, "Include every scope")
	historyCleanupCmd.Flags().IntVar(&historyKeep, "keep", 100, "Number of sessions to keep")
	historyRunsCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyCleanupCmd)
	historyCmd.AddCommand(historyRunsCmd)
	rootCmd.AddCommand(historyCmd)
}

func requireHistory() error {
	if historyService == nil {
		return errors.New("history service not configured")
	}
	return nil
}

func historyQuery() domain.HistoryQuery {
	return domain.HistoryQuery{Scope: scopeFlag, AllScopes: historyAll, Limit: historyLimit}
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	if err := requireHistory(); err != nil {
		return err
	}

	records, err := historyService.Recent(cmd.Context(), historyQuery())
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(records) == 0 {
		cmd.Println("No sync sessions recorded.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers("SESSION", "SCOPE", "TYPE", "STATUS", "PROCESSED", "CREATED", "UPDATED", "FAILED", "STARTED", "DURATION").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for i := range records {
		r := &records[i]
		t.Row(
			shortID(r.SessionID),
			domain.ScopeName(r.Scope),
			string(r.Type),
			statusStyle(r.Status).Render(string(r.Status)),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.Failed),
			formatTime(r.StartedAt),
			formatDuration(r.Duration),
		)
	}

	cmd.Println(t.Render())
	return nil
}

func runHistoryStats(cmd *cobra.Command, _ []string) error {
	if err := requireHistory(); err != nil {
		return err
	}

	stats, err := historyService.Stats(cmd.Context(), historyQuery())
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	title := "Sync statistics: " + domain.ScopeName(scopeFlag)
	if historyAll {
		title = "Sync statistics: all scopes"
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	b.WriteString(headerStyle.Render(title) + "\n")
	row("Sessions", strconv.Itoa(stats.Total))
	row("Running", runningStyle.Render(strconv.Itoa(stats.Running)))
	row("Paused", warnStyle.Render(strconv.Itoa(stats.Paused)))
	row("Completed", okStyle.Render(strconv.Itoa(stats.Completed)))
	row("Failed", errorStyle.Render(strconv.Itoa(stats.Failed)))
	row("Stopped", warnStyle.Render(strconv.Itoa(stats.Stopped)))
	row("Records", fmt.Sprintf("%d processed (%d created, %d updated, %d failed)",
		stats.Records.Processed, stats.Records.Created, stats.Records.Updated, stats.Records.Failed))
	row("Avg time", formatDuration(stats.AverageDuration))
	row("Last done", formatTime(stats.LastCompleted))

	cmd.Print(b.String())
	return nil
}

func runHistoryCleanup(cmd *cobra.Command, _ []string) error {
	if err := requireHistory(); err != nil {
		return err
	}
	if historyKeep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}

	removed, err := historyService.Cleanup(cmd.Context(), historyKeep)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	cmd.Printf("Removed %d sessions, kept the latest %d.\n", removed, historyKeep)
	return nil
}

func runHistoryRuns(cmd *cobra.Command, _ []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}

	runs, err := scheduler.Runs(cmd.Context(), scopeFlag, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read scheduled runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Printf("No scheduled runs for %s.\n", domain.ScopeName(scopeFlag))
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers("STARTED", "SESSION", "OUTCOME", "PROCESSED", "NOTE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for i := range runs {
		r := &runs[i]
		outcome, processed := "-", "-"
		if r.Outcome != "" {
			outcome = statusStyle(r.Outcome).Render(string(r.Outcome))
		}
		if r.Outcome.IsTerminal() {
			processed = strconv.Itoa(r.Processed)
		}
		t.Row(formatTime(r.StartedAt), shortID(r.SessionID), outcome, processed, r.Error)
	}

	cmd.Println(t.Render())
	return nil
}

// shortID trims a session id for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
