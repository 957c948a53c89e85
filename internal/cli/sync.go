package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect synchronization",
}

var syncRunCmd = &cobra.Command{
	Use:   "run <account-id>",
	Short: "Run one synchronization pass for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncRun,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <account-id>",
	Short: "Show recent sessions for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncStatus,
}

var (
	syncProgress     bool
	syncHistoryLimit int
)

func init() {
	syncRunCmd.Flags().BoolVar(&syncProgress, "progress", true, "Print live progress while the run is active")
	syncStatusCmd.Flags().IntVar(&syncHistoryLimit, "limit", 10, "Number of sessions to show")

	syncCmd.AddCommand(syncRunCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	account, err := resolveAccount(ctx, db, args[0])
	if err != nil {
		return err
	}

	engine := newEngine(db)
	defer engine.Close()

	done := make(chan struct{})
	if syncProgress && !flagQuiet {
		states, cancel := engine.Subscribe(account.HashedID)
		defer cancel()
		go func() {
			defer close(done)
			for state := range states {
				fmt.Printf("\r%-12s %3.0f%%  %d/%d items  %s",
					state.Status, state.PercentComplete(),
					state.CompletedItems+state.FailedItems, state.TotalItems,
					formatRate(state.BytesPerSecond))
				if state.Status.Terminal() {
					fmt.Println()
					return
				}
			}
		}()
	} else {
		close(done)
	}

	session, err := engine.Run(ctx, account.HashedID)
	<-done
	if err != nil {
		return err
	}

	fmt.Printf("Session %s: %s (%d up, %d down, %d deleted, %d conflicts, %s)\n",
		session.ID, session.Status,
		session.Uploaded, session.Downloaded, session.DeletedFiles,
		session.ConflictsDetected, formatSize(session.BytesTransferred))
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	account, err := resolveAccount(ctx, db, args[0])
	if err != nil {
		return err
	}

	sessions, err := db.ListSessions(ctx, account.HashedID, syncHistoryLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Started", "Status", "Up", "Down", "Deleted", "Conflicts", "Transferred"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range sessions {
		table.Append([]string{
			s.StartedAt.Format(time.RFC3339),
			s.Status,
			strconv.Itoa(s.Uploaded),
			strconv.Itoa(s.Downloaded),
			strconv.Itoa(s.DeletedFiles),
			strconv.Itoa(s.ConflictsDetected),
			formatSize(s.BytesTransferred),
		})
	}
	table.Render()
	return nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return ""
	}
	return formatSize(int64(bytesPerSecond)) + "/s"
}
