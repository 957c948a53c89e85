package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch local roots and auto-sync on changes",
	Long: `watch monitors every account's local root for filesystem changes and
runs a sync when activity settles. Accounts with an auto-sync interval also
sync on that schedule. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := newEngine(db)
	defer engine.Close()

	debounce := time.Duration(cfg.WatchDebounceMs) * time.Millisecond
	coordinator := watch.NewCoordinator(db, engine, logger, debounce)
	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	defer coordinator.Stop()

	fmt.Println("Watching for changes. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("Stopping...")
	return nil
}
