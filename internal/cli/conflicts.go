package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/sync/conflict"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list <account-id>",
	Short: "List unresolved conflicts for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictsList,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <account-id> <conflict-id> <strategy>",
	Short: "Resolve a conflict (keep_local, keep_remote, keep_both, keep_newer)",
	Args:  cobra.ExactArgs(3),
	RunE:  runConflictsResolve,
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runConflictsList(cmd *cobra.Command, args []string) error {
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

	conflicts, err := db.ListUnresolvedConflicts(ctx, account.HashedID)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("No unresolved conflicts.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Path", "Local Modified", "Remote Modified", "Detected"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, c := range conflicts {
		table.Append([]string{
			strconv.FormatInt(c.ID, 10),
			c.Path,
			c.LocalModifiedAt.Format(time.RFC3339),
			c.RemoteModifiedAt.Format(time.RFC3339),
			c.DetectedAt.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
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

	conflictID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conflict id %q", args[1])
	}
	strategy, err := conflict.ParseStrategy(args[2])
	if err != nil {
		return err
	}

	record, err := db.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("no conflict with id %d", conflictID)
	}
	if record.Resolved {
		return fmt.Errorf("conflict %d is already resolved (%s)", conflictID, record.Strategy)
	}

	token, err := loadToken(cfg.TokenPath(account.HashedID))
	if err != nil {
		return err
	}
	api, err := newDriveAPI(ctx, token)
	if err != nil {
		return err
	}

	resolver := conflict.NewResolver(api, db, logger)
	if err := resolver.Resolve(ctx, account, record, strategy); err != nil {
		return err
	}
	fmt.Printf("Resolved conflict %d (%s) with %s\n", conflictID, record.Path, strategy)
	return nil
}
