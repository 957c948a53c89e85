package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage sync accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <account-id> <local-root>",
	Short: "Register an account and its local sync root",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountsAdd,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE:  runAccountsList,
}

var accountsUpdateCmd = &cobra.Command{
	Use:   "update <account-id>",
	Short: "Change an account's settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsUpdate,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <account-id>",
	Short: "Remove an account and all its sync state",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

var (
	accountDisplayName string
	accountParallel    int
	accountInterval    int
)

func init() {
	accountsAddCmd.Flags().StringVar(&accountDisplayName, "name", "", "Display name for the account")
	accountsAddCmd.Flags().IntVar(&accountParallel, "parallel", 0, "Max parallel transfers (1-10)")
	accountsAddCmd.Flags().IntVar(&accountInterval, "auto-sync-interval", 0, "Auto-sync interval in minutes (0 disables, 60-1440)")

	accountsUpdateCmd.Flags().StringVar(&accountDisplayName, "name", "", "Display name for the account")
	accountsUpdateCmd.Flags().IntVar(&accountParallel, "parallel", 0, "Max parallel transfers (1-10)")
	accountsUpdateCmd.Flags().IntVar(&accountInterval, "auto-sync-interval", -1, "Auto-sync interval in minutes (0 disables, 60-1440)")

	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd, accountsUpdateCmd, accountsRemoveCmd)
	rootCmd.AddCommand(accountsCmd)
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	root, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return fmt.Errorf("cannot create local root %s: %w", root, err)
	}

	account := &store.Account{
		ID:                  args[0],
		DisplayName:         accountDisplayName,
		LocalRoot:           root,
		MaxParallel:         accountParallel,
		AutoSyncIntervalMin: accountInterval,
	}
	if account.DisplayName == "" {
		account.DisplayName = args[0]
	}
	if err := db.AddAccount(ctx, account); err != nil {
		return err
	}

	fmt.Printf("Added account %s (id %s)\n", account.DisplayName, account.HashedID)
	fmt.Printf("Place the OAuth token at %s\n", cfg.TokenPath(account.HashedID))
	return nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	accounts, err := db.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts registered.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Local Root", "Parallel", "Auto-Sync"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, a := range accounts {
		autoSync := "off"
		if a.AutoSyncIntervalMin > 0 {
			autoSync = strconv.Itoa(a.AutoSyncIntervalMin) + "m"
		}
		table.Append([]string{a.HashedID, a.DisplayName, a.LocalRoot, strconv.Itoa(a.MaxParallel), autoSync})
	}
	table.Render()
	return nil
}

func runAccountsUpdate(cmd *cobra.Command, args []string) error {
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

	if accountDisplayName != "" {
		account.DisplayName = accountDisplayName
	}
	if accountParallel > 0 {
		account.MaxParallel = accountParallel
	}
	if accountInterval >= 0 {
		account.AutoSyncIntervalMin = accountInterval
	}
	if err := db.UpdateAccount(ctx, account); err != nil {
		return err
	}
	fmt.Printf("Updated account %s\n", account.HashedID)
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
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
	if err := db.DeleteAccount(ctx, account.HashedID); err != nil {
		return err
	}
	fmt.Printf("Removed account %s and all its sync state\n", account.HashedID)
	return nil
}
