// Package cli is the cobra driver around the sync core. It owns argument
// parsing and table output only; all behavior lives in the internal
// packages it wires together.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/skysync/skysync/internal/config"
	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/remote/drive"
	"github.com/skysync/skysync/internal/store"
	syncengine "github.com/skysync/skysync/internal/sync"
	"github.com/skysync/skysync/internal/utils"
	"github.com/skysync/skysync/pkg/version"
)

var (
	flagConfigDir string
	flagLogFile   string
	flagVerbose   bool
	flagQuiet     bool

	cfg    *config.Config
	logger logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "skysync",
	Short: "Bidirectional cloud-drive synchronization",
	Long: `skysync keeps local folders and remote drive accounts in sync.
It tracks remote changes through the delta feed, detects local edits by
content hash, and resolves conflicts with whole-file strategies.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if flagConfigDir != "" {
			cfg, err = config.LoadFrom(flagConfigDir)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}

		logConfig := logging.DefaultLogConfig()
		logConfig.Level = logging.ParseLevel(cfg.LogLevel)
		logConfig.OutputFile = cfg.LogFile
		if flagLogFile != "" {
			logConfig.OutputFile = flagLogFile
		}
		logConfig.EnableConsole = !flagQuiet
		if flagVerbose {
			logConfig.Level = logging.DEBUG
		}

		logger, err = logging.NewLogger(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Directory holding config.yaml and application data")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Path to log file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress console logging")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// openStore opens the application database and applies migrations.
func openStore(ctx context.Context) (*store.DB, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newEngine wires the sync engine with the Drive adapter. Each account's
// token is read from the data directory; acquiring tokens is out of scope
// for this tool.
func newEngine(db *store.DB) *syncengine.Engine {
	provider := syncengine.APIProviderFunc(func(ctx context.Context, account *store.Account) (remote.API, error) {
		token, err := loadToken(cfg.TokenPath(account.HashedID))
		if err != nil {
			return nil, err
		}
		return drive.NewAPI(ctx, oauth2.StaticTokenSource(token), logger)
	})
	return syncengine.NewEngine(db, provider, logger)
}

func newDriveAPI(ctx context.Context, token *oauth2.Token) (remote.API, error) {
	return drive.NewAPI(ctx, oauth2.StaticTokenSource(token), logger)
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.NewSyncError(utils.ErrCodeAccountNotFound,
				"no credentials for account; place an OAuth token at the expected path").
				WithContext("path", path).Build()
		}
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("malformed token file %s: %w", path, err)
	}
	return &token, nil
}

// resolveAccount accepts either the raw account id or its hashed form.
func resolveAccount(ctx context.Context, db *store.DB, id string) (*store.Account, error) {
	if account, err := db.GetAccount(ctx, id); err == nil {
		return account, nil
	}
	return db.GetAccount(ctx, utils.HashAccountID(id))
}
