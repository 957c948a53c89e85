// Package watch runs the auto-sync coordinator. Filesystem events under
// each account's local root and an optional per-account interval timer both
// funnel into a debounced sync trigger. A per-account guard keeps runs
// serialized: a trigger that lands mid-run is coalesced into at most one
// follow-up run.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/store"
)

const defaultDebounce = 2 * time.Second

// Runner executes one sync run for an account. *sync.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, accountID string) (*store.Session, error)
}

// AccountSource lists the accounts to watch. *store.DB satisfies it.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]*store.Account, error)
}

type Coordinator struct {
	accounts AccountSource
	runner   Runner
	logger   logging.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	roots   []rootBinding

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	running map[string]bool
	pending map[string]bool
	timers  map[string]*time.Timer
}

// rootBinding maps a watched local root back to its account.
type rootBinding struct {
	root      string // absolute, with trailing separator
	accountID string
}

func NewCoordinator(accounts AccountSource, runner Runner, logger logging.Logger, debounce time.Duration) *Coordinator {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Coordinator{
		accounts: accounts,
		runner:   runner,
		logger:   logger,
		debounce: debounce,
		running:  make(map[string]bool),
		pending:  make(map[string]bool),
		timers:   make(map[string]*time.Timer),
	}
}

// Start watches every account root and arms the per-account interval
// timers. It returns once watching is established; event handling runs in
// the background until Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.mu.Unlock()

	accounts, err := c.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	c.watcher = watcher
	c.ctx, c.cancel = context.WithCancel(context.Background())

	// started flips only once setup cannot fail anymore, so a Stop or
	// TriggerSync after a failed Start is a safe no-op.
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	for _, account := range accounts {
		root, err := filepath.Abs(account.LocalRoot)
		if err != nil {
			c.logger.Warn("skipping unwatchable root",
				logging.F("account", account.HashedID), logging.F("error", err.Error()))
			continue
		}
		if err := c.watchTree(root); err != nil {
			c.logger.Warn("skipping unwatchable root",
				logging.F("account", account.HashedID), logging.F("error", err.Error()))
			continue
		}
		c.roots = append(c.roots, rootBinding{
			root:      root + string(filepath.Separator),
			accountID: account.HashedID,
		})

		if account.AutoSyncIntervalMin > 0 {
			c.wg.Add(1)
			go c.intervalLoop(account.HashedID, time.Duration(account.AutoSyncIntervalMin)*time.Minute)
		}
	}

	c.wg.Add(1)
	go c.eventLoop()
	return nil
}

// Stop tears down watching and waits for in-flight runs to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	for _, timer := range c.timers {
		timer.Stop()
	}
	c.mu.Unlock()

	c.cancel()
	if err := c.watcher.Close(); err != nil {
		c.logger.Warn("watcher close failed", logging.F("error", err.Error()))
	}
	c.wg.Wait()
}

// TriggerSync requests a run for the account. If a run is already active
// the request is coalesced: exactly one follow-up run happens afterwards no
// matter how many triggers arrived in between.
func (c *Coordinator) TriggerSync(accountID string) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	if c.running[accountID] {
		c.pending[accountID] = true
		c.mu.Unlock()
		return
	}
	c.running[accountID] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop(accountID)
}

// runLoop executes runs for one account until no coalesced trigger remains.
// Failures are logged and swallowed: auto-sync is best-effort and must keep
// watching after a bad run.
func (c *Coordinator) runLoop(accountID string) {
	defer c.wg.Done()
	for {
		if c.ctx.Err() != nil {
			break
		}
		if _, err := c.runner.Run(c.ctx, accountID); err != nil {
			c.logger.Warn("auto-sync run failed",
				logging.F("account", accountID), logging.F("error", err.Error()))
		}

		c.mu.Lock()
		if !c.pending[accountID] || c.ctx.Err() != nil {
			delete(c.running, accountID)
			c.mu.Unlock()
			return
		}
		delete(c.pending, accountID)
		c.mu.Unlock()
	}

	c.mu.Lock()
	delete(c.running, accountID)
	c.mu.Unlock()
}

func (c *Coordinator) intervalLoop(accountID string, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.TriggerSync(accountID)
		}
	}
}

func (c *Coordinator) eventLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watcher error", logging.F("error", err.Error()))
		}
	}
}

func (c *Coordinator) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	accountID, ok := c.accountFor(event.Name)
	if !ok {
		return
	}

	// fsnotify watches are not recursive; pick up new subdirectories.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := c.watchTree(event.Name); err != nil {
				c.logger.Warn("failed to watch new directory",
					logging.F("path", event.Name), logging.F("error", err.Error()))
			}
		}
	}

	c.scheduleTrigger(accountID)
}

// scheduleTrigger debounces a burst of filesystem events into one trigger.
func (c *Coordinator) scheduleTrigger(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[accountID]; ok {
		timer.Reset(c.debounce)
		return
	}
	c.timers[accountID] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.timers, accountID)
		c.mu.Unlock()
		if c.ctx.Err() == nil {
			c.TriggerSync(accountID)
		}
	})
}

func (c *Coordinator) accountFor(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	for _, binding := range c.roots {
		if strings.HasPrefix(abs+string(filepath.Separator), binding.root) {
			return binding.accountID, true
		}
	}
	return "", false
}

func (c *Coordinator) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return c.watcher.Add(path)
	})
}
