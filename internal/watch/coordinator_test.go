package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skysync/skysync/internal/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	block   chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, accountID string) (*store.Session, error) {
	r.mu.Lock()
	r.calls = append(r.calls, accountID)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- accountID
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return &store.Session{AccountID: accountID}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeAccounts []*store.Account

func (f fakeAccounts) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	return f, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTriggerSyncCoalescesWhileRunning(t *testing.T) {
	runner := &fakeRunner{started: make(chan string, 8), block: make(chan struct{})}
	c := NewCoordinator(fakeAccounts{}, runner, nil, time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	c.TriggerSync("acct-1")
	<-runner.started

	// Several triggers land while the first run is still in flight.
	c.TriggerSync("acct-1")
	c.TriggerSync("acct-1")
	c.TriggerSync("acct-1")

	close(runner.block)
	<-runner.started // the single coalesced follow-up run

	waitFor(t, time.Second, func() bool { return runner.callCount() == 2 })
	// Give a stray extra run a chance to show up before asserting.
	time.Sleep(50 * time.Millisecond)
	if got := runner.callCount(); got != 2 {
		t.Fatalf("runs = %d, want exactly 2 (initial + one coalesced)", got)
	}
}

func TestTriggerSyncRunsAccountsIndependently(t *testing.T) {
	runner := &fakeRunner{started: make(chan string, 8), block: make(chan struct{})}
	c := NewCoordinator(fakeAccounts{}, runner, nil, time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	c.TriggerSync("acct-1")
	c.TriggerSync("acct-2")

	got := map[string]bool{}
	got[<-runner.started] = true
	got[<-runner.started] = true
	if !got["acct-1"] || !got["acct-2"] {
		t.Fatalf("started = %v, want both accounts running concurrently", got)
	}
	close(runner.block)
}

func TestFileEventTriggersDebouncedRun(t *testing.T) {
	root := t.TempDir()
	account := &store.Account{HashedID: "acct-fs", LocalRoot: root}
	runner := &fakeRunner{started: make(chan string, 8)}

	c := NewCoordinator(fakeAccounts{account}, runner, nil, 30*time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(root, "note.txt"), []byte("edit"), 0600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case id := <-runner.started:
		if id != "acct-fs" {
			t.Fatalf("triggered account = %q, want acct-fs", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no run triggered by filesystem events")
	}

	// The burst of writes collapses into one debounced run.
	time.Sleep(100 * time.Millisecond)
	if got := runner.callCount(); got != 1 {
		t.Fatalf("runs = %d, want 1 for a single write burst", got)
	}
}

func TestHiddenFilesIgnored(t *testing.T) {
	root := t.TempDir()
	account := &store.Account{HashedID: "acct-fs", LocalRoot: root}
	runner := &fakeRunner{}

	c := NewCoordinator(fakeAccounts{account}, runner, nil, 20*time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := os.WriteFile(filepath.Join(root, ".cache"), []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := runner.callCount(); got != 0 {
		t.Fatalf("runs = %d, hidden files must not trigger sync", got)
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	runner := &fakeRunner{started: make(chan string, 1), block: make(chan struct{})}
	c := NewCoordinator(fakeAccounts{}, runner, nil, time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.TriggerSync("acct-1")
	<-runner.started

	done := make(chan struct{})
	go func() {
		c.Stop() // ctx cancellation unblocks the runner
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

type failingAccounts struct{}

func (failingAccounts) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	return nil, context.DeadlineExceeded
}

func TestStopAfterFailedStartIsSafe(t *testing.T) {
	runner := &fakeRunner{}
	c := NewCoordinator(failingAccounts{}, runner, nil, time.Millisecond)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("start must fail when accounts cannot be listed")
	}

	// Neither call may panic on the never-initialized watcher and context.
	c.TriggerSync("acct-1")
	c.Stop()

	if runner.callCount() != 0 {
		t.Fatalf("runs = %d, want none after a failed start", runner.callCount())
	}
}
