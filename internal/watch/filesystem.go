package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kblocks/internal/retry"
	"kblocks/pkg/logging"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = 200 * time.Millisecond

// FilesystemDetector ingests binding-context batch files dropped into an inbox
// directory. A file is parsed once it has been quiet for the debounce
// interval; it is removed after every event was dispatched and left in place
// when dispatch fails, so the next write retries it. Unparseable files are
// renamed with a ".rejected" suffix.
type FilesystemDetector struct {
	mu sync.Mutex

	dir        string
	debounce   time.Duration
	dispatcher Dispatcher
	policy     retry.Policy

	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	stopCh  chan struct{}
	running bool
	ctx     context.Context

	// serializes ingestion so batches keep their drop order
	ingestMu sync.Mutex
}

// NewFilesystemDetector creates a detector for dir.
func NewFilesystemDetector(dir string, debounce time.Duration, d Dispatcher) *FilesystemDetector {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FilesystemDetector{
		dir:        dir,
		debounce:   debounce,
		dispatcher: d,
		policy:     retry.DeliveryPolicy(),
		pending:    make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// Start creates the inbox if needed, ingests files already present and
// watches for new ones.
func (d *FilesystemDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to create inbox %s: %w", d.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if err := watcher.Add(d.dir); err != nil {
		watcher.Close()
		d.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", d.dir, err)
	}

	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})
	d.ctx = ctx
	d.mu.Unlock()

	existing, err := d.inboxFiles()
	if err != nil {
		logging.Warn("FilesystemDetector", "Failed to list %s: %v", d.dir, err)
	}
	for _, path := range existing {
		d.ingest(ctx, path)
	}

	go d.processEvents(ctx, watcher)

	logging.Info("FilesystemDetector", "Watching %s for binding contexts", d.dir)
	return nil
}

func (d *FilesystemDetector) inboxFiles() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isBatchFile(e.Name()) {
			out = append(out, filepath.Join(d.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *FilesystemDetector) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			d.cleanupPending()
			return

		case <-d.stopCh:
			d.cleanupPending()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemDetector", err, "Filesystem watcher error")
		}
	}
}

func (d *FilesystemDetector) handleFsEvent(event fsnotify.Event) {
	if !isBatchFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	d.schedule(event.Name)
}

// schedule (re)arms the debounce timer of path.
func (d *FilesystemDetector) schedule(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[path]; ok {
		t.Stop()
	}
	d.pending[path] = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		delete(d.pending, path)
		ctx, running := d.ctx, d.running
		d.mu.Unlock()

		if running {
			d.ingest(ctx, path)
		}
	})
}

func (d *FilesystemDetector) ingest(ctx context.Context, path string) {
	d.ingestMu.Lock()
	defer d.ingestMu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logging.Error("FilesystemDetector", err, "Failed to read %s", path)
		return
	}

	evs, err := ParseBatch(data)
	if err != nil {
		logging.Error("FilesystemDetector", err, "Rejecting %s", path)
		if err := os.Rename(path, path+".rejected"); err != nil {
			logging.Warn("FilesystemDetector", "Failed to mark %s as rejected: %v", path, err)
		}
		return
	}

	for _, ev := range evs {
		if err := dispatchWithRetry(ctx, d.dispatcher, d.policy, ev); err != nil {
			logging.Error("FilesystemDetector", err, "Failed to dispatch %s from %s, keeping the file", ev.WatchKind, path)
			return
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("FilesystemDetector", "Failed to remove ingested %s: %v", path, err)
	}
	logging.Debug("FilesystemDetector", "Ingested %d events from %s", len(evs), path)
}

func (d *FilesystemDetector) cleanupPending() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.pending {
		t.Stop()
	}
	d.pending = make(map[string]*time.Timer)
}

// Stop closes the watcher. Pending debounced files are not ingested.
func (d *FilesystemDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	close(d.stopCh)

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("FilesystemDetector", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}

	logging.Info("FilesystemDetector", "Stopped filesystem detector")
	return nil
}

// Source implements Detector.
func (d *FilesystemDetector) Source() string {
	return SourceFilesystem
}

func isBatchFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
