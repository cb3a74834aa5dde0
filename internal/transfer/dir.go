package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	inboxDir       = "inbox"
	manifestSuffix = ".transfer.json"
	tmpPrefix      = ".tmp-"
)

// Dir is a Channel over a directory both processes can see.
//
// Sending drops a small manifest into <root>/inbox pointing at the file. The
// receiving side watches the inbox, hands each manifest to the handlers and
// deletes it. Manifests left over from while nobody was listening are
// delivered when the receiver starts.
type Dir struct {
	inbox string
	subs  subscribers

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

var _ Channel = (*Dir)(nil)

// NewDir creates the inbox under root if needed. Sending works right away;
// receiving needs Start.
func NewDir(root string) (*Dir, error) {
	inbox := filepath.Join(root, inboxDir)
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return nil, fmt.Errorf("error creating inbox: %s", err)
	}

	return &Dir{inbox: inbox}, nil
}

func (d *Dir) Send(ctx context.Context, path string, md Metadata) error {
	abs, err := sendable(path)
	if err != nil {
		return err
	}

	t := Transfer{
		ID:       uuid.NewString(),
		Path:     abs,
		Metadata: md.clone(),
		SentAt:   time.Now().UTC(),
	}
	byts, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("error encoding manifest: %s", err)
	}

	// Written aside and renamed in, so the watcher only ever sees whole manifests
	f, err := os.CreateTemp(d.inbox, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("error creating manifest: %s", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(byts); err != nil {
		f.Close()
		return fmt.Errorf("error writing manifest: %s", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing manifest: %s", err)
	}
	if err := os.Rename(f.Name(), filepath.Join(d.inbox, t.ID+manifestSuffix)); err != nil {
		return fmt.Errorf("error queueing manifest: %s", err)
	}

	slog.DebugContext(ctx, "queued transfer", "id", t.ID, "file", abs)

	return nil
}

func (d *Dir) OnReceive(h Handler) func() {
	return d.subs.add(h)
}

// Start watches the inbox and delivers whatever is already waiting in it.
func (d *Dir) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("transfer dir already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(d.inbox); err != nil {
		watcher.Close()
		d.mu.Unlock()
		return fmt.Errorf("failed to watch inbox %s: %w", d.inbox, err)
	}

	d.watcher = watcher
	d.done = make(chan struct{})
	d.running = true
	d.wg.Add(1)
	go d.processEvents()
	d.mu.Unlock()

	// Anything sent before the watch was in place
	pending, err := d.manifests()
	if err != nil {
		return err
	}
	for _, path := range pending {
		d.consume(path)
	}

	return nil
}

// Close stops watching. It blocks until in-progress deliveries are done.
func (d *Dir) Close() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.done)
	err := d.watcher.Close()
	d.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	return nil
}

// Pending lists transfers that were sent but not delivered yet, oldest first.
func (d *Dir) Pending() ([]Transfer, error) {
	paths, err := d.manifests()
	if err != nil {
		return nil, err
	}

	ts := make([]Transfer, 0, len(paths))
	for _, path := range paths {
		t, err := readManifest(path)
		if err != nil {
			continue
		}
		ts = append(ts, t)
	}
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].SentAt.Before(ts[j].SentAt) })

	return ts, nil
}

func (d *Dir) manifests() ([]string, error) {
	entries, err := os.ReadDir(d.inbox)
	if err != nil {
		return nil, fmt.Errorf("error listing inbox: %s", err)
	}

	var paths []string
	for _, e := range entries {
		if isManifest(e.Name()) {
			paths = append(paths, filepath.Join(d.inbox, e.Name()))
		}
	}

	return paths, nil
}

func (d *Dir) processEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) && isManifest(filepath.Base(event.Name)) {
				d.consume(event.Name)
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("error watching inbox", "inbox", d.inbox, "error", err)
		}
	}
}

// Delivers the manifest at path. Whoever manages to delete the manifest owns
// the delivery, so a transfer is never handed out twice.
func (d *Dir) consume(path string) {
	t, err := readManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Error("dropping unreadable manifest", "path", path, "error", err)
		os.Remove(path)
		return
	}

	if err := os.Remove(path); err != nil {
		return
	}

	d.subs.deliver(t)
}

func readManifest(path string) (Transfer, error) {
	byts, err := os.ReadFile(path)
	if err != nil {
		return Transfer{}, err
	}

	var t Transfer
	if err := json.Unmarshal(byts, &t); err != nil {
		return Transfer{}, fmt.Errorf("error decoding manifest: %s", err)
	}

	return t, nil
}

func isManifest(name string) bool {
	return strings.HasSuffix(name, manifestSuffix) && !strings.HasPrefix(name, tmpPrefix)
}
