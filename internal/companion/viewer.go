package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/photorama/internal/flickr"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/transfer"
)

// Subscribe calls h for every transfer tagged with feed. Transfers for other
// feeds are dropped.
func Subscribe(ch transfer.Channel, feed photorama.FeedType, h transfer.Handler) (unsubscribe func()) {
	return ch.OnReceive(func(t transfer.Transfer) {
		if t.Metadata[transfer.MetadataFeed] != feed.String() {
			return
		}
		h(t)
	})
}

type ViewerState int32

const (
	ViewerListening ViewerState = iota
	ViewerNotified
	ViewerReading
	ViewerRendering
)

func (s ViewerState) String() string {
	switch s {
	case ViewerListening:
		return "listening"
	case ViewerNotified:
		return "notified"
	case ViewerReading:
		return "reading"
	case ViewerRendering:
		return "rendering"
	default:
		return "unknown"
	}
}

// Images fetches and caches the image at remoteURL under key.
type Images interface {
	FetchAndCache(ctx context.Context, key, remoteURL string) ([]byte, error)
}

// Viewer shows a single feed on the companion, newest upload first.
type Viewer struct {
	ch       transfer.Channel
	dir      string
	renderer photorama.Renderer
	images   Images
	backoff  func() retry.Backoff

	mu          sync.Mutex
	feed        photorama.FeedType
	photos      []photorama.Photo
	unsubscribe func()

	state atomic.Int32
}

// NewViewer creates a viewer that listens on ch and looks in dir for the
// snapshots that were already delivered. Thumbnails for the detail view come
// from images.
func NewViewer(ch transfer.Channel, dir string, renderer photorama.Renderer, images Images) *Viewer {
	return &Viewer{
		ch:       ch,
		dir:      dir,
		renderer: renderer,
		images:   images,
		// A notification can beat the snapshot file onto a shared disk
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewConstant(100*time.Millisecond))
		},
	}
}

// Start shows feed: whatever snapshot of it is already on disk is rendered
// straight away, then every new one as it arrives.
func (v *Viewer) Start(ctx context.Context, feed photorama.FeedType) error {
	return v.Select(ctx, feed)
}

// Select switches the viewer to another feed.
func (v *Viewer) Select(ctx context.Context, feed photorama.FeedType) error {
	if !feed.Valid() {
		return fmt.Errorf("unknown feed type %q", feed)
	}

	v.mu.Lock()
	if v.unsubscribe != nil {
		v.unsubscribe()
	}
	v.feed = feed
	v.photos = nil
	v.unsubscribe = Subscribe(v.ch, feed, func(t transfer.Transfer) {
		v.handle(ctx, feed, t.Path)
	})
	v.mu.Unlock()

	path := filepath.Join(v.dir, SnapshotName(feed))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.handle(ctx, feed, path)

	return nil
}

// Stop stops listening for snapshots.
func (v *Viewer) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
}

func (v *Viewer) Feed() photorama.FeedType {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.feed
}

// Photos returns what's currently shown.
func (v *Viewer) Photos() []photorama.Photo {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]photorama.Photo(nil), v.photos...)
}

// ShowDetail opens one of the photos currently shown: its thumbnail is
// fetched and rendered on its own.
//
// Returns [photorama.ErrNotFound] if the photo isn't in the list or has no
// thumbnail.
func (v *Viewer) ShowDetail(ctx context.Context, photoID string) error {
	photo, ok := v.shown(photoID)
	if !ok {
		return fmt.Errorf("photo %q is not shown: %w", photoID, photorama.ErrNotFound)
	}
	if photo.ThumbnailURL == "" {
		return fmt.Errorf("photo %q has no thumbnail: %w", photoID, photorama.ErrNotFound)
	}
	if v.images == nil {
		return errors.New("viewer has no image source")
	}

	img, err := v.images.FetchAndCache(ctx, thumbnailKey(photoID), photo.ThumbnailURL)
	if err != nil {
		return fmt.Errorf("error fetching thumbnail of %q: %w", photoID, err)
	}

	v.setState(ViewerRendering)
	defer v.setState(ViewerListening)
	v.renderer.RenderImage(img, photo)

	return nil
}

func (v *Viewer) shown(photoID string) (photorama.Photo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range v.photos {
		if p.PhotoID == photoID {
			return p, true
		}
	}
	return photorama.Photo{}, false
}

// Thumbnails are cached apart from the full size image of the same photo.
func thumbnailKey(photoID string) string {
	return photoID + "_q"
}

func (v *Viewer) State() ViewerState {
	return ViewerState(v.state.Load())
}

func (v *Viewer) setState(s ViewerState) {
	v.state.Store(int32(s))
}

func (v *Viewer) handle(ctx context.Context, feed photorama.FeedType, path string) {
	defer v.setState(ViewerListening)
	v.setState(ViewerNotified)

	v.setState(ViewerReading)
	raw, err := v.read(ctx, path)
	if err != nil {
		slog.ErrorContext(ctx, "error reading snapshot", "feed", feed, "path", path, "error", err)
		return
	}
	photos, skipped, err := flickr.ParsePhotos(raw, feed)
	if err != nil {
		slog.ErrorContext(ctx, "error parsing snapshot", "feed", feed, "path", path, "error", err)
		return
	}
	for _, err := range skipped {
		slog.WarnContext(ctx, "skipping snapshot record", "feed", feed, "error", err)
	}

	sort.SliceStable(photos, func(i, j int) bool {
		a, b := photos[i], photos[j]
		if !a.DateUploaded.Equal(b.DateUploaded) {
			return a.DateUploaded.After(b.DateUploaded)
		}
		return a.PhotoID < b.PhotoID
	})

	v.mu.Lock()
	// Switched feeds while this one was being read
	if v.feed != feed {
		v.mu.Unlock()
		return
	}
	v.photos = photos
	v.mu.Unlock()

	v.setState(ViewerRendering)
	v.renderer.RenderPhotos(append([]photorama.Photo(nil), photos...))
}

func (v *Viewer) read(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	err := retry.Do(ctx, v.backoff(), func(ctx context.Context) error {
		byts, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		raw = byts
		return nil
	})

	return raw, err
}
