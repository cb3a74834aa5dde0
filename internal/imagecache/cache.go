// Package imagecache keeps downloaded image bytes on disk, keyed by photo ID,
// with a small in-memory tier in front.
//
// Entries are only ever removed explicitly.
package imagecache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jdholdren/photorama/internal/metrics"
	"github.com/jdholdren/photorama/internal/photorama"
)

const (
	DefaultMemoryEntries = 128
	DefaultMaxImageSize  = 32 << 20
	DefaultFetchTimeout  = 30 * time.Second

	tmpPrefix = ".tmp-"
)

type Config struct {
	Dir string
	// How many images to hold in memory. The disk holds everything.
	MemoryEntries int
	MaxImageSize  int64
	// Bounds a shared download, which outlives any single caller.
	FetchTimeout time.Duration
}

type Cache struct {
	dir          string
	maxImageSize int64
	fetchTimeout time.Duration
	mem          *lru.Cache[string, []byte]
	http         *http.Client
	metrics      *metrics.Collector

	// One fetch per key at a time.
	inflight singleflight.Group
	// Guards disk writes and removals.
	mu sync.Mutex
}

// New creates the cache directory if needed. Images are downloaded with hc,
// or a client with a 30 second timeout if it's nil.
func New(cfg Config, hc *http.Client, m *metrics.Collector) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("image cache directory is required")
	}
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = DefaultMemoryEntries
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = DefaultMaxImageSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating cache dir: %s", err)
	}
	mem, err := lru.New[string, []byte](cfg.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("error creating memory cache: %s", err)
	}

	return &Cache{
		dir:          cfg.Dir,
		maxImageSize: cfg.MaxImageSize,
		fetchTimeout: cfg.FetchTimeout,
		mem:          mem,
		http:         hc,
		metrics:      m,
	}, nil
}

// Image returns the cached bytes for key, if there are any. It never touches the network.
func (c *Cache) Image(key string) ([]byte, bool) {
	if byts, ok := c.mem.Get(key); ok {
		c.metrics.RecordCacheLookup("memory", true)
		return byts, true
	}
	c.metrics.RecordCacheLookup("memory", false)

	byts, err := os.ReadFile(c.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("error reading cached image", "key", key, "error", err)
		}
		c.metrics.RecordCacheLookup("disk", false)
		return nil, false
	}
	c.metrics.RecordCacheLookup("disk", true)
	c.mem.Add(key, byts)

	return byts, true
}

// FetchAndCache returns the image for key, downloading it from remoteURL only
// when it isn't cached yet.
//
// Concurrent calls for the same key share a single download. It isn't tied to
// any one caller's ctx: a caller giving up only stops its own wait. Nothing is
// cached when the download fails ([photorama.ErrTransport]) or the bytes don't
// decode as an image ([photorama.ErrImageDecode]).
func (c *Cache) FetchAndCache(ctx context.Context, key, remoteURL string) ([]byte, error) {
	if byts, ok := c.Image(key); ok {
		return byts, nil
	}

	ch := c.inflight.DoChan(key, func() (any, error) {
		// Another fetch may have finished between the lookup and getting here
		if byts, ok := c.Image(key); ok {
			return byts, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, key, remoteURL)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cache) fetch(ctx context.Context, key, remoteURL string) ([]byte, error) {
	byts, err := c.download(ctx, remoteURL)
	if err != nil {
		c.metrics.RecordImageFetch(metrics.OutcomeFailure)
		return nil, err
	}
	c.metrics.RecordImageFetch(metrics.OutcomeSuccess)

	if _, _, err := image.DecodeConfig(bytes.NewReader(byts)); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", photorama.ErrImageDecode, remoteURL, err)
	}

	if err := c.store(key, byts); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "cached image", "key", key, "bytes", len(byts))

	return byts, nil
}

func (c *Cache) download(ctx context.Context, remoteURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error building image request: %w", photorama.ErrTransport, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: error getting image: %w", photorama.ErrTransport, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code: %d", photorama.ErrTransport, resp.StatusCode)
	}

	byts, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: error reading image: %w", photorama.ErrTransport, err)
	}
	if int64(len(byts)) > c.maxImageSize {
		return nil, fmt.Errorf("%w: image larger than %d bytes", photorama.ErrTransport, c.maxImageSize)
	}

	return byts, nil
}

// Writes the entry to a temp file first so readers never see a partial image.
func (c *Cache) store(key string, byts []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.CreateTemp(c.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %s", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(byts); err != nil {
		f.Close()
		return fmt.Errorf("error writing image: %s", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing image file: %s", err)
	}
	if err := os.Rename(f.Name(), c.path(key)); err != nil {
		return fmt.Errorf("error moving image into place: %s", err)
	}
	c.mem.Add(key, byts)

	return nil
}

// Remove evicts key from both tiers. Removing a key that isn't cached is not an error.
func (c *Cache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.Remove(key)
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing cached image: %s", err)
	}

	return nil
}

// Clear evicts everything.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.Purge()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("error listing cache dir: %s", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("error removing cached image: %s", err)
		}
	}

	return nil
}

// Keys can be anything, so they're hashed into file names.
func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}
