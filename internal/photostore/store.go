// Package photostore is the entry point the presentation layer talks to. It
// ties together fetching feeds, reconciling them into the store, keeping the
// companion in sync and fetching images.
package photostore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jdholdren/photorama/internal/async"
	"github.com/jdholdren/photorama/internal/metrics"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/reconcile"
	"github.com/jdholdren/photorama/logger"
)

type (
	// Fetcher gets the raw listing of a feed.
	Fetcher interface {
		FetchFeed(ctx context.Context, feed photorama.FeedType) ([]byte, error)
	}

	// ImageCache returns image bytes, downloading them only when needed.
	ImageCache interface {
		FetchAndCache(ctx context.Context, key, remoteURL string) ([]byte, error)
	}

	// Syncer passes a fetched feed on to the companion.
	Syncer interface {
		Sync(ctx context.Context, feed photorama.FeedType, raw []byte) error
	}
)

type Params struct {
	Repo    photorama.PhotoRepo
	Fetcher Fetcher
	Images  ImageCache
	// Optional. Without one the companion is never updated.
	Syncer Syncer
	// Where callbacks run. Defaults to running them inline.
	Dispatcher async.Dispatcher
	Metrics    *metrics.Collector
}

type Store struct {
	repo       photorama.PhotoRepo
	fetcher    Fetcher
	images     ImageCache
	syncer     Syncer
	dispatcher async.Dispatcher
	reconciler *reconcile.Reconciler

	// Reconciliations are the only writers; they go one at a time.
	writeMu sync.Mutex
}

func New(p Params) *Store {
	if p.Dispatcher == nil {
		p.Dispatcher = async.Inline{}
	}

	return &Store{
		repo:       p.Repo,
		fetcher:    p.Fetcher,
		images:     p.Images,
		syncer:     p.Syncer,
		dispatcher: p.Dispatcher,
		reconciler: reconcile.New(p.Repo, p.Metrics),
	}
}

// FetchFeed fetches the feed and reconciles it into the store in the
// background. The task resolves with the photos that were newly inserted.
//
// Once the store is updated the raw feed is handed to the companion; if that
// fails it's only logged.
func (s *Store) FetchFeed(ctx context.Context, feed photorama.FeedType) *async.Task[[]photorama.Photo] {
	ctx = logger.Ctx(ctx, slog.String("feed", feed.String()))

	return async.Go(func() ([]photorama.Photo, error) {
		raw, err := s.fetcher.FetchFeed(ctx, feed)
		if err != nil {
			return nil, fmt.Errorf("error fetching feed: %w", err)
		}

		s.writeMu.Lock()
		res, err := s.reconciler.Reconcile(ctx, raw, feed)
		s.writeMu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("error reconciling feed: %w", err)
		}

		if s.syncer != nil {
			if err := s.syncer.Sync(ctx, feed, raw); err != nil {
				slog.WarnContext(ctx, "error syncing companion", "error", err)
			}
		}

		return res.Inserted, nil
	})
}

// FetchFeedNotify is FetchFeed with the result delivered to fn on the dispatcher.
func (s *Store) FetchFeedNotify(ctx context.Context, feed photorama.FeedType, fn func([]photorama.Photo, error)) {
	s.FetchFeed(ctx, feed).Then(s.dispatcher, fn)
}

// QueryFeed returns the stored photos of a feed, oldest taken first.
func (s *Store) QueryFeed(ctx context.Context, feed photorama.FeedType) ([]photorama.Photo, error) {
	photos, err := s.repo.PhotosByFeed(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("error querying feed: %w", err)
	}

	return photos, nil
}

// Photo looks up a single stored photo.
func (s *Store) Photo(ctx context.Context, photoID string) (photorama.Photo, error) {
	return s.repo.Photo(ctx, photoID)
}

// Tags returns every known tag, sorted by name.
func (s *Store) Tags(ctx context.Context) ([]photorama.Tag, error) {
	tags, err := s.repo.AllTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("error querying tags: %w", err)
	}

	return tags, nil
}

// FetchImage gets the image of a stored photo, from the cache when possible.
//
// Every stored photo has an ID and a URL; it panics on one that doesn't, as
// that means the store is corrupt.
func (s *Store) FetchImage(ctx context.Context, p photorama.Photo) *async.Task[[]byte] {
	if p.PhotoID == "" || p.RemoteURL == "" {
		panic(fmt.Sprintf("photostore: photo %q has no id or remote url", p.PhotoID))
	}

	ctx = logger.Ctx(ctx, slog.String("photo_id", p.PhotoID))
	return async.Go(func() ([]byte, error) {
		return s.images.FetchAndCache(ctx, p.PhotoID, p.RemoteURL)
	})
}

// Refresh fetches the feed and renders everything stored for it, or logs
// why it couldn't.
func (s *Store) Refresh(ctx context.Context, feed photorama.FeedType, r photorama.Renderer) *async.Task[[]photorama.Photo] {
	return async.Go(func() ([]photorama.Photo, error) {
		if _, err := s.FetchFeed(ctx, feed).Wait(ctx); err != nil {
			slog.ErrorContext(ctx, "error refreshing feed", "feed", feed, "error", err)
			return nil, err
		}

		photos, err := s.QueryFeed(ctx, feed)
		if err != nil {
			return nil, err
		}
		s.dispatcher.Dispatch(func() { r.RenderPhotos(photos) })

		return photos, nil
	})
}

// ShowImage fetches the image of p and renders it on the dispatcher.
func (s *Store) ShowImage(ctx context.Context, p photorama.Photo, r photorama.Renderer) {
	s.FetchImage(ctx, p).Then(s.dispatcher, func(img []byte, err error) {
		if err != nil {
			slog.ErrorContext(ctx, "error fetching image", "photo_id", p.PhotoID, "error", err)
			return
		}
		r.RenderImage(img, p)
	})
}
