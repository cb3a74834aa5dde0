// Package photorama holds the domain types shared by the feed ingest, image
// cache and companion sync packages.
package photorama

import (
	"context"
	"fmt"
	"time"
)

// FeedType names one of the remote listings. It's also the partition key
// photos are stored under.
type FeedType string

const (
	FeedInteresting FeedType = "interesting"
	FeedRecent      FeedType = "recent"
)

// FeedTypes lists every known feed, in a stable order.
var FeedTypes = []FeedType{FeedInteresting, FeedRecent}

// ParseFeedType turns the textual form back into a FeedType.
func ParseFeedType(s string) (FeedType, error) {
	switch FeedType(s) {
	case FeedInteresting:
		return FeedInteresting, nil
	case FeedRecent:
		return FeedRecent, nil
	}

	return "", fmt.Errorf("unknown feed type %q", s)
}

func (f FeedType) String() string { return string(f) }

// Valid reports whether f is one of the known feeds.
func (f FeedType) Valid() bool {
	_, err := ParseFeedType(string(f))
	return err == nil
}

type (
	// Photo is a single record of a feed, as stored locally.
	//
	// Photos are only ever created by reconciliation and never updated afterwards.
	Photo struct {
		PhotoID      string    `db:"photo_id"`
		Title        string    `db:"title"`
		RemoteURL    string    `db:"remote_url"`
		DateTaken    time.Time `db:"date_taken"`
		DateUploaded time.Time `db:"date_uploaded"`
		Width        int       `db:"width"`
		Height       int       `db:"height"`
		FeedType     FeedType  `db:"feed_type"`
		CreatedAt    time.Time `db:"created_at"`

		Tags []Tag `db:"-"`
		// Small square rendition, when the payload has one. Only carried from
		// the payload, never stored.
		ThumbnailURL string `db:"-"`
	}

	// Tag is a label that can be shared by many photos.
	Tag struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}
)

// PhotoRepo is the persistent store photos are reconciled into.
type PhotoRepo interface {
	// InsertIfAbsent stores the photo unless one with the same ID already exists.
	//
	// Returns whether a row was written.
	InsertIfAbsent(ctx context.Context, p Photo) (bool, error)
	// InsertWithTags is InsertIfAbsent that also links the photo to the named
	// tags, creating them as needed, atomically. Returns the photo as stored.
	InsertWithTags(ctx context.Context, p Photo, tagNames []string) (Photo, bool, error)
	PhotoExists(ctx context.Context, photoID string) (bool, error)
	Photo(ctx context.Context, photoID string) (Photo, error)
	// PhotosByFeed returns the photos of a single feed ordered by the date they
	// were taken, oldest first, ties by photo ID.
	PhotosByFeed(ctx context.Context, feed FeedType) ([]Photo, error)

	// AllTags returns every tag ordered by name.
	AllTags(ctx context.Context) ([]Tag, error)
}

// Renderer is whatever presents photos to a person. The core never renders
// anything itself.
type Renderer interface {
	RenderPhotos(photos []Photo)
	RenderImage(img []byte, photo Photo)
}
