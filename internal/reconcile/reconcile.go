// Package reconcile merges a freshly fetched feed into the photo store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jdholdren/photorama/internal/flickr"
	"github.com/jdholdren/photorama/internal/metrics"
	"github.com/jdholdren/photorama/internal/photorama"
)

// Result is what a reconciliation did with each record.
type Result struct {
	// Photos newly written, in payload order.
	Inserted []photorama.Photo
	// One error per skipped record; each wraps [photorama.ErrInvalidRecord] or
	// [photorama.ErrDuplicateRecord].
	Skipped []error
}

type Reconciler struct {
	repo    photorama.PhotoRepo
	metrics *metrics.Collector
}

func New(repo photorama.PhotoRepo, m *metrics.Collector) *Reconciler {
	return &Reconciler{repo: repo, metrics: m}
}

// Reconcile parses raw and inserts every valid record whose photo ID isn't
// stored yet. Existing photos are left exactly as they are.
//
// A malformed document inserts nothing. A store failure stops reconciliation
// and is reported as [photorama.ErrPersistence]; photos inserted before it stay.
// A photo is only ever stored together with all of its tags.
func (r *Reconciler) Reconcile(ctx context.Context, raw []byte, feed photorama.FeedType) (Result, error) {
	records, invalid, err := flickr.ParseRecords(raw, feed)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Inserted: []photorama.Photo{},
		Skipped:  invalid,
	}
	for _, err := range invalid {
		slog.WarnContext(ctx, "skipping invalid record", "feed", feed, "error", err)
		r.metrics.RecordSkipped(feed.String(), "invalid")
	}

	for _, rec := range records {
		inserted, err := r.insert(ctx, rec)
		if errors.Is(err, photorama.ErrDuplicateRecord) {
			res.Skipped = append(res.Skipped, err)
			r.metrics.RecordSkipped(feed.String(), "duplicate")
			continue
		}
		if err != nil {
			r.metrics.RecordInserted(feed.String(), len(res.Inserted))
			return res, err
		}
		res.Inserted = append(res.Inserted, inserted)
	}

	r.metrics.RecordInserted(feed.String(), len(res.Inserted))
	slog.InfoContext(ctx, "reconciled feed",
		"feed", feed,
		"records", len(records)+len(invalid),
		"inserted", len(res.Inserted),
		"skipped", len(res.Skipped),
	)

	return res, nil
}

func (r *Reconciler) insert(ctx context.Context, rec flickr.Record) (photorama.Photo, error) {
	dupe := &photorama.RecordError{
		Index:   rec.Index,
		PhotoID: rec.Photo.PhotoID,
		Err:     photorama.ErrDuplicateRecord,
	}

	exists, err := r.repo.PhotoExists(ctx, rec.Photo.PhotoID)
	if err != nil {
		return photorama.Photo{}, fmt.Errorf("%w: %w", photorama.ErrPersistence, err)
	}
	if exists {
		return photorama.Photo{}, dupe
	}

	// Something else may have written it since the check
	stored, inserted, err := r.repo.InsertWithTags(ctx, rec.Photo, rec.Tags)
	if err != nil {
		return photorama.Photo{}, fmt.Errorf("%w: %w", photorama.ErrPersistence, err)
	}
	if !inserted {
		return photorama.Photo{}, dupe
	}

	return stored, nil
}
