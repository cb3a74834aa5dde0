package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/photorama/internal/photorama"
)

var photoColumns = []string{
	"photo_id",
	"title",
	"remote_url",
	"date_taken",
	"date_uploaded",
	"width",
	"height",
	"feed_type",
	"created_at",
}

// InsertIfAbsent writes p unless a photo with the same ID is already stored.
// Existing rows are never touched.
func (r *Repo) InsertIfAbsent(ctx context.Context, p photorama.Photo) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return insertPhoto(ctx, r.db, p)
}

// InsertWithTags writes p and links it to the named tags, creating the tags
// that don't exist yet. It's all one transaction: either the photo is stored
// with every tag or nothing is.
//
// Returns the photo as stored and whether it was written. A photo that's
// already stored is left alone, tags included.
func (r *Repo) InsertWithTags(ctx context.Context, p photorama.Photo, tagNames []string) (photorama.Photo, bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return photorama.Photo{}, false, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertPhoto(ctx, tx, p)
	if err != nil || !inserted {
		return photorama.Photo{}, false, err
	}

	tags := make([]photorama.Tag, 0, len(tagNames))
	ids := make([]string, 0, len(tagNames))
	for _, name := range tagNames {
		tag, err := ensureTag(ctx, tx, name)
		if err != nil {
			return photorama.Photo{}, false, fmt.Errorf("error ensuring tag %q: %w", name, err)
		}
		tags = append(tags, tag)
		ids = append(ids, tag.ID)
	}
	if err := tagPhoto(ctx, tx, p.PhotoID, ids); err != nil {
		return photorama.Photo{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return photorama.Photo{}, false, fmt.Errorf("error committing transaction: %w", err)
	}

	stored := normalize(p)
	if len(tags) > 0 {
		stored.Tags = tags
	}
	return stored, true, nil
}

func insertPhoto(ctx context.Context, e sqlx.ExtContext, p photorama.Photo) (bool, error) {
	const q = `INSERT INTO photos (photo_id, title, remote_url, date_taken, date_uploaded, width, height, feed_type, created_at)
	VALUES (:photo_id, :title, :remote_url, :date_taken, :date_uploaded, :width, :height, :feed_type, :created_at)
	ON CONFLICT(photo_id) DO NOTHING;`

	p.DateTaken = p.DateTaken.UTC()
	p.DateUploaded = p.DateUploaded.UTC()
	p.CreatedAt = time.Now().UTC()

	res, err := sqlx.NamedExecContext(ctx, e, q, p)
	if err != nil {
		return false, fmt.Errorf("error inserting photo: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking inserted rows: %s", err)
	}

	return n == 1, nil
}

func (r *Repo) PhotoExists(ctx context.Context, photoID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM photos WHERE photo_id = ?);`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, photoID); err != nil {
		return false, fmt.Errorf("error checking for photo: %s", err)
	}

	return exists, nil
}

func (r *Repo) Photo(ctx context.Context, photoID string) (photorama.Photo, error) {
	query, args, err := sq.Select(photoColumns...).From("photos").Where(sq.Eq{"photo_id": photoID}).ToSql()
	if err != nil {
		return photorama.Photo{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var photo photorama.Photo
	err = r.db.GetContext(ctx, &photo, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return photorama.Photo{}, photorama.ErrNotFound
	}
	if err != nil {
		return photorama.Photo{}, fmt.Errorf("error fetching photo: %s", err)
	}

	photos := []photorama.Photo{photo}
	if err := r.attachTags(ctx, photos); err != nil {
		return photorama.Photo{}, err
	}

	return normalize(photos[0]), nil
}

// PhotosByFeed returns every photo of the feed, oldest taken first.
func (r *Repo) PhotosByFeed(ctx context.Context, feed photorama.FeedType) ([]photorama.Photo, error) {
	query, args, err := sq.Select(photoColumns...).
		From("photos").
		Where(sq.Eq{"feed_type": feed.String()}).
		OrderBy("date_taken ASC", "photo_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	photos := []photorama.Photo{}
	if err := r.db.SelectContext(ctx, &photos, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching photos: %s", err)
	}
	if err := r.attachTags(ctx, photos); err != nil {
		return nil, err
	}
	for i := range photos {
		photos[i] = normalize(photos[i])
	}

	return photos, nil
}

// Loads the tags of every given photo in a single query.
func (r *Repo) attachTags(ctx context.Context, photos []photorama.Photo) error {
	if len(photos) == 0 {
		return nil
	}

	ids := make([]string, len(photos))
	for i, p := range photos {
		ids[i] = p.PhotoID
	}

	query, args, err := sq.Select("pt.photo_id AS photo_id", "t.id AS id", "t.name AS name", "t.created_at AS created_at").
		From("photo_tags pt").
		Join("tags t ON t.id = pt.tag_id").
		Where(sq.Eq{"pt.photo_id": ids}).
		OrderBy("t.name ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []struct {
		PhotoID string `db:"photo_id"`
		photorama.Tag
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return fmt.Errorf("error fetching photo tags: %s", err)
	}

	byPhoto := make(map[string][]photorama.Tag, len(photos))
	for _, row := range rows {
		row.Tag.CreatedAt = row.Tag.CreatedAt.UTC()
		byPhoto[row.PhotoID] = append(byPhoto[row.PhotoID], row.Tag)
	}
	for i := range photos {
		photos[i].Tags = byPhoto[photos[i].PhotoID]
	}

	return nil
}

// Times come back from the driver with a fixed zone; callers expect UTC.
func normalize(p photorama.Photo) photorama.Photo {
	p.DateTaken = p.DateTaken.UTC()
	p.DateUploaded = p.DateUploaded.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p
}
