package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/jdholdren/photorama/internal/photorama"
)

const tagNamespace = "-tag"

// EnsureTag returns the tag called name, creating it the first time it's seen.
func (r *Repo) EnsureTag(ctx context.Context, name string) (photorama.Tag, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return ensureTag(ctx, r.db, name)
}

// TagPhoto links the photo to each of the tags. Links that already exist are left alone.
func (r *Repo) TagPhoto(ctx context.Context, photoID string, tagIDs ...string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return tagPhoto(ctx, r.db, photoID, tagIDs)
}

func ensureTag(ctx context.Context, e sqlx.ExtContext, name string) (photorama.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return photorama.Tag{}, errors.New("tag name is empty")
	}

	const insertQ = `INSERT INTO tags (id, name, created_at) VALUES (:id, :name, :created_at)
	ON CONFLICT(name) DO NOTHING;`
	tag := photorama.Tag{
		ID:        fmt.Sprintf("%s%s", uuid.NewString(), tagNamespace),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := sqlx.NamedExecContext(ctx, e, insertQ, tag); err != nil {
		return photorama.Tag{}, fmt.Errorf("error inserting tag: %s", err)
	}

	return tagByName(ctx, e, name)
}

func tagByName(ctx context.Context, q sqlx.QueryerContext, name string) (photorama.Tag, error) {
	const selectQ = `SELECT id, name, created_at FROM tags WHERE name = ?;`

	var tag photorama.Tag
	err := sqlx.GetContext(ctx, q, &tag, selectQ, name)
	if errors.Is(err, sql.ErrNoRows) {
		return photorama.Tag{}, photorama.ErrNotFound
	}
	if err != nil {
		return photorama.Tag{}, fmt.Errorf("error fetching tag: %s", err)
	}
	tag.CreatedAt = tag.CreatedAt.UTC()

	return tag, nil
}

func tagPhoto(ctx context.Context, e sqlx.ExecerContext, photoID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}

	q := sq.Insert("photo_tags").Columns("photo_id", "tag_id")
	for _, id := range tagIDs {
		q = q.Values(photoID, id)
	}
	query, args, err := q.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	_, err = e.ExecContext(ctx, query, args...)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == codeConstraintForeignKey {
		return fmt.Errorf("photo or tag does not exist: %w", photorama.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error tagging photo: %s", err)
	}

	return nil
}

// AllTags returns _all_ tags, sorted by name.
func (r *Repo) AllTags(ctx context.Context) ([]photorama.Tag, error) {
	const q = `SELECT id, name, created_at FROM tags ORDER BY name ASC;`

	tags := []photorama.Tag{}
	if err := r.db.SelectContext(ctx, &tags, q); err != nil {
		return nil, fmt.Errorf("error selecting all tags: %s", err)
	}
	for i := range tags {
		tags[i].CreatedAt = tags[i].CreatedAt.UTC()
	}

	return tags, nil
}
