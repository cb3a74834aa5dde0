package sqlite

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/photorama/internal/migrations"
	"github.com/jdholdren/photorama/internal/photorama"
)

// Ensure Repo implements the PhotoRepo interface
var _ photorama.PhotoRepo = (*Repo)(nil)

// Extended sqlite result code for a foreign key violation.
const codeConstraintForeignKey = 787

type Repo struct {
	db *sqlx.DB

	// SQLite only has the one writer, so writes from this process queue here
	// instead of bouncing off the busy timeout.
	writeMu sync.Mutex
}

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// Open connects to the database file at path and migrates it.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite",
		path,
	)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}
	if err := dbx.PingContext(ctx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error connecting to database: %s", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, err
	}

	return dbx, nil
}
