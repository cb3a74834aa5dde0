// Photorama keeps a local store of the public photo feeds, serves it to the
// presentation layer and hands every fetched feed on to the companion.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/photorama/internal/api"
	"github.com/jdholdren/photorama/internal/async"
	"github.com/jdholdren/photorama/internal/companion"
	"github.com/jdholdren/photorama/internal/flickr"
	"github.com/jdholdren/photorama/internal/imagecache"
	"github.com/jdholdren/photorama/internal/metrics"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/photostore"
	"github.com/jdholdren/photorama/internal/sqlite"
	"github.com/jdholdren/photorama/internal/transfer"
	"github.com/jdholdren/photorama/logger"
)

type config struct {
	Database     string `env:"DATABASE, required"`
	FlickrAPIKey string `env:"FLICKR_API_KEY, required"`

	FlickrBaseURL string  `env:"FLICKR_BASE_URL, default=https://api.flickr.com/services/rest"`
	FlickrRPS     float64 `env:"FLICKR_REQUESTS_PER_SECOND, default=1"`
	// Where snapshots and transfer manifests are written for the companion
	SharedDir string `env:"SHARED_DIR, default=./shared"`
	CacheDir  string `env:"CACHE_DIR, default=./cache"`

	Port       int    `env:"PORT, default=4444"`
	CorsHeader string `env:"CORS_HEADER, default=*"`
	// How often both feeds are fetched. Zero turns it off.
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL, default=15m"`

	// Which format to use for logging: either text or json
	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`
	LogFile      string     `env:"LOG_FILE"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, logger.Options{
		Format: cfg.LoggerFormat,
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
	}))

	if err := run(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port, "shared_dir", cfg.SharedDir, "cache_dir", cfg.CacheDir)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	// The file can be briefly locked by another process on startup
	var dbx *sqlx.DB
	if err := retry.Do(ctx, retry.WithMaxRetries(5, retry.NewFibonacci(500*time.Millisecond)), func(ctx context.Context) error {
		db, err := sqlite.Open(ctx, cfg.Database)
		if err != nil {
			return retry.RetryableError(err)
		}
		dbx = db

		return nil
	}); err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	fetcher, err := flickr.NewClient(flickr.Config{
		BaseURL:           cfg.FlickrBaseURL,
		APIKey:            cfg.FlickrAPIKey,
		RequestsPerSecond: cfg.FlickrRPS,
	}, nil, m)
	if err != nil {
		return fmt.Errorf("error creating flickr client: %s", err)
	}

	// Image urls come out of the remote payload, so they're not trusted to
	// point anywhere public.
	imageClient := safeurl.Client(safeurl.GetConfigBuilder().
		SetTimeout(30*time.Second).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build())
	images, err := imagecache.New(imagecache.Config{Dir: cfg.CacheDir}, imageClient.Client, m)
	if err != nil {
		return fmt.Errorf("error creating image cache: %s", err)
	}

	ch, err := transfer.NewDir(cfg.SharedDir)
	if err != nil {
		return fmt.Errorf("error creating transfer channel: %s", err)
	}
	sender, err := companion.NewSender(cfg.SharedDir, ch, m)
	if err != nil {
		return fmt.Errorf("error creating companion sender: %s", err)
	}

	queue := async.NewQueue(64)
	store := photostore.New(photostore.Params{
		Repo:       sqlite.New(dbx),
		Fetcher:    fetcher,
		Images:     images,
		Syncer:     sender,
		Dispatcher: queue,
		Metrics:    m,
	})

	s := api.NewServer(api.ServerConfig{
		Port:       cfg.Port,
		CorsHeader: cfg.CorsHeader,
		Metrics:    metrics.Handler(reg),
	}, store)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Start the server
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	})
	g.Go(func() error {
		// Block from shutting down until the group is canceled
		<-gCtx.Done()

		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}

		return nil
	})
	g.Go(func() error {
		// Completion callbacks all run here
		return queue.Run(gCtx)
	})
	if cfg.RefreshInterval > 0 {
		g.Go(func() error {
			refreshLoop(gCtx, store, cfg.RefreshInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}

// Fetches every feed straight away and then on each tick until ctx is done.
func refreshLoop(ctx context.Context, store *photostore.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		for _, feed := range photorama.FeedTypes {
			store.FetchFeedNotify(ctx, feed, func(inserted []photorama.Photo, err error) {
				if err != nil {
					slog.WarnContext(ctx, "error refreshing feed", "feed", feed, "error", err)
					return
				}
				slog.InfoContext(ctx, "refreshed feed", "feed", feed, "inserted", len(inserted))
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
