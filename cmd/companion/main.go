// Companion shows the photos of a single feed as they're handed over by the
// primary process through the shared directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/photorama/internal/companion"
	"github.com/jdholdren/photorama/internal/imagecache"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/transfer"
	"github.com/jdholdren/photorama/logger"
)

type config struct {
	SharedDir string `env:"SHARED_DIR, default=./shared"`
	CacheDir  string `env:"CACHE_DIR, default=./companion-cache"`
	Feed      string `env:"FEED, default=interesting"`
	// Opens the newest photo's detail every time the list changes
	ShowDetail bool `env:"SHOW_DETAIL, default=true"`

	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`
	LogFile      string     `env:"LOG_FILE"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, logger.Options{
		Format: cfg.LoggerFormat,
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
	}))

	if err := runCompanion(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runCompanion(ctx context.Context, cfg config) error {
	feed, err := photorama.ParseFeedType(cfg.Feed)
	if err != nil {
		return err
	}

	ch, err := transfer.NewDir(cfg.SharedDir)
	if err != nil {
		return fmt.Errorf("error creating transfer channel: %s", err)
	}

	ctx, cancel := context.WithCancel(logger.Ctx(ctx, slog.String("feed", feed.String())))
	defer cancel()

	thumbClient := safeurl.Client(safeurl.GetConfigBuilder().
		SetTimeout(30*time.Second).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build())
	thumbs, err := imagecache.New(imagecache.Config{Dir: cfg.CacheDir, MemoryEntries: 32}, thumbClient.Client, nil)
	if err != nil {
		return fmt.Errorf("error creating thumbnail cache: %s", err)
	}

	renderer := &logRenderer{}
	viewer := companion.NewViewer(ch, cfg.SharedDir, renderer, thumbs)
	if cfg.ShowDetail {
		renderer.onPhotos = func(photos []photorama.Photo) {
			if len(photos) == 0 {
				return
			}
			// Off the render path; the fetch can take a while
			go func(id string) {
				if err := viewer.ShowDetail(ctx, id); err != nil {
					slog.WarnContext(ctx, "error showing detail", "id", id, "error", err)
				}
			}(photos[0].PhotoID)
		}
	}
	// Subscribed before the inbox is drained so nothing waiting is missed
	if err := viewer.Start(ctx, feed); err != nil {
		return fmt.Errorf("error starting viewer: %s", err)
	}
	defer viewer.Stop()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		stop := make(chan struct{})
		g.Add(func() error {
			if err := ch.Start(); err != nil {
				return fmt.Errorf("error watching shared dir: %s", err)
			}
			slog.InfoContext(ctx, "companion listening", "dir", cfg.SharedDir)
			<-stop

			return nil
		}, func(error) {
			close(stop)
			cancel()
			if err := ch.Close(); err != nil {
				slog.Error("error closing transfer channel", "error", err)
			}
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("companion stopped", "reason", err)
		return nil
	}

	return err
}

// Stands in for a screen: every render is a log line.
type logRenderer struct {
	onPhotos func([]photorama.Photo)
}

func (r *logRenderer) RenderPhotos(photos []photorama.Photo) {
	slog.Info("showing photos", "count", len(photos))
	for i, p := range photos {
		slog.Info("photo",
			"position", i,
			"id", p.PhotoID,
			"title", p.Title,
			"uploaded", p.DateUploaded,
			"url", p.RemoteURL,
		)
	}
	if r.onPhotos != nil {
		r.onPhotos(photos)
	}
}

func (*logRenderer) RenderImage(img []byte, p photorama.Photo) {
	slog.Info("showing image", "id", p.PhotoID, "bytes", len(img))
}
