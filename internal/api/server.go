package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/photorama/internal/async"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/serverutil"
)

type (
	// Photos is the part of the photo store the API reads from.
	Photos interface {
		FetchFeed(ctx context.Context, feed photorama.FeedType) *async.Task[[]photorama.Photo]
		QueryFeed(ctx context.Context, feed photorama.FeedType) ([]photorama.Photo, error)
		Photo(ctx context.Context, photoID string) (photorama.Photo, error)
		FetchImage(ctx context.Context, p photorama.Photo) *async.Task[[]byte]
		Tags(ctx context.Context) ([]photorama.Tag, error)
	}

	// Server serves stored feeds and cached images to the presentation layer.
	Server struct {
		*http.Server

		photos Photos
	}

	ServerConfig struct {
		Port       int
		CorsHeader string
		// How long a refresh may take before the request gives up on it.
		RefreshTimeout time.Duration

		// Served on /metrics when set.
		Metrics http.Handler
	}
)

func NewServer(config ServerConfig, photos Photos) *Server {
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 30 * time.Second
	}
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	srvr := Server{
		photos: photos,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// Refreshes wait on the remote
			WriteTimeout: config.RefreshTimeout + 5*time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsHeader}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/api/feeds/{feed}/photos", srvr.getFeedPhotos).Methods(http.MethodGet)
	r.HandleFuncE("/api/feeds/{feed}:refresh", srvr.postFeedRefresh(config.RefreshTimeout)).Methods(http.MethodPost)
	r.HandleFuncE("/api/photos/{photoID}", srvr.getPhoto).Methods(http.MethodGet)
	r.HandleFuncE("/api/photos/{photoID}/image", srvr.getPhotoImage).Methods(http.MethodGet)
	r.HandleFuncE("/api/tags", srvr.getTags).Methods(http.MethodGet)

	if config.Metrics != nil {
		r.Handle("/metrics", config.Metrics).Methods(http.MethodGet)
	}

	slog.Debug("configured photorama server", "port", config.Port)

	return &srvr
}
