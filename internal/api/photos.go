package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdholdren/photorama/api"
	v1 "github.com/jdholdren/photorama/api/photos/v1"
	seyerrs "github.com/jdholdren/photorama/internal/errors"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/serverutil"
)

func (s Server) getFeedPhotos(w http.ResponseWriter, r *http.Request) error {
	req := v1.ListPhotosRequest{
		Feed:  mux.Vars(r)["feed"],
		Limit: r.URL.Query().Get("limit"),
	}
	limit, err := req.Validate(func(feed string) bool { return photorama.FeedType(feed).Valid() })
	if err != nil {
		return invalid(err)
	}

	photos, err := s.photos.QueryFeed(r.Context(), photorama.FeedType(req.Feed))
	if err != nil {
		return err
	}
	// Newest taken last, so a limit keeps the most recent ones
	if limit > 0 && len(photos) > limit {
		photos = photos[len(photos)-limit:]
	}

	return serverutil.WriteJSON(w, http.StatusOK, v1.PhotosResponse{
		Feed:   req.Feed,
		Photos: photosToWire(photos),
	})
}

func (s Server) postFeedRefresh(timeout time.Duration) serverutil.HandlerFuncE {
	return func(w http.ResponseWriter, r *http.Request) error {
		feed, err := photorama.ParseFeedType(mux.Vars(r)["feed"])
		if err != nil {
			return seyerrs.E(http.StatusNotFound, err)
		}

		// The refresh finishes even if the caller stops waiting for it
		task := s.photos.FetchFeed(context.WithoutCancel(r.Context()), feed)

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		inserted, err := task.Wait(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return seyerrs.E(http.StatusGatewayTimeout, "refresh is taking too long")
		}
		if err != nil {
			return err
		}

		return serverutil.WriteJSON(w, http.StatusOK, v1.RefreshResponse{
			Feed:     feed.String(),
			Inserted: photosToWire(inserted),
		})
	}
}

func (s Server) getPhoto(w http.ResponseWriter, r *http.Request) error {
	photo, err := s.photos.Photo(r.Context(), mux.Vars(r)["photoID"])
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, photoToWire(photo))
}

func (s Server) getPhotoImage(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	photo, err := s.photos.Photo(ctx, mux.Vars(r)["photoID"])
	if err != nil {
		return err
	}

	img, err := s.photos.FetchImage(ctx, photo).Wait(ctx)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(img)
	return err
}

func (s Server) getTags(w http.ResponseWriter, r *http.Request) error {
	tags, err := s.photos.Tags(r.Context())
	if err != nil {
		return err
	}

	resp := v1.TagsResponse{Tags: make([]v1.Tag, 0, len(tags))}
	for _, t := range tags {
		resp.Tags = append(resp.Tags, v1.Tag{ID: t.ID, Name: t.Name})
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

// Turns a validation failure into a 400 with its details.
func invalid(err error) error {
	var apiErr api.Error
	if !errors.As(err, &apiErr) {
		return seyerrs.E(http.StatusBadRequest, err)
	}

	details := make([]seyerrs.Detail, 0, len(apiErr.Details))
	for _, d := range apiErr.Details {
		details = append(details, seyerrs.Detail{Field: d.Field, Error: d.Error})
	}
	return seyerrs.E(http.StatusBadRequest, apiErr.Message, details)
}

func photosToWire(photos []photorama.Photo) []v1.Photo {
	out := make([]v1.Photo, 0, len(photos))
	for _, p := range photos {
		out = append(out, photoToWire(p))
	}
	return out
}

func photoToWire(p photorama.Photo) v1.Photo {
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		tags = append(tags, t.Name)
	}

	return v1.Photo{
		ID:           p.PhotoID,
		Title:        p.Title,
		RemoteURL:    p.RemoteURL,
		ImageURL:     fmt.Sprintf("/api/photos/%s/image", p.PhotoID),
		DateTaken:    p.DateTaken,
		DateUploaded: p.DateUploaded,
		Width:        p.Width,
		Height:       p.Height,
		Feed:         p.FeedType.String(),
		Tags:         tags,
	}
}
