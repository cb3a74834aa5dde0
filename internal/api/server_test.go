package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/jdholdren/photorama/api/photos/v1"
	"github.com/jdholdren/photorama/internal/async"
	"github.com/jdholdren/photorama/internal/photorama"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakePhotos struct {
	photos   map[photorama.FeedType][]photorama.Photo
	tags     []photorama.Tag
	fetchErr error
	image    []byte
	imageErr error

	fetched []photorama.FeedType
}

func (f *fakePhotos) FetchFeed(_ context.Context, feed photorama.FeedType) *async.Task[[]photorama.Photo] {
	f.fetched = append(f.fetched, feed)
	if f.fetchErr != nil {
		return async.Resolved[[]photorama.Photo](nil, f.fetchErr)
	}
	return async.Resolved(f.photos[feed], nil)
}

func (f *fakePhotos) QueryFeed(_ context.Context, feed photorama.FeedType) ([]photorama.Photo, error) {
	return f.photos[feed], nil
}

func (f *fakePhotos) Photo(_ context.Context, photoID string) (photorama.Photo, error) {
	for _, photos := range f.photos {
		for _, p := range photos {
			if p.PhotoID == photoID {
				return p, nil
			}
		}
	}
	return photorama.Photo{}, photorama.ErrNotFound
}

func (f *fakePhotos) FetchImage(_ context.Context, _ photorama.Photo) *async.Task[[]byte] {
	return async.Resolved(f.image, f.imageErr)
}

func (f *fakePhotos) Tags(context.Context) ([]photorama.Tag, error) {
	return f.tags, nil
}

func testPhoto(id string, feed photorama.FeedType, taken time.Time) photorama.Photo {
	return photorama.Photo{
		PhotoID:      id,
		Title:        "photo " + id,
		RemoteURL:    "https://live.staticflickr.com/" + id + ".jpg",
		DateTaken:    taken,
		DateUploaded: taken.Add(time.Hour),
		Width:        800,
		Height:       600,
		FeedType:     feed,
		Tags:         []photorama.Tag{{ID: "t1", Name: "sunset"}},
	}
}

func newTestServer(f *fakePhotos) http.Handler {
	return NewServer(ServerConfig{Port: 0, CorsHeader: "*"}, f).Handler
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestGetFeedPhotos(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakePhotos{photos: map[photorama.FeedType][]photorama.Photo{
		photorama.FeedInteresting: {
			testPhoto("1", photorama.FeedInteresting, base),
			testPhoto("2", photorama.FeedInteresting, base.Add(time.Hour)),
			testPhoto("3", photorama.FeedInteresting, base.Add(2*time.Hour)),
		},
	}}
	h := newTestServer(f)

	t.Run("all", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/feeds/interesting/photos")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp v1.PhotosResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "interesting", resp.Feed)
		require.Len(t, resp.Photos, 3)
		assert.Equal(t, "1", resp.Photos[0].ID)
		assert.Equal(t, "/api/photos/1/image", resp.Photos[0].ImageURL)
		assert.Equal(t, []string{"sunset"}, resp.Photos[0].Tags)
		assert.Equal(t, "interesting", resp.Photos[0].Feed)
	})

	t.Run("limit keeps the latest", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/feeds/interesting/photos?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp v1.PhotosResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Photos, 2)
		assert.Equal(t, "2", resp.Photos[0].ID)
		assert.Equal(t, "3", resp.Photos[1].ID)
	})

	t.Run("empty feed", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/feeds/recent/photos")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp v1.PhotosResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.NotNil(t, resp.Photos)
		assert.Empty(t, resp.Photos)
	})
}

func TestGetFeedPhotos_Invalid(t *testing.T) {
	h := newTestServer(&fakePhotos{})

	tcs := []struct {
		path   string
		fields []string
	}{
		{path: "/api/feeds/popular/photos", fields: []string{"feed"}},
		{path: "/api/feeds/recent/photos?limit=0", fields: []string{"limit"}},
		{path: "/api/feeds/recent/photos?limit=abc", fields: []string{"limit"}},
		{path: fmt.Sprintf("/api/feeds/nope/photos?limit=%d", v1.MaxLimit+1), fields: []string{"feed", "limit"}},
	}
	for _, tc := range tcs {
		t.Run(tc.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tc.path)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body struct {
				Status  int `json:"status"`
				Details []struct {
					Field string `json:"field"`
				} `json:"details"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, http.StatusBadRequest, body.Status)

			var fields []string
			for _, d := range body.Details {
				fields = append(fields, d.Field)
			}
			assert.Equal(t, tc.fields, fields)
		})
	}
}

func TestPostFeedRefresh(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakePhotos{photos: map[photorama.FeedType][]photorama.Photo{
		photorama.FeedRecent: {testPhoto("9", photorama.FeedRecent, base)},
	}}
	h := newTestServer(f)

	rec := do(t, h, http.MethodPost, "/api/feeds/recent:refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.RefreshResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "recent", resp.Feed)
	require.Len(t, resp.Inserted, 1)
	assert.Equal(t, "9", resp.Inserted[0].ID)
	assert.Equal(t, []photorama.FeedType{photorama.FeedRecent}, f.fetched)

	t.Run("unknown feed", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/feeds/popular:refresh")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("get is not allowed", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/feeds/recent:refresh")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestPostFeedRefresh_Errors(t *testing.T) {
	tcs := []struct {
		name   string
		err    error
		status int
	}{
		{name: "transport", err: fmt.Errorf("%w: connection refused", photorama.ErrTransport), status: http.StatusBadGateway},
		{name: "malformed", err: fmt.Errorf("%w: no photos", photorama.ErrMalformedFeed), status: http.StatusBadGateway},
		{name: "persistence", err: fmt.Errorf("%w: disk full", photorama.ErrPersistence), status: http.StatusInternalServerError},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&fakePhotos{fetchErr: tc.err})

			rec := do(t, h, http.MethodPost, "/api/feeds/interesting:refresh")
			assert.Equal(t, tc.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "disk full")
		})
	}
}

func TestGetPhoto(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakePhotos{
		photos: map[photorama.FeedType][]photorama.Photo{
			photorama.FeedInteresting: {testPhoto("1", photorama.FeedInteresting, base)},
		},
		image: pngHeader,
	}
	h := newTestServer(f)

	t.Run("found", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/photos/1")
		require.Equal(t, http.StatusOK, rec.Code)

		var p v1.Photo
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
		assert.Equal(t, "1", p.ID)
		assert.Equal(t, base, p.DateTaken)
		assert.Equal(t, 800, p.Width)
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/photos/nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("image", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/photos/1/image")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, pngHeader, rec.Body.Bytes())
	})

	t.Run("image not found", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/photos/nope/image")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetPhotoImage_Errors(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	photos := map[photorama.FeedType][]photorama.Photo{
		photorama.FeedInteresting: {testPhoto("1", photorama.FeedInteresting, base)},
	}

	tcs := []struct {
		name   string
		err    error
		status int
	}{
		{name: "decode", err: fmt.Errorf("%w: unknown format", photorama.ErrImageDecode), status: http.StatusUnsupportedMediaType},
		{name: "transport", err: fmt.Errorf("%w: status 404", photorama.ErrTransport), status: http.StatusBadGateway},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&fakePhotos{photos: photos, imageErr: tc.err})

			rec := do(t, h, http.MethodGet, "/api/photos/1/image")
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestGetTags(t *testing.T) {
	f := &fakePhotos{tags: []photorama.Tag{{ID: "a", Name: "beach"}, {ID: "b", Name: "sunset"}}}
	h := newTestServer(f)

	rec := do(t, h, http.MethodGet, "/api/tags")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.TagsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []v1.Tag{{ID: "a", Name: "beach"}, {ID: "b", Name: "sunset"}}, resp.Tags)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("photorama_up 1\n"))
	})
	h := NewServer(ServerConfig{CorsHeader: "*", Metrics: metrics}, &fakePhotos{}).Handler

	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "photorama_up")

	// Not mounted without a handler
	rec = do(t, newTestServer(&fakePhotos{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
