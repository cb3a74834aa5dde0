package flickr

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/photorama/internal/photorama"
)

const singlePhoto = `{"photos":{"photo":[{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"100","height_h":100,"dateupload":"1577836800"}]}}`

func TestParseRecords_Example(t *testing.T) {
	records, skipped, err := ParseRecords([]byte(singlePhoto), photorama.FeedInteresting)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, records, 1)

	want := photorama.Photo{
		PhotoID:      "1",
		Title:        "A",
		RemoteURL:    "https://x/1.jpg",
		DateTaken:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		DateUploaded: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Width:        100,
		Height:       100,
		FeedType:     photorama.FeedInteresting,
	}
	assert.Equal(t, want, records[0].Photo)
	assert.Equal(t, 0, records[0].Index)
	assert.Empty(t, records[0].Tags)
}

func TestDecodeFeed_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `<html>`},
		{"top level array", `[]`},
		{"no photos", `{"stat":"fail"}`},
		{"photos not an object", `{"photos":"nope"}`},
		{"photo missing", `{"photos":{"page":1}}`},
		{"photo not an array", `{"photos":{"photo":{}}}`},
		{"photo null", `{"photos":{"photo":null}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFeed([]byte(tt.raw))
			assert.ErrorIs(t, err, photorama.ErrMalformedFeed)

			_, _, err = ParseRecords([]byte(tt.raw), photorama.FeedRecent)
			assert.ErrorIs(t, err, photorama.ErrMalformedFeed)
		})
	}
}

func TestDecodeFeed_EmptyArray(t *testing.T) {
	items, err := DecodeFeed([]byte(`{"photos":{"photo":[]}}`))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseRecords_InvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		record string
		field  string
	}{
		{"not an object", `"hello"`, ""},
		{"missing id", `{"title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"1","height_h":1,"dateupload":"0"}`, "id"},
		{"numeric id", `{"id":1,"title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"1","height_h":1,"dateupload":"0"}`, "id"},
		{"missing title", `{"id":"1","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"1","height_h":1,"dateupload":"0"}`, "title"},
		{"bad date", `{"id":"1","title":"A","datetaken":"yesterday","url_h":"https://x/1.jpg","width_h":"1","height_h":1,"dateupload":"0"}`, "datetaken"},
		{"missing url", `{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","width_h":"1","height_h":1,"dateupload":"0"}`, "url_h"},
		{"relative url", `{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"/1.jpg","width_h":"1","height_h":1,"dateupload":"0"}`, "url_h"},
		{"width not a number", `{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"wide","height_h":1,"dateupload":"0"}`, "width_h"},
		{"zero height", `{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"1","height_h":0,"dateupload":"0"}`, "height_h"},
		{"null dateupload", `{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"1","height_h":1,"dateupload":null}`, "dateupload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"photos":{"photo":[` + tt.record + `]}}`
			records, skipped, err := ParseRecords([]byte(raw), photorama.FeedRecent)
			require.NoError(t, err)
			assert.Empty(t, records)
			require.Len(t, skipped, 1)

			assert.ErrorIs(t, skipped[0], photorama.ErrInvalidRecord)
			var recErr *photorama.RecordError
			require.True(t, errors.As(skipped[0], &recErr))
			assert.Equal(t, tt.field, recErr.Field)
			assert.Equal(t, 0, recErr.Index)
		})
	}
}

func TestParseRecords_PartialFailure(t *testing.T) {
	raw := `{"photos":{"photo":[
		{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","width_h":"100","height_h":100,"dateupload":"1577836800"},
		{"id":"2","title":"B","datetaken":"2020-01-02 00:00:00","width_h":"100","height_h":100,"dateupload":"1577836800"},
		{"id":"3","title":"C","datetaken":"2020-01-03 00:00:00","url_h":"https://x/3.jpg","width_h":100,"height_h":"100","dateupload":1577836800}
	]}}`

	records, skipped, err := ParseRecords([]byte(raw), photorama.FeedRecent)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].Photo.PhotoID)
	assert.Equal(t, "3", records[1].Photo.PhotoID)
	assert.Equal(t, 2, records[1].Index)

	require.Len(t, skipped, 1)
	var recErr *photorama.RecordError
	require.True(t, errors.As(skipped[0], &recErr))
	assert.Equal(t, 1, recErr.Index)
	assert.Equal(t, "2", recErr.PhotoID)
	assert.Equal(t, "url_h", recErr.Field)
}

func TestParseRecords_TitleAndTags(t *testing.T) {
	raw := `{"photos":{"photo":[{"id":"9","title":"  <b>Sunset</b> &amp; sea ","datetaken":"2021-06-01 18:30:00","url_h":"https://x/9.jpg","width_h":"10","height_h":10,"dateupload":"1622572200","tags":"sunset sea sunset"}]}}`

	records, _, err := ParseRecords([]byte(raw), photorama.FeedInteresting)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Sunset & sea", records[0].Photo.Title)
	assert.Equal(t, []string{"sunset", "sea"}, records[0].Tags)
}

func TestParseRecords_BadTagsIgnored(t *testing.T) {
	raw := `{"photos":{"photo":[{"id":"9","title":"","datetaken":"2021-06-01 18:30:00","url_h":"https://x/9.jpg","width_h":"10","height_h":10,"dateupload":"1622572200","tags":["a"]}]}}`

	records, skipped, err := ParseRecords([]byte(raw), photorama.FeedInteresting)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Tags)
}

func TestParsePhotos(t *testing.T) {
	photos, skipped, err := ParsePhotos([]byte(singlePhoto), photorama.FeedRecent)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, photos, 1)
	assert.Equal(t, photorama.FeedRecent, photos[0].FeedType)
}

func TestSanitize_Length(t *testing.T) {
	tcs := []struct {
		name string
		in   string
		want string
	}{
		{name: "short", in: "hello", want: "hello"},
		{name: "exact", in: strings.Repeat("a", maxTitleLen), want: strings.Repeat("a", maxTitleLen)},
		{name: "ascii cut", in: strings.Repeat("a", maxTitleLen+10), want: strings.Repeat("a", maxTitleLen)},
		// The two byte rune would straddle the limit
		{name: "rune at the limit", in: strings.Repeat("a", maxTitleLen-1) + "é", want: strings.Repeat("a", maxTitleLen-1)},
		{name: "four byte runes", in: strings.Repeat("😀", maxTitleLen/4+1), want: strings.Repeat("😀", maxTitleLen/4)},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got := sanitize(tc.in)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), maxTitleLen)
		})
	}
}

func TestParseRecords_Thumbnail(t *testing.T) {
	raw := `{"photos":{"photo":[
		{"id":"1","title":"A","datetaken":"2020-01-01 00:00:00","url_h":"https://x/1.jpg","url_q":"https://x/1_q.jpg","width_h":"100","height_h":100,"dateupload":"1577836800"},
		{"id":"2","title":"B","datetaken":"2020-01-01 00:00:00","url_h":"https://x/2.jpg","url_q":"not a url","width_h":"100","height_h":100,"dateupload":"1577836800"},
		{"id":"3","title":"C","datetaken":"2020-01-01 00:00:00","url_h":"https://x/3.jpg","url_q":42,"width_h":"100","height_h":100,"dateupload":"1577836800"}
	]}}`

	records, invalid, err := ParseRecords([]byte(raw), photorama.FeedRecent)
	require.NoError(t, err)
	assert.Empty(t, invalid)
	require.Len(t, records, 3)
	assert.Equal(t, "https://x/1_q.jpg", records[0].Photo.ThumbnailURL)
	// A bad thumbnail doesn't cost the record
	assert.Empty(t, records[1].Photo.ThumbnailURL)
	assert.Empty(t, records[2].Photo.ThumbnailURL)
}
