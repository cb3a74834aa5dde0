package flickr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/photorama/internal/photorama"
)

// DateTakenLayout is the format of the datetaken field. Values are read as UTC.
const DateTakenLayout = "2006-01-02 15:04:05"

// Record is a validated entry of a feed together with its position in the payload.
type Record struct {
	Index int
	Photo photorama.Photo
	// Tag names from the optional tags field, deduplicated.
	Tags []string
}

// The top-level shape of a listing.
type feedResp struct {
	Photos *struct {
		Photo *[]json.RawMessage `json:"photo"`
	} `json:"photos"`
}

// DecodeFeed pulls the per-photo records out of a listing.
//
// Anything other than an object with a photos.photo array is [photorama.ErrMalformedFeed].
func DecodeFeed(raw []byte) ([]json.RawMessage, error) {
	var resp feedResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s", photorama.ErrMalformedFeed, err)
	}
	if resp.Photos == nil || resp.Photos.Photo == nil {
		return nil, fmt.Errorf("%w: missing photos.photo array", photorama.ErrMalformedFeed)
	}

	return *resp.Photos.Photo, nil
}

// ParseRecords decodes a listing and validates every record in it.
//
// Records that fail validation come back as errors next to the valid ones; only
// a malformed document fails the whole call.
func ParseRecords(raw []byte, feed photorama.FeedType) ([]Record, []error, error) {
	items, err := DecodeFeed(raw)
	if err != nil {
		return nil, nil, err
	}

	var (
		records = make([]Record, 0, len(items))
		skipped []error
	)
	for i, item := range items {
		rec, err := parseRecord(i, item, feed)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		records = append(records, rec)
	}

	return records, skipped, nil
}

// ParsePhotos is [ParseRecords] for callers that only want the photos.
func ParsePhotos(raw []byte, feed photorama.FeedType) ([]photorama.Photo, []error, error) {
	records, skipped, err := ParseRecords(raw, feed)
	if err != nil {
		return nil, nil, err
	}

	photos := make([]photorama.Photo, 0, len(records))
	for _, rec := range records {
		photos = append(photos, rec.Photo)
	}

	return photos, skipped, nil
}

func parseRecord(i int, raw json.RawMessage, feed photorama.FeedType) (Record, error) {
	fail := func(photoID, field string, err error) (Record, error) {
		return Record{}, &photorama.RecordError{
			Index:   i,
			PhotoID: photoID,
			Field:   field,
			Err:     fmt.Errorf("%w: %s", photorama.ErrInvalidRecord, err),
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return fail("", "", errors.New("record is not an object"))
	}

	id, err := stringField(fields, "id")
	if err != nil {
		return fail("", "id", err)
	}
	if id == "" {
		return fail("", "id", errMissing)
	}
	title, err := stringField(fields, "title")
	if err != nil {
		return fail(id, "title", err)
	}
	dateTakenStr, err := stringField(fields, "datetaken")
	if err != nil {
		return fail(id, "datetaken", err)
	}
	dateTaken, err := time.ParseInLocation(DateTakenLayout, dateTakenStr, time.UTC)
	if err != nil {
		return fail(id, "datetaken", err)
	}
	rawURL, err := stringField(fields, "url_h")
	if err != nil {
		return fail(id, "url_h", err)
	}
	if err := validateURL(rawURL); err != nil {
		return fail(id, "url_h", err)
	}
	width, err := intField(fields, "width_h")
	if err != nil {
		return fail(id, "width_h", err)
	}
	if width <= 0 {
		return fail(id, "width_h", fmt.Errorf("must be positive, got %d", width))
	}
	height, err := intField(fields, "height_h")
	if err != nil {
		return fail(id, "height_h", err)
	}
	if height <= 0 {
		return fail(id, "height_h", fmt.Errorf("must be positive, got %d", height))
	}
	uploaded, err := intField(fields, "dateupload")
	if err != nil {
		return fail(id, "dateupload", err)
	}

	return Record{
		Index: i,
		Photo: photorama.Photo{
			PhotoID:      id,
			Title:        sanitize(title),
			RemoteURL:    rawURL,
			DateTaken:    dateTaken,
			DateUploaded: time.Unix(uploaded, 0).UTC(),
			Width:        int(width),
			Height:       int(height),
			FeedType:     feed,
			ThumbnailURL: optionalURL(fields, "url_q"),
		},
		Tags: tagNames(fields["tags"]),
	}, nil
}

var errMissing = errors.New("missing")

// Reads a required string field. JSON null counts as missing.
func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", errMissing
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("not a string: %s", raw)
	}

	return s, nil
}

// Reads a required integer that the API sends either as a number or as a
// string of digits, depending on the field.
func intField(fields map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0, errMissing
	}

	var s string
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("not a string: %s", raw)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("not a number: %s", raw)
		}
		s = n.String()
	}

	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}

	return i, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("no host")
	}

	return nil
}

// Reads an optional url field. A missing or unusable value is dropped rather
// than failing the record.
func optionalURL(fields map[string]json.RawMessage, key string) string {
	raw, err := stringField(fields, key)
	if err != nil || validateURL(raw) != nil {
		return ""
	}
	return raw
}

// Splits the optional, space separated tags field. Anything unexpected is
// ignored rather than failing the record.
func tagNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}

	var (
		seen  = make(map[string]struct{})
		names []string
	)
	for _, name := range strings.Fields(s) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names
}

const maxTitleLen = 2048

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from a title.
//
// Also limits the length of the string so there's not a massive chunk of text
// being stored. The cut never splits a rune.
func sanitize(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.TrimSpace(s)
	if len(s) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}

	return s
}
