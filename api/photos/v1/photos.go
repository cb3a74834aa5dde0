// Package v1 holds the request and response bodies of the photos API.
package v1

import (
	"strconv"
	"time"

	"github.com/jdholdren/photorama/api"
)

const MaxLimit = 500

type (
	Photo struct {
		ID           string    `json:"id"`
		Title        string    `json:"title"`
		RemoteURL    string    `json:"remote_url"`
		ImageURL     string    `json:"image_url"`
		DateTaken    time.Time `json:"date_taken"`
		DateUploaded time.Time `json:"date_uploaded"`
		Width        int       `json:"width"`
		Height       int       `json:"height"`
		Feed         string    `json:"feed"`
		Tags         []string  `json:"tags"`
	}

	Tag struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	PhotosResponse struct {
		Feed   string  `json:"feed"`
		Photos []Photo `json:"photos"`
	}

	RefreshResponse struct {
		Feed     string  `json:"feed"`
		Inserted []Photo `json:"inserted"`
	}

	TagsResponse struct {
		Tags []Tag `json:"tags"`
	}
)

// ListPhotosRequest is the path and query of a feed listing.
type ListPhotosRequest struct {
	Feed  string
	Limit string
}

// Validate checks the request, returning an api.Error if it's invalid.
//
// Valid reports the feed names the caller can use; it's passed in so the
// wire package doesn't depend on the domain.
func (r ListPhotosRequest) Validate(valid func(feed string) bool) (limit int, err error) {
	errs := []api.ErrorDetail{}
	if !valid(r.Feed) {
		errs = append(errs, api.ErrorDetail{
			Field: "feed",
			Error: "unknown feed",
		})
	}
	if r.Limit != "" {
		n, err := strconv.Atoi(r.Limit)
		if err != nil || n < 1 || n > MaxLimit {
			errs = append(errs, api.ErrorDetail{
				Field: "limit",
				Error: "limit must be a number between 1 and " + strconv.Itoa(MaxLimit),
			})
		}
		limit = n
	}
	if len(errs) > 0 {
		return 0, api.Error{
			Reason:  "invalid_request",
			Message: "request was invalid",
			Details: errs,
		}
	}

	return limit, nil
}
