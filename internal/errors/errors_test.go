package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seyerrs "github.com/jdholdren/photorama/internal/errors"
	"github.com/jdholdren/photorama/internal/photorama"
)

func TestEConstructor(t *testing.T) {
	got := seyerrs.E(
		"something went wrong",
		seyerrs.Detail{Field: "limit", Error: "was bad"},
		http.StatusBadRequest,
	)
	want := &seyerrs.Error{
		Err: errors.New("something went wrong"),
		Details: []seyerrs.Detail{
			{Field: "limit", Error: "was bad"},
		},
		Status: http.StatusBadRequest,
	}

	assert.Equal(t, want, got)
}

func TestMarshalJSON(t *testing.T) {
	byts, err := json.Marshal(seyerrs.E(http.StatusNotFound))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Not Found","status":404}`, string(byts))
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("looking up: %w", photorama.ErrNotFound), http.StatusNotFound},
		{"transport", fmt.Errorf("%w: connection refused", photorama.ErrTransport), http.StatusBadGateway},
		{"malformed", fmt.Errorf("%w: no photos", photorama.ErrMalformedFeed), http.StatusBadGateway},
		{"image decode", fmt.Errorf("%w: gif", photorama.ErrImageDecode), http.StatusUnsupportedMediaType},
		{"persistence", fmt.Errorf("%w: disk full", photorama.ErrPersistence), http.StatusInternalServerError},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
		{"already structured", seyerrs.E(http.StatusTeapot, "short and stout"), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, seyerrs.FromDomain(tt.err).Status)
		})
	}

	// Internal details stay internal
	assert.Equal(t, "internal server error", seyerrs.FromDomain(errors.New("disk at /var is full")).Err.Error())
}
