package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/arbor/files"
	"github.com/jmcleod/arbor/users"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", ErrClientInput), http.StatusBadRequest},
		{fmt.Errorf("%w: identifier", users.ErrInvalidInput), http.StatusBadRequest},
		{files.ErrEmptySlug, http.StatusBadRequest},
		{files.ErrTraversal, http.StatusBadRequest},
		{files.ErrInvalidSlug, http.StatusBadRequest},
		{ErrAuthentication, http.StatusUnauthorized},
		{ErrAuthorization, http.StatusForbidden},
		{files.ErrEscapesRoot, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{users.ErrNotFound, http.StatusNotFound},
		{files.ErrNotFound, http.StatusNotFound},
		{users.ErrIdentifierTaken, http.StatusConflict},
		{users.ErrConflict, http.StatusConflict},
		{files.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestMapError_HidesInternalDetail(t *testing.T) {
	var logs bytes.Buffer
	a := &API{logger: slog.New(slog.NewJSONHandler(&logs, nil))}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	a.mapError(rec, req, fmt.Errorf("open /srv/data/attachments/u1/f: %w", errors.New("i/o error")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/srv/data")
	assert.Contains(t, rec.Body.String(), ErrUnexpected.Error())
	assert.Contains(t, logs.String(), "/srv/data")
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	v, ok := decodeJSON[body](rec, req, 1024)
	assert.True(t, ok)
	assert.Equal(t, "x", v.Name)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	_, ok = decodeJSON[body](rec, req, 1024)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 100)+`"}`))
	_, ok = decodeJSON[body](rec, req, 16)
	assert.False(t, ok)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
