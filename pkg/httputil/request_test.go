package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Pagination
	}{
		{"defaults", "", Pagination{Limit: DefaultPageLimit}},
		{"explicit", "limit=25&offset=100", Pagination{Limit: 25, Offset: 100}},
		{"limit clamped to max", "limit=10000", Pagination{Limit: MaxPageLimit}},
		{"zero limit falls back", "limit=0", Pagination{Limit: DefaultPageLimit}},
		{"negative offset ignored", "offset=-5", Pagination{Limit: DefaultPageLimit}},
		{"garbage ignored", "limit=abc&offset=xyz", Pagination{Limit: DefaultPageLimit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/customers?"+tt.query, nil)
			assert.Equal(t, tt.want, ParsePagination(r))
		})
	}
}

func TestParseJSON(t *testing.T) {
	type loginRequest struct {
		Email string `json:"email"`
	}

	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ada@acme.test"}`))
	var req loginRequest
	require.NoError(t, ParseJSON(r, &req))
	assert.Equal(t, "ada@acme.test", req.Email)
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	type loginRequest struct {
		Email string `json:"email"`
	}

	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@b.c","extra":1}`))
	var req loginRequest
	assert.Error(t, ParseJSON(r, &req))
}

func TestParseJSONOrErrorWrites400(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()

	var dest map[string]string
	ok := ParseJSONOrError(w, r, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestParsePathString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/tenants/acme", nil)
	r = mux.SetURLVars(r, map[string]string{"slug": "acme"})

	val, err := ParsePathString(r, "slug")
	require.NoError(t, err)
	assert.Equal(t, "acme", val)

	_, err = ParsePathString(r, "missing")
	assert.Error(t, err)
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events?days=7", nil)

	val, err := ParseQueryInt(r, "days", 30)
	require.NoError(t, err)
	assert.Equal(t, 7, val)

	val, err = ParseQueryInt(r, "absent", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, val)

	r = httptest.NewRequest(http.MethodGet, "/events?days=week", nil)
	_, err = ParseQueryInt(r, "days", 30)
	assert.Error(t, err)
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/tenants?include_suspended=true", nil)

	val, err := ParseQueryBool(r, "include_suspended", false)
	require.NoError(t, err)
	assert.True(t, val)

	val, err = ParseQueryBool(r, "absent", true)
	require.NoError(t, err)
	assert.True(t, val)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "acme", "slug"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "slug"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "slug is required")
}
