package api

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexcrm/plexcrm/pkg/audit"
)

func passwordDigest(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.loginPrincipal = salesPrincipal()

	f.controlMock.ExpectQuery("SELECT id, password_salt, password_hash").
		WithArgs("sales@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_salt", "password_hash"}).
			AddRow("usr_sales", "salt1", passwordDigest("salt1", "hunter2")))
	f.controlMock.ExpectExec("INSERT INTO api_tokens").
		WithArgs("usr_sales", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		strings.NewReader(`{"email":"sales@acme.test","password":"hunter2"}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Token, "plex_"))
	assert.Equal(t, "usr_sales", resp.Principal.ID)

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthLogin, events[0].EventType)
	assert.Equal(t, audit.EventStatusSuccess, events[0].Status)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)

	f.controlMock.ExpectQuery("SELECT id, password_salt, password_hash").
		WithArgs("sales@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_salt", "password_hash"}).
			AddRow("usr_sales", "salt1", passwordDigest("salt1", "hunter2")))

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		strings.NewReader(`{"email":"sales@acme.test","password":"wrong"}`))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid credentials")

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthLoginFailed, events[0].EventType)
	assert.Equal(t, "usr_sales", events[0].PrincipalID)
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)

	f.controlMock.ExpectQuery("SELECT id, password_salt, password_hash").
		WithArgs("ghost@acme.test").
		WillReturnError(sql.ErrNoRows)

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		strings.NewReader(`{"email":"ghost@acme.test","password":"whatever"}`))

	// Same response as a wrong password so accounts cannot be probed.
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid credentials")

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthLoginFailed, events[0].EventType)
	assert.Empty(t, events[0].PrincipalID)
}

func TestLoginMissingFields(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		strings.NewReader(`{"email":"sales@acme.test"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)

	// The fixture limiter allows 3 attempts per window per IP. Every
	// request counts, including malformed ones.
	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", strings.NewReader(`{`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", strings.NewReader(`{`))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	events := f.auditor.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventTypeAuthRateLimited, events[len(events)-1].EventType)
}

func TestMe(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/me", "plex_sales", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp meResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "usr_sales", resp.Principal.ID)
	assert.Contains(t, resp.Permissions, "crm:customers:read")
	assert.NotContains(t, resp.Permissions, "view_all")
}

func TestMeUnauthenticated(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/me", "plex_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateToken(t *testing.T) {
	f := newFixture(t)

	f.controlMock.ExpectQuery("INSERT INTO api_tokens").
		WithArgs("usr_sales", sqlmock.AnyArg(), "ci-bot", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	w := f.do(t, http.MethodPost, "/api/v1/auth/tokens", "plex_sales",
		strings.NewReader(`{"name":"ci-bot"}`))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp createTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.True(t, strings.HasPrefix(resp.Token, "plex_"))
	assert.Nil(t, resp.ExpiresAt)

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthTokenCreate, events[0].EventType)
}

func TestCreateTokenInvalidTTL(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/auth/tokens", "plex_sales",
		strings.NewReader(`{"name":"ci-bot","ttl":"-1h"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevokeToken(t *testing.T) {
	f := newFixture(t)

	f.controlMock.ExpectExec("UPDATE api_tokens").
		WithArgs("7", "usr_sales").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := f.do(t, http.MethodDelete, "/api/v1/auth/tokens/7", "plex_sales", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthTokenRevoke, events[0].EventType)
}

func TestRevokeTokenNotOwned(t *testing.T) {
	f := newFixture(t)

	f.controlMock.ExpectExec("UPDATE api_tokens").
		WithArgs("7", "usr_sales").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := f.do(t, http.MethodDelete, "/api/v1/auth/tokens/7", "plex_sales", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.auditor.Events())
}

func TestCreateTokenDuplicateName(t *testing.T) {
	f := newFixture(t)

	f.controlMock.ExpectQuery("INSERT INTO api_tokens").
		WithArgs("usr_sales", sqlmock.AnyArg(), "ci-bot", nil).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "api_tokens_user_id_name_key"})

	w := f.do(t, http.MethodPost, "/api/v1/auth/tokens", "plex_sales",
		strings.NewReader(`{"name":"ci-bot"}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already exists")
	assert.Empty(t, f.auditor.Events())
}
