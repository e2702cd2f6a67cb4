package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/httputil"
	"github.com/plexcrm/plexcrm/pkg/middleware"
)

// defaultTokenTTL bounds tokens issued through login. Tokens created
// explicitly through the token endpoint may carry their own TTL.
const defaultTokenTTL = 30 * 24 * time.Hour

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Principal *auth.Principal `json:"principal"`
}

// login handles POST /api/v1/auth/login. The route is wrapped by the
// rate limiter; every failure, including unknown emails, returns the
// same 401 so the endpoint cannot be used to probe accounts.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	var (
		userID       string
		salt         string
		passwordHash string
	)
	err := s.deps.ControlPlane.QueryRowContext(r.Context(), `
		SELECT id, password_salt, password_hash
		FROM users
		WHERE email = $1 AND is_active = true
	`, req.Email).Scan(&userID, &salt, &passwordHash)
	if err == sql.ErrNoRows {
		s.auditLoginFailure(r, "", "unknown or inactive account")
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		s.logger(r).WithError(err).Error("login lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	if !verifyPassword(salt, req.Password, passwordHash) {
		s.auditLoginFailure(r, userID, "password mismatch")
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}

	token, tokenHash, err := auth.NewTokenGenerator().GenerateToken()
	if err != nil {
		s.logger(r).WithError(err).Error("token generation failed")
		httputil.WriteInternalError(w)
		return
	}

	expiresAt := time.Now().Add(defaultTokenTTL)
	_, err = s.deps.ControlPlane.ExecContext(r.Context(), `
		INSERT INTO api_tokens (user_id, token_hash, name, created_at, expires_at)
		VALUES ($1, $2, 'login', NOW(), $3)
	`, userID, tokenHash, expiresAt)
	if err != nil {
		s.logger(r).WithError(err).Error("token persistence failed")
		httputil.WriteInternalError(w)
		return
	}

	principal, err := s.deps.Authenticator.Authenticate(r.Context(), token)
	if err != nil {
		s.logger(r).WithError(err).Error("post-login principal lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	audit.Record(r.Context(), s.deps.Auditor, &audit.Event{
		EventType:   audit.EventTypeAuthLogin,
		Status:      audit.EventStatusSuccess,
		PrincipalID: principal.ID,
		TenantID:    principal.TenantID,
		IPAddress:   middleware.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
	})

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Principal: principal,
	})
}

func (s *Server) auditLoginFailure(r *http.Request, principalID, message string) {
	audit.Record(r.Context(), s.deps.Auditor, &audit.Event{
		EventType:   audit.EventTypeAuthLoginFailed,
		Status:      audit.EventStatusFailure,
		PrincipalID: principalID,
		IPAddress:   middleware.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
		Message:     message,
	})
}

// verifyPassword compares a stored salted SHA-256 digest in constant
// time.
func verifyPassword(salt, password, storedHash string) bool {
	sum := sha256.Sum256([]byte(salt + password))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

type meResponse struct {
	Principal   *auth.Principal `json:"principal"`
	Permissions []string        `json:"permissions"`
}

// me handles GET /api/v1/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	httputil.WriteJSON(w, http.StatusOK, meResponse{
		Principal:   principal,
		Permissions: principal.Permissions().Strings(),
	})
}

type createTokenRequest struct {
	Name string `json:"name"`
	TTL  string `json:"ttl,omitempty"`
}

type createTokenResponse struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createToken handles POST /api/v1/auth/tokens. The raw token appears
// only in this response; the store keeps the hash.
func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	var expiresAt *time.Time
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			httputil.WriteBadRequest(w, "ttl must be a positive duration")
			return
		}
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	token, tokenHash, err := auth.NewTokenGenerator().GenerateToken()
	if err != nil {
		s.logger(r).WithError(err).Error("token generation failed")
		httputil.WriteInternalError(w)
		return
	}

	var tokenID int64
	err = s.deps.ControlPlane.QueryRowContext(r.Context(), `
		INSERT INTO api_tokens (user_id, token_hash, name, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		RETURNING id
	`, principal.ID, tokenHash, req.Name, expiresAt).Scan(&tokenID)
	if isUniqueViolation(err) {
		httputil.WriteConflict(w, "a token with this name already exists")
		return
	}
	if err != nil {
		s.logger(r).WithError(err).Error("token persistence failed")
		httputil.WriteInternalError(w)
		return
	}

	audit.Record(r.Context(), s.deps.Auditor, &audit.Event{
		EventType:   audit.EventTypeAuthTokenCreate,
		Status:      audit.EventStatusSuccess,
		PrincipalID: principal.ID,
		TenantID:    principal.TenantID,
		IPAddress:   middleware.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
		Metadata:    map[string]interface{}{"token_name": req.Name},
	})

	httputil.WriteCreated(w, createTokenResponse{
		ID:        tokenID,
		Token:     token,
		Name:      req.Name,
		ExpiresAt: expiresAt,
	})
}

// revokeToken handles DELETE /api/v1/auth/tokens/{id}. Principals may
// only revoke their own tokens.
func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	tokenID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	res, err := s.deps.ControlPlane.ExecContext(r.Context(), `
		UPDATE api_tokens
		SET revoked_at = NOW()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`, tokenID, principal.ID)
	if err != nil {
		s.logger(r).WithError(err).Error("token revocation failed")
		httputil.WriteInternalError(w)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		httputil.WriteNotFound(w, "token not found")
		return
	}

	audit.Record(r.Context(), s.deps.Auditor, &audit.Event{
		EventType:   audit.EventTypeAuthTokenRevoke,
		Status:      audit.EventStatusSuccess,
		PrincipalID: principal.ID,
		TenantID:    principal.TenantID,
		IPAddress:   middleware.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
		Metadata:    map[string]interface{}{"token_id": tokenID},
	})

	httputil.WriteNoContent(w)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, e.g. a duplicate token name for the same user.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
