package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies PlexCRM tokens.
	TokenPrefix = "plex_"
	// TokenLength is the number of random bytes per token (256 bits).
	TokenLength = 32
)

var (
	// ErrUnauthenticated is returned when no valid credential is presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPrincipalInactive is returned for deactivated accounts.
	ErrPrincipalInactive = errors.New("principal is deactivated")
)

// TokenGenerator generates and hashes API tokens.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new bearer token.
// Format: plex_<base64url(32 random bytes)>. Only the SHA-256 hash is
// ever stored.
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return fullToken, tg.HashToken(fullToken), nil
}

// HashToken computes the SHA-256 hash of a token for lookup.
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct shape.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// PrincipalSource looks up the principal bound to a token hash.
type PrincipalSource interface {
	PrincipalByTokenHash(ctx context.Context, tokenHash string) (*Principal, error)
}

// tokenToucher is implemented by sources that record token usage, like
// PostgresSource's last_used_at column.
type tokenToucher interface {
	TouchToken(ctx context.Context, tokenHash string) error
}

// Authenticator turns an inbound credential into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (*Principal, error)
}

// TokenAuthenticator validates plex_ bearer tokens against a
// PrincipalSource.
type TokenAuthenticator struct {
	generator *TokenGenerator
	source    PrincipalSource
}

// NewTokenAuthenticator creates a token authenticator.
func NewTokenAuthenticator(source PrincipalSource) *TokenAuthenticator {
	return &TokenAuthenticator{
		generator: NewTokenGenerator(),
		source:    source,
	}
}

// Authenticate validates the token format, hashes it, and resolves the
// principal. Inactive principals are rejected.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, bearerToken string) (*Principal, error) {
	if err := a.generator.ValidateTokenFormat(bearerToken); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	tokenHash := a.generator.HashToken(bearerToken)
	principal, err := a.source.PrincipalByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if !principal.IsActive {
		return nil, ErrPrincipalInactive
	}

	// Best effort; a failed touch must never fail authentication.
	if toucher, ok := a.source.(tokenToucher); ok {
		_ = toucher.TouchToken(ctx, tokenHash)
	}
	return principal, nil
}

// StaticAuthenticator resolves principals from a fixed token table.
// Intended for tests and local development.
type StaticAuthenticator struct {
	principals map[string]*Principal
}

// NewStaticAuthenticator creates an authenticator over a fixed
// token → principal table.
func NewStaticAuthenticator(principals map[string]*Principal) *StaticAuthenticator {
	return &StaticAuthenticator{principals: principals}
}

// Authenticate looks the token up in the static table.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, bearerToken string) (*Principal, error) {
	p, ok := a.principals[bearerToken]
	if !ok {
		return nil, ErrUnauthenticated
	}
	if !p.IsActive {
		return nil, ErrPrincipalInactive
	}
	return p, nil
}
