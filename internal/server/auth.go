package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"planline/internal/repo"
)

// AuthConfig selects which credentials the API accepts.
type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	// AllowDevLogin exposes POST /auth/dev/login, which mints tokens for any actor.
	AllowDevLogin bool
	Logger        *log.Logger
}

// Scope names carried in tokens. A token without scopes has full access.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ActorID string
	Scopes  []string
	Source  string
}

func (p Principal) canWrite() bool {
	return len(p.Scopes) == 0 || slices.Contains(p.Scopes, ScopeWrite)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

var errNoSecret = errors.New("jwt secret not configured")

// signDevToken mints an HS256 token for local use. ttl defaults to an hour.
func signDevToken(secret, actorID string, scopes []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errNoSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "planline-dev",
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authenticator resolves the principal of a request from, in order, a
// bearer token, an X-Api-Key header or the legacy X-Actor-Id header.
type authenticator struct {
	cfg  AuthConfig
	repo repo.Repo
	now  func() time.Time
}

func (a authenticator) logf(format string, args ...any) {
	if a.cfg.Logger != nil {
		a.cfg.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (a authenticator) authenticate(req *http.Request) (Principal, huma.StatusError) {
	invalid := newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return Principal{}, invalid
		}
		p, err := a.fromToken(strings.TrimSpace(token))
		if err != nil {
			return Principal{}, invalid
		}
		return p, nil
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		p, err := a.fromAPIKey(req.Context(), key)
		switch {
		case errors.Is(err, repo.ErrKeyExpired):
			return Principal{}, newAPIError(http.StatusUnauthorized, "key_expired", "api key expired", nil)
		case err != nil:
			return Principal{}, invalid
		}
		return p, nil
	}
	if actorID := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actorID != "" && a.cfg.AllowLegacyActorHeader {
		a.logf("WARNING: unauthenticated X-Actor-Id header accepted for actor %s", actorID)
		return Principal{ActorID: actorID, Source: "legacy_header"}, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func (a authenticator) fromToken(token string) (Principal, error) {
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		return Principal{}, errNoSecret
	}
	claims := &tokenClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}); err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{ActorID: claims.Subject, Scopes: claims.Scopes, Source: "jwt"}, nil
}

func (a authenticator) fromAPIKey(ctx context.Context, key string) (Principal, error) {
	rec, err := a.repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if rec.ActorID == "" {
		return Principal{}, errors.New("api key has no actor")
	}
	if err := a.repo.TouchAPIKey(ctx, rec.ID, a.now()); err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: rec.ActorID, Source: "api_key"}, nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	open := openRoutes(basePath, cfg.AllowDevLogin)
	auth := authenticator{cfg: cfg, repo: r, now: time.Now}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if (basePath != "" && !strings.HasPrefix(req.URL.Path, basePath)) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			p, authErr := auth.authenticate(req)
			if authErr != nil {
				writeStatusError(w, authErr)
				return
			}
			if req.Method != http.MethodGet && req.Method != http.MethodHead && !p.canWrite() {
				writeStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "token is read-only", map[string]any{"scopes": p.Scopes}))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func writeStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
