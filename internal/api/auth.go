package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"labreserve/internal/config"
	"labreserve/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carry the account id in sub and the server-side role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = models.DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(cfg.JWTSecret), ttl: ttl, issuer: cfg.Issuer, now: time.Now}
}

// Issue signs a token for u. The role claim is copied from the stored
// account, never from the client.
func (t *TokenIssuer) Issue(u *models.User) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

// PrincipalFrom returns the authenticated account of the request.
func PrincipalFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(principalKey{}).(*models.User)
	return u, ok && u != nil
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// authenticate resolves the bearer token to an active account. Deactivated
// accounts are refused even while their tokens are still unexpired.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, s.logger, errUnauthenticated)
			return
		}
		claims, err := s.tokens.Parse(raw)
		if err != nil {
			writeError(w, s.logger, fmt.Errorf("%w: %v", errUnauthenticated, err))
			return
		}
		user, err := s.svc.Users.Principal(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), user)))
	})
}

func actor(r *http.Request) *models.User {
	u, _ := PrincipalFrom(r.Context())
	return u
}
