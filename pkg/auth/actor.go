package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dmehra2102/scrap-pickup/pkg/httperr"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleCollector Role = "collector"
	RoleBusiness  Role = "business"
	RoleAdmin     Role = "admin"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsCollector() bool { return a.Role == RoleCollector }

var (
	ErrMissingToken = errors.New("authorization header required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims carries the subject and role issued by the auth service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	role := Role(claims.Role)
	if role == "" {
		role = RoleUser
	}
	return Actor{ID: id, Role: role}, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

// Middleware rejects requests without a valid bearer token.
func Middleware(log *slog.Logger, v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearer(r.Header.Get("Authorization"))
			if err == nil {
				var actor Actor
				if actor, err = v.Verify(token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
					return
				}
			}
			log.Debug("auth rejected", "path", r.URL.Path, "err", err)
			deny(w, r, http.StatusUnauthorized, httperr.CodeUnauthenticated, err.Error())
		})
	}
}

// RequireRole must run after Middleware.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := FromContext(r.Context())
			if !ok {
				deny(w, r, http.StatusUnauthorized, httperr.CodeUnauthenticated, ErrMissingToken.Error())
				return
			}
			if actor.Role != role {
				deny(w, r, http.StatusForbidden, httperr.CodeForbidden, fmt.Sprintf("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	httperr.Respond(w, r, status, code, msg)
}
