package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/scrap-pickup/internal/notification/application"
	"github.com/dmehra2102/scrap-pickup/internal/notification/domain"
	"github.com/dmehra2102/scrap-pickup/internal/notification/infrastructure/memory"
	"github.com/dmehra2102/scrap-pickup/pkg/auth"
)

const secret = "notification-handler-test"

func token(t *testing.T, id uuid.UUID) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: string(auth.RoleUser),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestListNotifications(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	user, other := uuid.New(), uuid.New()

	_, err := store.Save(context.Background(), []domain.Notification{
		{UserID: user, OrderID: uuid.New(), Kind: domain.KindOrderAccepted, Message: "first", EventKey: "a"},
		{UserID: user, OrderID: uuid.New(), Kind: domain.KindOrderCancelled, Message: "second", EventKey: "b"},
		{UserID: other, OrderID: uuid.New(), Kind: domain.KindOrderAccepted, Message: "not yours", EventKey: "a"},
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(log, auth.NewVerifier(secret)))
		NewHandler(log, application.NewService(log, store)).Routes(r)
	})

	get := func(path, tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1"+path, nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get("/notifications", "").Code)
	assert.Equal(t, http.StatusBadRequest, get("/notifications?limit=x", token(t, user)).Code)

	rec := get("/notifications", token(t, user))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out []notificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0].Message)

	rec = get("/notifications?limit=1", token(t, user))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)
}
