package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/licensor/internal/auth"
	"github.com/ibero-data/licensor/internal/database/dbtest"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, auth.VerifyPassword("correct horse", hash))
	assert.False(t, auth.VerifyPassword("battery staple", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	a := auth.New("secret", false)
	admin := &auth.Admin{ID: "a1", Email: "ops@example.com"}

	token, err := a.GenerateToken(admin)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.AdminID())
	assert.Equal(t, "ops@example.com", claims.Email)

	_, err = auth.New("other-secret", false).ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a1",
			ExpiresAt: jwt.NewNumericDate(past),
			Issuer:    "licensor",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = auth.New("secret", false).ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestValidateToken_Rejects(t *testing.T) {
	sign := func(method jwt.SigningMethod, claims *auth.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return token
	}
	valid := func() *auth.Claims {
		return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a1",
			Issuer:    "licensor",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
	}

	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = ""

	a := auth.New("secret", false)
	for name, token := range map[string]string{
		"other hmac algorithm": sign(jwt.SigningMethodHS384, valid()),
		"missing expiry":       sign(jwt.SigningMethodHS256, noExpiry),
		"other issuer":         sign(jwt.SigningMethodHS256, otherIssuer),
		"missing subject":      sign(jwt.SigningMethodHS256, noSubject),
	} {
		_, err := a.ValidateToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, name)
	}

	_, err := a.ValidateToken(sign(jwt.SigningMethodHS256, valid()))
	assert.NoError(t, err)
}

func TestTokenTTL(t *testing.T) {
	a := auth.New("secret", false, auth.WithTokenTTL(time.Minute))
	token, err := a.GenerateToken(&auth.Admin{ID: "a1"})
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)

	rec := httptest.NewRecorder()
	a.SetAuthCookie(rec, token)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, 60, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
}

func TestGetTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, auth.GetTokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: "licensor_session", Value: "from-cookie"})
	assert.Equal(t, "from-cookie", auth.GetTokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", auth.GetTokenFromRequest(req))
}

func TestRequireAdmin(t *testing.T) {
	a := auth.New("secret", false)
	mw := auth.NewMiddleware(a)

	var seen *auth.Claims
	h := mw.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetAdminFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	token, err := a.GenerateToken(&auth.Admin{ID: "a1", Email: "ops@example.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "a1", seen.AdminID())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStore(t *testing.T) {
	store := auth.NewStore(dbtest.New(t))
	ctx := context.Background()

	_, err := store.Create(ctx, "ops@example.com", "short", "")
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	admin, err := store.Create(ctx, "Ops@Example.com", "long-enough", "Ops")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", admin.Email)

	_, err = store.Create(ctx, "ops@example.com", "another-one", "")
	assert.ErrorIs(t, err, auth.ErrAdminExists)

	got, err := store.Authenticate(ctx, "ops@example.com", "long-enough")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	_, err = store.Authenticate(ctx, "ops@example.com", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = store.Authenticate(ctx, "nobody@example.com", "long-enough")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].PasswordHash)

	require.NoError(t, store.Delete(ctx, "ops@example.com"))
	assert.ErrorIs(t, store.Delete(ctx, "ops@example.com"), auth.ErrAdminNotFound)
}
