package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	cookieName = "licensor_session"
	issuer     = "licensor"

	// DefaultTokenTTL is how long an admin session lasts.
	DefaultTokenTTL = 24 * time.Hour

	// MinPasswordLength applies to admin accounts.
	MinPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAdminNotFound      = errors.New("admin not found")
	ErrAdminExists        = errors.New("admin already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Claims carry the admin id in the standard subject claim.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AdminID is the id of the admin the token was issued to.
func (c *Claims) AdminID() string {
	return c.Subject
}

// Admin is an operator allowed to use the admin API.
type Admin struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Name         string `json:"name"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Auth signs and checks admin session tokens (HS256).
type Auth struct {
	secret       []byte
	ttl          time.Duration
	secureCookie bool
	now          func() time.Time
}

type Option func(*Auth)

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *Auth) {
		a.ttl = ttl
	}
}

func New(secret string, secureCookie bool, opts ...Option) *Auth {
	a := &Auth{
		secret:       []byte(secret),
		ttl:          DefaultTokenTTL,
		secureCookie: secureCookie,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func newID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateToken issues a session token for admin.
func (a *Auth) GenerateToken(admin *Admin) (string, error) {
	now := a.now()
	claims := &Claims{
		Email: admin.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken checks signature, issuer and expiry. Tokens without an
// expiry or a subject are rejected.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrInvalidToken
	case claims.Subject == "":
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *Auth) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// SetAuthCookie stores token in an HTTP-only session cookie.
func (a *Auth) SetAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, a.cookie(token, int(a.ttl.Seconds())))
}

func (a *Auth) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, a.cookie("", -1))
}

// GetTokenFromRequest prefers an explicit bearer token over the session
// cookie.
func GetTokenFromRequest(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return token
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
