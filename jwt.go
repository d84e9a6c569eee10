package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionCookieName = "storefront_session"
	adminContextKey   = "admin"
	loginPath         = "/admin/login"
)

type adminCtxKey struct{}

// Claims stored in the session cookie.
type Claims struct {
	UserID int    `json:"user_id"`
	Login  string `json:"login"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies the signed admin session cookie.
// A session lives for a fixed TTL from login; there is no sliding renewal.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}
}

// GenerateToken signs a session token for the admin.
func (m *SessionManager) GenerateToken(user AdminUser) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: user.ID,
		Login:  user.Login,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.Login,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ParseToken verifies signature and expiry and returns the identity.
func (m *SessionManager) ParseToken(tokenStr string) (AdminIdentity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AdminIdentity{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return AdminIdentity{}, errors.New("invalid session claims")
	}
	return AdminIdentity{UserID: claims.UserID, Login: claims.Login}, nil
}

// Issue starts a session for the admin by setting the cookie.
func (m *SessionManager) Issue(c *gin.Context, user AdminUser) error {
	token, err := m.GenerateToken(user)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(m.ttl.Seconds()), "/", "", m.secure, true)
	return nil
}

// Clear ends the session.
func (m *SessionManager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", m.secure, true)
}

// LoadSession attaches the admin identity, when the cookie holds a valid
// session, to the gin context and to the request context. It never rejects.
func (m *SessionManager) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := c.Cookie(sessionCookieName)
		if err != nil || tokenStr == "" {
			c.Next()
			return
		}
		identity, err := m.ParseToken(tokenStr)
		if err != nil {
			log.Printf("Session rejected: %v", err)
			m.Clear(c)
			c.Next()
			return
		}
		c.Set(adminContextKey, identity)
		c.Request = c.Request.WithContext(WithAdmin(c.Request.Context(), identity))
		c.Next()
	}
}

// AdminAuth sends browsers without a valid session to the login page.
// It relies on LoadSession having run first.
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentAdmin(c); !ok {
			c.Redirect(http.StatusFound, loginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

func WithAdmin(ctx context.Context, identity AdminIdentity) context.Context {
	return context.WithValue(ctx, adminCtxKey{}, identity)
}

func AdminFromContext(ctx context.Context) (AdminIdentity, bool) {
	identity, ok := ctx.Value(adminCtxKey{}).(AdminIdentity)
	return identity, ok
}

// CurrentAdmin returns the identity attached by LoadSession.
func CurrentAdmin(c *gin.Context) (AdminIdentity, bool) {
	v, ok := c.Get(adminContextKey)
	if !ok {
		return AdminIdentity{}, false
	}
	identity, ok := v.(AdminIdentity)
	return identity, ok
}
