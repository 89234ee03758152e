package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/version"
)

// userIDContextKey is where the authenticate middleware stores the caller id.
const userIDContextKey = "planor.user_id"

const bearerPrefix = "Bearer "

// ErrInvalidToken is returned for malformed, expired, or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID, valid for expiry. Used by
// provisioning tooling and tests; the gateway itself only validates.
func GenerateToken(secret []byte, userID string, expiry time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    version.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// validateToken parses and verifies a token, rejecting any signing method
// other than HMAC so a client cannot downgrade to "none" or swap in an
// asymmetric key.
func validateToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// authenticate resolves the calling user for every API route. With auth
// enabled it requires a valid bearer token; with auth disabled the identity
// comes from proxy headers, so planor can sit behind oauth2-proxy or
// kube-rbac-proxy without double authentication.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if !s.authOn {
			c.Set(userIDContextKey, extractAuthor(c))
			return next(c)
		}

		raw := ""
		if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
			raw = strings.TrimPrefix(h, bearerPrefix)
		} else if t := c.QueryParam("token"); t != "" {
			// Browsers cannot set headers on WebSocket upgrades.
			raw = t
		}
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		claims, err := validateToken(s.jwtSecret, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(userIDContextKey, claims.Subject)
		return next(c)
	}
}

// currentUser returns the user id stored by the authenticate middleware.
func currentUser(c *echo.Context) string {
	if uid, ok := c.Get(userIDContextKey).(string); ok {
		return uid
	}
	return ""
}

// loadOwnedSession fetches a session and verifies the caller owns it. With
// auth disabled the ownership check is skipped since the proxy in front is
// trusted to have done it.
func (s *Server) loadOwnedSession(c *echo.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessionService.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if s.authOn && session.UserID != currentUser(c) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "session belongs to another user")
	}
	return session, nil
}

// extractAuthor extracts the caller identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "dev"
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "dev"
}
