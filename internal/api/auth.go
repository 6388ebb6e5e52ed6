package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "tradewatch/internal/errors"
)

const (
	ctxActor = "actor"
	ctxRoles = "roles"

	// AnonymousActor is recorded in the audit trail when auth is disabled
	AnonymousActor = "anonymous"
)

// Claims is the JWT payload accepted by the API
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HS256 tokens
type JWTManager struct {
	secretKey []byte
	issuer    string
	duration  time.Duration
	enabled   bool
}

// NewJWTManager creates a manager. A disabled manager lets every request
// through, taking the actor from X-Actor or AnonymousActor.
func NewJWTManager(secretKey, issuer string, duration time.Duration, enabled bool) *JWTManager {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &JWTManager{secretKey: []byte(secretKey), issuer: issuer, duration: duration, enabled: enabled}
}

// GenerateToken signs a token for subject
func (m *JWTManager) GenerateToken(subject string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// ParseToken verifies a token and returns its claims
func (m *JWTManager) ParseToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "token expired", nil)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "token malformed", nil)
		default:
			return nil, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "token invalid", nil)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "token invalid", nil)
	}
	return claims, nil
}

// AuthMiddleware requires a bearer token and stores its subject as the
// actor of the request.
func (m *JWTManager) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			actor := c.GetHeader("X-Actor")
			if actor == "" {
				actor = AnonymousActor
			}
			c.Set(ctxActor, actor)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			respondError(c, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "missing bearer token", nil))
			return
		}
		claims, err := m.ParseToken(tokenString)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Set(ctxActor, claims.Subject)
		c.Set(ctxRoles, claims.Roles)
		c.Next()
	}
}

// actorOf returns the authenticated actor of the request
func actorOf(c *gin.Context) string {
	if actor := c.GetString(ctxActor); actor != "" {
		return actor
	}
	return AnonymousActor
}
