package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const claimsKey = "claims"

// Claims are the bearer token claims. Subject is the account the token
// acts for; Admin tokens may act for any account.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func parseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// authMiddleware requires an HS256 bearer token. With no secret configured
// every request is let through as an admin.
func authMiddleware(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) {
			c.Set(claimsKey, &Claims{Admin: true})
			c.Next()
		}
	}

	key := []byte(secret)
	return func(c *gin.Context) {
		parts := strings.Split(c.GetHeader("Authorization"), " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing or invalid authorization header"))
			return
		}

		claims, err := parseToken(key, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid or expired token"))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return &Claims{}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !claimsFrom(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse("admin token required"))
			return
		}
		c.Next()
	}
}

// requireAccount lets a token act on its own account only.
func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if !claims.Admin && claims.Subject != c.Param("account") {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse("token does not grant access to this account"))
			return
		}
		c.Next()
	}
}

func loggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote_addr", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int("size", c.Writer.Size()).
			Msg("API request")
	}
}
