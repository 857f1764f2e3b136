package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenTTL is how long issued tokens stay valid.
	DefaultTokenTTL = 24 * time.Hour

	// BcryptCost is the cost factor for bcrypt password hashing.
	BcryptCost = 12
)

// ErrInvalidCredentials is returned when login credentials are invalid.
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a hash.
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateToken signs an HS256 token for subject. Admin tokens may act for
// any account.
func GenerateToken(secret, subject string, admin bool, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("no signing secret configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login checks the operator credentials and issues an admin token.
func (s *Server) login(username, password string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.config.AdminUsername)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := VerifyPassword(password, s.config.AdminPasswordHash); err != nil {
		return "", ErrInvalidCredentials
	}
	return GenerateToken(s.config.JWTSecret, username, true, s.config.TokenTTL)
}

func (s *Server) createToken(c *gin.Context) {
	if s.config.JWTSecret == "" || s.config.AdminPasswordHash == "" {
		c.JSON(http.StatusNotFound, errorResponse("login is not enabled"))
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	token, err := s.login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.logger.Warn().Str("username", req.Username).Str("remote_addr", c.ClientIP()).Msg("Failed login")
			c.JSON(http.StatusUnauthorized, errorResponse("invalid credentials"))
			return
		}
		s.handleError(c, err)
		return
	}

	s.logger.Info().Str("username", req.Username).Msg("Admin token issued")
	c.JSON(http.StatusOK, successResponse(gin.H{"token": token}))
}
