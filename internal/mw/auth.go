package mw

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// contextKeyUserID is where the authenticated teacher id lands in the gin
// context.
const contextKeyUserID = "user_id"

// Claims is the JWT payload issued by the authentication collaborator.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
}

// GenerateToken signs a token for a teacher. Exposed for tests and tooling;
// issuing real sessions belongs to the external auth layer.
func GenerateToken(secret string, userID int64) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   strconv.FormatInt(userID, 10),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns the teacher id. The realtime
// gateway uses this directly since it must close the socket with its own
// code instead of writing an HTTP error.
func ParseToken(secret, tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, errors.New("missing token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid || claims.UserID <= 0 {
		return 0, errors.New("invalid token")
	}
	return claims.UserID, nil
}

func tokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, found := strings.CutPrefix(h, "Bearer "); found {
			return tok
		}
	}
	return c.Query("token")
}

// Auth requires a valid bearer token and stores the teacher id in the
// context.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := ParseToken(secret, tokenFromRequest(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// OptionalAuth stores the teacher id when a valid token is present but
// never rejects. The polling endpoint uses it: pollers must get a cheap
// JSON "not authenticated" answer, not a redirect or 401 churn.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, err := ParseToken(secret, tokenFromRequest(c)); err == nil {
			c.Set(contextKeyUserID, userID)
		}
		c.Next()
	}
}

// RequireUser rejects requests that reached this point anonymously. Meant
// to sit behind OptionalAuth so the token is only parsed once per request.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated teacher id, or 0 when anonymous.
func UserID(c *gin.Context) int64 {
	v, ok := c.Get(contextKeyUserID)
	if !ok {
		return 0
	}
	id, _ := v.(int64)
	return id
}
