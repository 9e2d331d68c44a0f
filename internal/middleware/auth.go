package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stilldew/storefront-api/internal/model"
)

// SessionHeader carries the guest cart session id for unauthenticated
// shoppers. Clients generate it once and send it on every cart request.
const SessionHeader = "X-Session-ID"

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !setClaims(c, header[7:], secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// OptionalAuth resolves identity when a bearer token is present but lets
// anonymous requests through, so guests can shop with only a session id.
// A malformed token is still rejected rather than silently downgraded.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(header, "Bearer ") || !setClaims(c, header[7:], secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, raw, secret string) bool {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return false
	}
	role, _ := claims["role"].(string)
	c.Set("userID", userID)
	c.Set("userRole", role)
	return true
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserRole(c) != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) uuid.UUID {
	id, _ := c.Get("userID")
	uid, _ := id.(uuid.UUID)
	return uid
}

// GetUserIDRef returns the authenticated user id, or nil for guests.
func GetUserIDRef(c *gin.Context) *uuid.UUID {
	id, ok := c.Get("userID")
	if !ok {
		return nil
	}
	uid, ok := id.(uuid.UUID)
	if !ok {
		return nil
	}
	return &uid
}

func GetUserRole(c *gin.Context) string {
	role, _ := c.Get("userRole")
	r, _ := role.(string)
	return r
}

// GetCartOwner identifies the requester's cart: the user id when
// authenticated, otherwise the guest session header. The zero owner means
// the request carried neither.
func GetCartOwner(c *gin.Context) model.CartOwner {
	if uid := GetUserIDRef(c); uid != nil {
		return model.CartOwner{UserID: uid}
	}
	return model.CartOwner{SessionID: c.GetHeader(SessionHeader)}
}
