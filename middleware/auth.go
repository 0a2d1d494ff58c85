package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"
	AdminRole      = "admin"
)

// Identity reads the identity headers set by the api gateway. Guest
// checkout is allowed, so a missing user id is not an error here.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set(UserContextKey, userID)
		}
		if role := c.GetHeader("X-User-Role"); role != "" {
			c.Set(RoleContextKey, role)
		}
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != AdminRole {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// GetUserID returns "" for guests.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserContextKey)
}

func GetRole(c *gin.Context) string {
	return c.GetString(RoleContextKey)
}
