package middleware

import (
	"net/http"
	"strings"

	"clubhouse-system/internal/lifecycle"
	"clubhouse-system/internal/utils"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// JWTAuth requires a bearer token and stores the caller as a lifecycle.Actor.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "Missing bearer token")
			return
		}

		claims, err := utils.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}
		actor, err := claims.Actor()
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated caller, or the zero Actor.
func ActorFrom(c *gin.Context) lifecycle.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(lifecycle.Actor); ok {
			return actor
		}
	}
	return lifecycle.Actor{}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...lifecycle.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Insufficient role",
			"error":   "FORBIDDEN",
		})
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": message,
		"error":   "UNAUTHORIZED",
	})
}
