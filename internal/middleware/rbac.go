// Package middleware (rbac.go) implements role-based authorization middleware.
//
// Roles are checked against the user row loaded by AuthMiddleware rather than
// the role embedded in the JWT. This is a deliberate design choice: when an
// admin changes a user's role, the change takes effect on the user's next
// request without needing to invalidate or reissue their token. The role claim
// in the JWT is informational only and is never trusted for authorization.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole allows the request through only when the authenticated user holds
// one of the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
	}
}

// RequireReviewer allows admins and inspectors, the two roles that can approve
// or reject documents and read any pilot's records.
func RequireReviewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if !user.IsReviewer() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Reviewer role required",
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin allows only admins. Used for user management, audit purge, and
// dashboard endpoints.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Administrator role required",
			})
			return
		}

		c.Next()
	}
}
