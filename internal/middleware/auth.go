package middleware

import (
	"net/http"
	"strings"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/auth"
	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware. Handlers should use CurrentUser and
// CurrentActor instead of reading these directly.
const (
	UserKey   = "user"
	UserIDKey = "user_id"
	ActorKey  = "actor"
)

// AuthMiddleware validates the Bearer JWT, loads the user from the database, and
// installs both the user and an audit.Actor into the request context.
//
// The user is loaded from the database on every request rather than trusted from
// the token claims. The JWT proves identity; the database is the authority on the
// user's current role and existence. A deactivated user or a demoted admin is
// locked out on their next request, not at token expiry.
//
// The audit.Actor carries identity plus request context (IP, user agent, session)
// so that repository mutations deep in the call stack can stamp audit entries
// without reaching back into HTTP concerns.
func AuthMiddleware(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		user, err := userRepo.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}

		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not found",
			})
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Set(ActorKey, actorForRequest(c, user, claims))

		c.Next()
	}
}

// bearerToken extracts the Bearer token from the Authorization header, aborting
// the request with 401 when the header is missing or malformed.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Missing authorization header",
		})
		return "", false
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorization header must start with 'Bearer '",
		})
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorization token is empty",
		})
		return "", false
	}

	return token, true
}

// actorForRequest builds the audit actor for an authenticated request.
func actorForRequest(c *gin.Context, user *models.User, claims *auth.Claims) *audit.Actor {
	actor := audit.ActorFromUser(user)

	if ip := c.ClientIP(); ip != "" {
		actor.IPAddress = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		actor.UserAgent = &ua
	}
	if claims != nil && claims.ID != "" {
		sessionID := claims.ID
		actor.SessionID = &sessionID
	}

	return actor
}

// CurrentUser returns the authenticated user set by AuthMiddleware, or nil if
// the request is unauthenticated.
func CurrentUser(c *gin.Context) *models.User {
	v, exists := c.Get(UserKey)
	if !exists {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// CurrentActor returns the audit actor for this request. On unauthenticated
// routes (login, OIDC callback) it synthesizes an actor carrying only request
// context, so failed and anonymous actions are still attributable to an
// address even without an identity.
func CurrentActor(c *gin.Context) *audit.Actor {
	v, exists := c.Get(ActorKey)
	if exists {
		if actor, ok := v.(*audit.Actor); ok {
			return actor
		}
	}
	return actorForRequest(c, nil, nil)
}
