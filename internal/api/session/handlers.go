// Package session implements authentication endpoints: password login, logout,
// the current-user endpoint, and the OIDC login/callback flow. Every login and
// logout is recorded in the audit trail, including failed password attempts,
// which are logged with a null actor identity but full request context.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/auth"
	"github.com/aerodocs/aerodocs/internal/auth/oidc"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/aerodocs/aerodocs/internal/middleware"
	"github.com/gin-gonic/gin"
)

// oauthState tracks an in-flight OIDC authorization round trip.
type oauthState struct {
	createdAt time.Time
}

// Handlers handles authentication endpoints
type Handlers struct {
	cfg          *config.Config
	userRepo     *repositories.UserRepository
	recorder     *audit.Recorder
	oidcProvider *oidc.OIDCProvider

	mu     sync.Mutex
	states map[string]*oauthState // In-memory for MVP; use Redis when running replicas
}

// NewHandlers creates session handlers. The OIDC provider is optional; when
// auth.oidc.enabled is false the OIDC endpoints return 404-style errors.
func NewHandlers(cfg *config.Config, userRepo *repositories.UserRepository, recorder *audit.Recorder) (*Handlers, error) {
	h := &Handlers{
		cfg:      cfg,
		userRepo: userRepo,
		recorder: recorder,
		states:   make(map[string]*oauthState),
	}

	if cfg.Auth.OIDC.Enabled {
		provider, err := oidc.NewOIDCProvider(&cfg.Auth.OIDC)
		if err != nil {
			return nil, err
		}
		h.oidcProvider = provider
	}

	return h, nil
}

// tokenTTL resolves the configured session token lifetime.
func (h *Handlers) tokenTTL() time.Duration {
	if ttl := h.cfg.Auth.JWT.AccessTokenTTL; ttl > 0 {
		return ttl
	}
	return 12 * time.Hour
}

// LoginRequest is the password login payload.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Password login
// @Description  Authenticates with email and password, returning a JWT. Both successful and failed attempts are recorded in the audit trail.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "token, user, expires_in"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates email+password and issues a JWT.
// POST /api/v1/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "email and password are required",
			})
			return
		}

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up user",
			})
			return
		}

		if user == nil || user.PasswordHash == nil || !auth.VerifyPassword(req.Password, *user.PasswordHash) {
			// Failed attempts are logged with request context only. The
			// attempted email goes in metadata, not the actor columns, since
			// it was never verified as an identity.
			err := h.logAuth(c, models.ActionLogin, middleware.CurrentActor(c), map[string]interface{}{
				"success":         false,
				"attempted_email": req.Email,
			})
			if err != nil {
				slog.Error("failed to record login attempt", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to record audit entry",
				})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid email or password",
			})
			return
		}

		ttl := h.tokenTTL()
		token, err := auth.GenerateJWT(user.ID, user.Email, user.Role, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		actor := audit.ActorFromUser(user)
		copyRequestContext(c, actor)
		err = h.logAuth(c, models.ActionLogin, actor, map[string]interface{}{
			"success": true,
			"method":  "password",
		})
		if err != nil {
			slog.Error("failed to record login", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"user":       user,
			"expires_in": int(ttl.Seconds()),
		})
	}
}

// LogoutHandler records the logout. JWTs are stateless, so this exists for the
// audit trail rather than for session invalidation; clients discard the token.
// POST /api/v1/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.logAuth(c, models.ActionLogout, middleware.CurrentActor(c), nil); err != nil {
			slog.Error("failed to record logout", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Logged out",
		})
	}
}

// MeHandler returns the authenticated user.
// GET /api/v1/auth/me
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Not authenticated",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// OIDCLoginHandler starts the OIDC authorization code flow.
// GET /api/v1/auth/oidc/login
func (h *Handlers) OIDCLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.oidcProvider == nil {
			c.JSON(http.StatusNotImplemented, gin.H{
				"error": "OIDC authentication is not configured",
			})
			return
		}

		state, err := generateState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate state",
			})
			return
		}

		h.mu.Lock()
		h.pruneStatesLocked()
		h.states[state] = &oauthState{createdAt: time.Now()}
		h.mu.Unlock()

		c.Redirect(http.StatusFound, h.oidcProvider.GetAuthURL(state))
	}
}

// OIDCCallbackHandler completes the OIDC flow: verifies state, exchanges the
// code, verifies the ID token, and provisions the user on first login with the
// default pilot role.
// GET /api/v1/auth/oidc/callback
func (h *Handlers) OIDCCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.oidcProvider == nil {
			c.JSON(http.StatusNotImplemented, gin.H{
				"error": "OIDC authentication is not configured",
			})
			return
		}

		state := c.Query("state")
		code := c.Query("code")
		if state == "" || code == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing state or code parameter",
			})
			return
		}

		h.mu.Lock()
		st, ok := h.states[state]
		delete(h.states, state)
		h.mu.Unlock()
		if !ok || time.Since(st.createdAt) > 10*time.Minute {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid or expired state",
			})
			return
		}

		token, err := h.oidcProvider.ExchangeCode(c.Request.Context(), code)
		if err != nil {
			slog.Error("OIDC code exchange failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization code exchange failed",
			})
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "No ID token in response",
			})
			return
		}

		idToken, err := h.oidcProvider.VerifyIDToken(c.Request.Context(), rawIDToken)
		if err != nil {
			slog.Error("OIDC ID token verification failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "ID token verification failed",
			})
			return
		}

		sub, email, name, err := h.oidcProvider.ExtractUserInfo(idToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Failed to extract user info from ID token",
			})
			return
		}

		// First OIDC login provisions the account; the CREATE is tracked with
		// the request context so provisioning shows up in the trail.
		actor := middleware.CurrentActor(c)
		user, err := h.userRepo.GetOrCreateUserFromOIDC(c.Request.Context(), sub, email, name, actor)
		if err != nil {
			slog.Error("OIDC user provisioning failed", "error", err, "email", email)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to provision user",
			})
			return
		}

		ttl := h.tokenTTL()
		jwtToken, err := auth.GenerateJWT(user.ID, user.Email, user.Role, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		loginActor := audit.ActorFromUser(user)
		copyRequestContext(c, loginActor)
		err = h.logAuth(c, models.ActionLogin, loginActor, map[string]interface{}{
			"success": true,
			"method":  "oidc",
		})
		if err != nil {
			slog.Error("failed to record login", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      jwtToken,
			"user":       user,
			"expires_in": int(ttl.Seconds()),
		})
	}
}

// logAuth writes a LOGIN/LOGOUT entry. Auth events target the users table with
// the actor's own user ID as the record. A write failure is returned so the
// caller can refuse to complete the request unaudited.
func (h *Handlers) logAuth(c *gin.Context, action string, actor *audit.Actor, metadata map[string]interface{}) error {
	entry, err := audit.BuildEntry("users", actor.ID, action, actor, nil, nil)
	if err != nil {
		return err
	}
	if metadata != nil {
		entry.Metadata = metadata
	}
	if requestID, exists := c.Get(middleware.RequestIDKey); exists {
		if entry.Metadata == nil {
			entry.Metadata = map[string]interface{}{}
		}
		entry.Metadata["request_id"] = requestID
	}
	return h.recorder.Log(c.Request.Context(), entry)
}

// copyRequestContext fills the request-origin fields on an actor built from a
// user row rather than by the auth middleware.
func copyRequestContext(c *gin.Context, actor *audit.Actor) {
	if ip := c.ClientIP(); ip != "" {
		actor.IPAddress = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		actor.UserAgent = &ua
	}
}

// pruneStatesLocked drops expired OAuth states. Caller holds h.mu.
func (h *Handlers) pruneStatesLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for k, v := range h.states {
		if v.createdAt.Before(cutoff) {
			delete(h.states, k)
		}
	}
}

// generateState returns a URL-safe random OAuth state value.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
