// Package admin implements the administrative endpoints: user account
// management, role changes, the operations dashboard, and audit retention
// purges. Every route here sits behind RequireAdmin in the router.
package admin

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/auth"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/aerodocs/aerodocs/internal/export"
	"github.com/aerodocs/aerodocs/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers handles admin endpoints
type Handlers struct {
	cfg       *config.Config
	userRepo  *repositories.UserRepository
	pilotRepo *repositories.PilotRepository
	docRepo   *repositories.DocumentRepository
	auditRepo *repositories.AuditRepository
	recorder  *audit.Recorder
}

// NewHandlers creates a new admin Handlers instance
func NewHandlers(cfg *config.Config, userRepo *repositories.UserRepository, pilotRepo *repositories.PilotRepository, docRepo *repositories.DocumentRepository, auditRepo *repositories.AuditRepository, recorder *audit.Recorder) *Handlers {
	return &Handlers{
		cfg:       cfg,
		userRepo:  userRepo,
		pilotRepo: pilotRepo,
		docRepo:   docRepo,
		auditRepo: auditRepo,
		recorder:  recorder,
	}
}

// ListUsersHandler lists user accounts with pagination.
// GET /api/v1/admin/users?page=&per_page=
func (h *Handlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		users, total, err := h.userRepo.ListUsers(c.Request.Context(), perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list users",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetUserHandler fetches one user account.
// GET /api/v1/admin/users/:id
func (h *Handlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.userRepo.GetUserByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve user",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// CreateUserRequest is the payload for provisioning a user account.
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=12"`
	Role     string `json:"role" binding:"required"`
}

// CreateUserHandler provisions a local-password user account.
// POST /api/v1/admin/users
func (h *Handlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "email, name, role, and a password of at least 12 characters are required",
			})
			return
		}
		if !models.ValidRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid role: " + req.Role,
			})
			return
		}

		existing, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check existing account",
			})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "An account with this email already exists",
			})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to hash password",
			})
			return
		}

		user := &models.User{
			Email:        req.Email,
			Name:         req.Name,
			PasswordHash: &hash,
			Role:         req.Role,
		}
		if err := h.userRepo.CreateUser(c.Request.Context(), user, middleware.CurrentActor(c)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create user",
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user": user,
		})
	}
}

// UpdateRoleRequest names the new role for a user account.
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateRoleHandler changes a user's role. The change is written to the
// trail with before and after images; it takes effect on the target's next
// request because roles are loaded from the database per request.
// PUT /api/v1/admin/users/:id/role
func (h *Handlers) UpdateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "role is required",
			})
			return
		}
		if !models.ValidRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid role: " + req.Role,
			})
			return
		}

		targetID := c.Param("id")
		actor := middleware.CurrentActor(c)
		if actor != nil && actor.ID != nil && *actor.ID == targetID && req.Role != models.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Admins cannot demote their own account",
			})
			return
		}

		user, err := h.userRepo.UpdateRole(c.Request.Context(), targetID, req.Role, actor)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update role",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// DashboardHandler returns the counters shown on the operations dashboard:
// account and pilot totals, document counts by review status, documents
// expiring inside the warning window, and audit activity over the stats
// window.
// GET /api/v1/admin/dashboard
func (h *Handlers) DashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		userCount, err := h.userRepo.Count(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count users",
			})
			return
		}
		pilotCount, err := h.pilotRepo.Count(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count pilots",
			})
			return
		}
		byStatus, err := h.docRepo.CountByStatus(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count documents",
			})
			return
		}

		warningDays := h.cfg.Notifications.DocumentExpiryWarningDays
		if warningDays <= 0 {
			warningDays = 30
		}
		now := time.Now()
		expiring, err := h.docRepo.ExpiringBetween(ctx, now, now.AddDate(0, 0, warningDays))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to find expiring documents",
			})
			return
		}

		auditStats, err := h.auditRepo.Stats(ctx, now.AddDate(0, 0, -30), now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to compute audit statistics",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users":  gin.H{"total": userCount},
			"pilots": gin.H{"total": pilotCount},
			"documents": gin.H{
				"by_status":     byStatus,
				"expiring_soon": len(expiring),
				"warning_days":  warningDays,
			},
			"audit": auditStats,
		})
	}
}

// PurgeRequest optionally overrides the retention cutoff.
type PurgeRequest struct {
	// OlderThanDays overrides the configured retention window when positive.
	OlderThanDays int `json:"older_than_days"`
}

// PurgeAuditHandler deletes audit entries older than the retention cutoff.
// The purge itself is recorded as a DELETE on audit_entries carrying the
// cutoff and the number of rows removed, so the trail always shows where
// it was truncated and by whom.
// DELETE /api/v1/admin/audit
func (h *Handlers) PurgeAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := h.cfg.Audit.RetentionDays
		var req PurgeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid request body",
				})
				return
			}
			if req.OlderThanDays > 0 {
				days = req.OlderThanDays
			}
		}
		if days < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "No retention window configured; supply older_than_days",
			})
			return
		}

		cutoff := time.Now().AddDate(0, 0, -days)
		purged, err := h.auditRepo.Purge(c.Request.Context(), cutoff)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to purge audit entries",
			})
			return
		}

		if err := h.logPurge(c, cutoff, purged); err != nil {
			slog.Error("failed to record audit purge", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"purged": purged,
			"cutoff": cutoff,
		})
	}
}

// ExportColumnsHandler describes the CSV export layout so clients can build
// import mappings without parsing a sample file.
// GET /api/v1/admin/audit/columns
func (h *Handlers) ExportColumnsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"columns": export.CSVColumns,
		})
	}
}

func (h *Handlers) logPurge(c *gin.Context, cutoff time.Time, purged int64) error {
	actor := middleware.CurrentActor(c)
	entry, err := audit.BuildEntry("audit_entries", nil, models.ActionDelete, actor, nil, nil)
	if err != nil {
		return err
	}
	entry.Metadata = map[string]interface{}{
		"purged_count": purged,
		"cutoff":       cutoff.Format(time.RFC3339),
	}
	if requestID, exists := c.Get(middleware.RequestIDKey); exists {
		entry.Metadata["request_id"] = requestID
	}
	return h.recorder.Log(c.Request.Context(), entry)
}
