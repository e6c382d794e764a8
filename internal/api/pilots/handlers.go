// Package pilots implements the pilot profile endpoints. A pilot profile
// links a user account to airman certificate details and owns the documents
// uploaded for that pilot. Creation and deletion are admin operations; a
// pilot may read and edit their own profile.
package pilots

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/aerodocs/aerodocs/internal/middleware"
	"github.com/aerodocs/aerodocs/internal/storage"
	"github.com/gin-gonic/gin"
)

// Handlers handles pilot profile endpoints
type Handlers struct {
	pilotRepo *repositories.PilotRepository
	userRepo  *repositories.UserRepository
	backend   storage.Backend
}

// NewHandlers creates a new pilot Handlers instance
func NewHandlers(pilotRepo *repositories.PilotRepository, userRepo *repositories.UserRepository, backend storage.Backend) *Handlers {
	return &Handlers{
		pilotRepo: pilotRepo,
		userRepo:  userRepo,
		backend:   backend,
	}
}

// CreateRequest is the payload for creating a pilot profile.
type CreateRequest struct {
	UserID        string  `json:"user_id" binding:"required"`
	FullName      string  `json:"full_name" binding:"required"`
	LicenseNumber string  `json:"license_number" binding:"required"`
	LicenseType   string  `json:"license_type" binding:"required"`
	MedicalClass  string  `json:"medical_class"`
	BaseAirport   string  `json:"base_airport"`
	Phone         *string `json:"phone,omitempty"`
}

// @Summary      Create pilot profile
// @Description  Create a pilot profile for an existing user account. Admin only. The creation is recorded in the audit trail.
// @Tags         Pilots
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        pilot  body      CreateRequest  true  "Pilot profile"
// @Success      201    {object}  map[string]interface{}  "pilot"
// @Failure      400    {object}  map[string]interface{}  "Invalid request"
// @Failure      404    {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/pilots [post]
// CreateHandler handles pilot profile creation. Admin only (enforced by the
// route group).
// POST /api/v1/pilots
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing required fields: user_id, full_name, license_number, license_type",
			})
			return
		}

		user, err := h.userRepo.GetUserByID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up user",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}

		existing, err := h.pilotRepo.GetPilotByUserID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check existing profile",
			})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "User already has a pilot profile",
			})
			return
		}

		pilot := &models.Pilot{
			UserID:        req.UserID,
			FullName:      strings.TrimSpace(req.FullName),
			LicenseNumber: strings.TrimSpace(req.LicenseNumber),
			LicenseType:   strings.TrimSpace(req.LicenseType),
			MedicalClass:  req.MedicalClass,
			BaseAirport:   strings.ToUpper(strings.TrimSpace(req.BaseAirport)),
			Phone:         req.Phone,
		}

		if err := h.pilotRepo.CreatePilot(c.Request.Context(), pilot, middleware.CurrentActor(c)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create pilot profile",
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"pilot": pilot,
		})
	}
}

// ListHandler lists pilot profiles with pagination. Reviewer only (enforced
// by the route group).
// GET /api/v1/pilots?page=&per_page=
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		pilots, total, err := h.pilotRepo.ListPilots(c.Request.Context(), perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list pilots",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"pilots": pilots,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// MeHandler returns the pilot profile of the authenticated user.
// GET /api/v1/pilots/me
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		pilot, err := h.pilotRepo.GetPilotByUserID(c.Request.Context(), user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve pilot profile",
			})
			return
		}
		if pilot == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No pilot profile associated with this account",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"pilot": pilot,
		})
	}
}

// GetHandler fetches one pilot profile. Reviewers may fetch any profile;
// pilots only their own.
// GET /api/v1/pilots/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pilot, ok := h.loadAuthorizedPilot(c)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"pilot": pilot,
		})
	}
}

// UpdateRequest carries the editable pilot profile fields.
type UpdateRequest struct {
	FullName      *string `json:"full_name,omitempty"`
	LicenseNumber *string `json:"license_number,omitempty"`
	LicenseType   *string `json:"license_type,omitempty"`
	MedicalClass  *string `json:"medical_class,omitempty"`
	BaseAirport   *string `json:"base_airport,omitempty"`
	Phone         *string `json:"phone,omitempty"`
}

// UpdateHandler updates a pilot profile. A pilot may edit their own profile;
// admins may edit any.
// PUT /api/v1/pilots/:id
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)

		pilot, err := h.pilotRepo.GetPilotByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve pilot",
			})
			return
		}
		if pilot == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Pilot not found",
			})
			return
		}
		if !user.IsAdmin() && pilot.UserID != user.ID {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Pilot not found",
			})
			return
		}

		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if req.FullName != nil {
			name := strings.TrimSpace(*req.FullName)
			if name == "" {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "full_name cannot be empty",
				})
				return
			}
			pilot.FullName = name
		}
		if req.LicenseNumber != nil {
			pilot.LicenseNumber = strings.TrimSpace(*req.LicenseNumber)
		}
		if req.LicenseType != nil {
			pilot.LicenseType = strings.TrimSpace(*req.LicenseType)
		}
		if req.MedicalClass != nil {
			pilot.MedicalClass = *req.MedicalClass
		}
		if req.BaseAirport != nil {
			pilot.BaseAirport = strings.ToUpper(strings.TrimSpace(*req.BaseAirport))
		}
		if req.Phone != nil {
			pilot.Phone = req.Phone
		}

		updated, err := h.pilotRepo.UpdatePilot(c.Request.Context(), pilot, middleware.CurrentActor(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update pilot",
			})
			return
		}
		if updated == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Pilot not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"pilot": updated,
		})
	}
}

// DeleteHandler removes a pilot profile along with every document it owns.
// Admin only (enforced by the route group). The repository records a DELETE
// entry for the profile and for each removed document in one transaction;
// the stored files are cleaned up here after the commit.
// DELETE /api/v1/pilots/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, deleted, err := h.pilotRepo.DeletePilot(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete pilot",
			})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Pilot not found",
			})
			return
		}

		for _, doc := range docs {
			if err := h.backend.Delete(c.Request.Context(), doc.FilePath); err != nil {
				// The rows and their audit entries are gone; an orphaned file
				// is recoverable, a missing trail is not. Log and continue.
				slog.Error("failed to delete stored file after pilot delete",
					"path", doc.FilePath, "document_id", doc.ID, "error", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"message":           "Pilot deleted",
			"deleted_documents": len(docs),
		})
	}
}

// loadAuthorizedPilot fetches the :id pilot and enforces own-or-reviewer
// read access.
func (h *Handlers) loadAuthorizedPilot(c *gin.Context) (*models.Pilot, bool) {
	user := middleware.CurrentUser(c)

	pilot, err := h.pilotRepo.GetPilotByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve pilot",
		})
		return nil, false
	}
	if pilot == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Pilot not found",
		})
		return nil, false
	}
	if !user.IsReviewer() && pilot.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Pilot not found",
		})
		return nil, false
	}
	return pilot, true
}
