// Package documents implements the compliance document endpoints: multipart
// upload, metadata CRUD, review (approve/reject), and file download. Reads of
// individual documents are captured in the audit trail alongside the tracked
// mutations, because a regulator asking "who saw this medical certificate" is
// a read question, not a write question.
package documents

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/aerodocs/aerodocs/internal/middleware"
	"github.com/aerodocs/aerodocs/internal/storage"
	"github.com/aerodocs/aerodocs/internal/telemetry"
	"github.com/aerodocs/aerodocs/internal/validation"
	"github.com/aerodocs/aerodocs/pkg/checksum"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers handles document endpoints
type Handlers struct {
	cfg       *config.Config
	docRepo   *repositories.DocumentRepository
	pilotRepo *repositories.PilotRepository
	recorder  *audit.Recorder
	backend   storage.Backend
}

// NewHandlers creates a new document Handlers instance
func NewHandlers(cfg *config.Config, docRepo *repositories.DocumentRepository, pilotRepo *repositories.PilotRepository, recorder *audit.Recorder, backend storage.Backend) *Handlers {
	return &Handlers{
		cfg:       cfg,
		docRepo:   docRepo,
		pilotRepo: pilotRepo,
		recorder:  recorder,
		backend:   backend,
	}
}

// resolvePilot returns the pilot profile for the authenticated user, or nil
// for admin/inspector accounts that have no pilot profile.
func (h *Handlers) resolvePilot(c *gin.Context) (*models.Pilot, error) {
	user := middleware.CurrentUser(c)
	if user == nil {
		return nil, fmt.Errorf("no authenticated user")
	}
	return h.pilotRepo.GetPilotByUserID(c.Request.Context(), user.ID)
}

// canAccessDocument reports whether the authenticated user may see the given
// document. Reviewers see everything; pilots only their own.
func (h *Handlers) canAccessDocument(c *gin.Context, doc *models.Document) (bool, error) {
	user := middleware.CurrentUser(c)
	if user == nil {
		return false, nil
	}
	if user.IsReviewer() {
		return true, nil
	}
	pilot, err := h.resolvePilot(c)
	if err != nil {
		return false, err
	}
	return pilot != nil && pilot.ID == doc.PilotID, nil
}

// @Summary      Upload document
// @Description  Upload a compliance document as multipart form data. The file is stored in the configured storage backend with a SHA-256 checksum and an UPLOAD entry is written to the audit trail.
// @Tags         Documents
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        doc_type     formData  string  true   "Document type (medical_certificate, license, training_record, logbook, other)"
// @Param        title        formData  string  true   "Document title"
// @Param        pilot_id     formData  string  false  "Target pilot (reviewers only; pilots always upload to their own profile)"
// @Param        issued_date  formData  string  false  "Issue date (YYYY-MM-DD)"
// @Param        expiry_date  formData  string  false  "Expiry date (YYYY-MM-DD)"
// @Param        file         formData  file    true   "Document file (pdf/jpeg/png/tiff)"
// @Success      201  {object}  map[string]interface{}  "document"
// @Failure      400  {object}  map[string]interface{}  "Invalid request or file"
// @Failure      403  {object}  map[string]interface{}  "Not allowed to upload for this pilot"
// @Router       /api/v1/documents [post]
// UploadHandler handles document upload requests
// POST /api/v1/documents
func (h *Handlers) UploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		maxMB := h.cfg.Storage.MaxUploadSizeMB
		if maxMB <= 0 {
			maxMB = validation.DefaultMaxUploadSizeMB
		}

		if err := c.Request.ParseMultipartForm(int64(maxMB) << 20); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to parse multipart form",
			})
			return
		}

		docType := c.PostForm("doc_type")
		title := strings.TrimSpace(c.PostForm("title"))
		if docType == "" || title == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing required fields: doc_type, title",
			})
			return
		}
		if !models.ValidDocType(docType) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Invalid doc_type: %s", docType),
			})
			return
		}

		issuedDate, expiryDate, err := parseDocumentDates(c.PostForm("issued_date"), c.PostForm("expiry_date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		if err := validation.ValidateDocumentDates(issuedDate, expiryDate, time.Now()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		pilotID, ok := h.resolveTargetPilot(c)
		if !ok {
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing or invalid file upload",
			})
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if err := validation.ValidateContentType(contentType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		fileName, err := validation.SanitizeFileName(header.Filename)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		buf := &bytes.Buffer{}
		size, err := io.Copy(buf, file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read uploaded file",
			})
			return
		}
		if err := validation.ValidateFileSize(size, maxMB); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		docID := uuid.New().String()
		path := storage.DocumentPath(pilotID, docID, fileName)

		result, err := h.backend.Put(c.Request.Context(), path, bytes.NewReader(buf.Bytes()), size)
		if err != nil {
			slog.Error("document upload to storage failed", "path", path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to store file",
			})
			return
		}

		doc := &models.Document{
			ID:          docID,
			PilotID:     pilotID,
			DocType:     docType,
			Title:       title,
			FilePath:    result.Path,
			FileSize:    result.Size,
			Checksum:    result.Checksum,
			ContentType: contentType,
			IssuedDate:  issuedDate,
			ExpiryDate:  expiryDate,
		}

		metadata := withRequestID(c, map[string]interface{}{
			"file_name": fileName,
			"file_size": result.Size,
			"checksum":  result.Checksum,
		})

		actor := middleware.CurrentActor(c)
		if err := h.docRepo.CreateDocument(c.Request.Context(), doc, actor, metadata); err != nil {
			// The DB row failed; remove the orphaned file.
			if delErr := h.backend.Delete(c.Request.Context(), result.Path); delErr != nil {
				slog.Error("failed to clean up orphaned upload", "path", result.Path, "error", delErr)
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create document record",
			})
			return
		}
		telemetry.DocumentUploadsTotal.WithLabelValues(docType).Inc()

		c.JSON(http.StatusCreated, gin.H{
			"document": doc,
		})
	}
}

// resolveTargetPilot determines which pilot a new document belongs to. Pilots
// always upload to their own profile; reviewers may name any pilot.
func (h *Handlers) resolveTargetPilot(c *gin.Context) (string, bool) {
	user := middleware.CurrentUser(c)
	requested := c.PostForm("pilot_id")

	if user.IsReviewer() {
		if requested == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "pilot_id is required for reviewer uploads",
			})
			return "", false
		}
		pilot, err := h.pilotRepo.GetPilotByID(c.Request.Context(), requested)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up pilot",
			})
			return "", false
		}
		if pilot == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Pilot not found",
			})
			return "", false
		}
		return pilot.ID, true
	}

	pilot, err := h.resolvePilot(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up pilot profile",
		})
		return "", false
	}
	if pilot == nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "No pilot profile associated with this account",
		})
		return "", false
	}
	if requested != "" && requested != pilot.ID {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Pilots may only upload documents to their own profile",
		})
		return "", false
	}
	return pilot.ID, true
}

// ListHandler lists documents. Pilots are always scoped to their own profile
// regardless of the pilot_id query parameter.
// GET /api/v1/documents?pilot_id=&status=&doc_type=&page=&per_page=
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		filter := repositories.DocumentFilter{
			PilotID: c.Query("pilot_id"),
			Status:  c.Query("status"),
			DocType: c.Query("doc_type"),
			Limit:   perPage,
			Offset:  (page - 1) * perPage,
		}

		if filter.Status != "" && !models.ValidStatus(filter.Status) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Invalid status: %s", filter.Status),
			})
			return
		}
		if filter.DocType != "" && !models.ValidDocType(filter.DocType) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Invalid doc_type: %s", filter.DocType),
			})
			return
		}

		if !user.IsReviewer() {
			pilot, err := h.resolvePilot(c)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to look up pilot profile",
				})
				return
			}
			if pilot == nil {
				c.JSON(http.StatusOK, gin.H{
					"documents": []*models.Document{},
					"pagination": gin.H{
						"page": page, "per_page": perPage, "total": 0,
					},
				})
				return
			}
			filter.PilotID = pilot.ID
		}

		docs, total, err := h.docRepo.ListDocuments(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list documents",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": docs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetHandler fetches one document and records a VIEW entry.
// GET /api/v1/documents/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.loadAuthorizedDocument(c)
		if !ok {
			return
		}

		if err := h.logDocumentAction(c, models.ActionView, doc, nil); err != nil {
			slog.Error("failed to record document view", "document_id", doc.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"document": doc,
		})
	}
}

// UpdateRequest carries the editable metadata fields. Status and file content
// are immutable through this endpoint.
type UpdateRequest struct {
	Title      *string `json:"title,omitempty"`
	IssuedDate *string `json:"issued_date,omitempty"`
	ExpiryDate *string `json:"expiry_date,omitempty"`
}

// UpdateHandler updates document metadata (title, dates).
// PUT /api/v1/documents/:id
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.loadAuthorizedDocument(c)
		if !ok {
			return
		}

		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "title cannot be empty",
				})
				return
			}
			doc.Title = title
		}
		if req.IssuedDate != nil || req.ExpiryDate != nil {
			issuedStr, expiryStr := "", ""
			if req.IssuedDate != nil {
				issuedStr = *req.IssuedDate
			} else if doc.IssuedDate != nil {
				issuedStr = doc.IssuedDate.Format("2006-01-02")
			}
			if req.ExpiryDate != nil {
				expiryStr = *req.ExpiryDate
			} else if doc.ExpiryDate != nil {
				expiryStr = doc.ExpiryDate.Format("2006-01-02")
			}
			issued, expiry, err := parseDocumentDates(issuedStr, expiryStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": err.Error(),
				})
				return
			}
			if err := validation.ValidateDocumentDates(issued, expiry, time.Now()); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": err.Error(),
				})
				return
			}
			doc.IssuedDate = issued
			doc.ExpiryDate = expiry
		}

		updated, err := h.docRepo.UpdateDocument(c.Request.Context(), doc, middleware.CurrentActor(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update document",
			})
			return
		}
		if updated == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Document not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"document": updated,
		})
	}
}

// DeleteHandler removes a document record and its stored file. The file is
// deleted only after the transaction commits so a failed delete never leaves
// a dangling DB row.
// DELETE /api/v1/documents/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.loadAuthorizedDocument(c)
		if !ok {
			return
		}

		deleted, err := h.docRepo.DeleteDocument(c.Request.Context(), doc.ID, middleware.CurrentActor(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete document",
			})
			return
		}
		if deleted == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Document not found",
			})
			return
		}

		if err := h.backend.Delete(c.Request.Context(), deleted.FilePath); err != nil {
			// The audit entry for the delete exists; the file is orphaned but
			// the trail is intact. Log and move on.
			slog.Error("failed to delete stored file after document delete",
				"path", deleted.FilePath, "document_id", deleted.ID, "error", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Document deleted",
		})
	}
}

// DownloadHandler serves the document file and records a DOWNLOAD entry.
// The stored bytes are verified against the checksum captured at upload time
// before anything is sent, so silent storage corruption surfaces as an error
// instead of a bad certificate handed to a regulator. Uploads are capped at a
// few tens of megabytes, so buffering the file for verification is fine.
// GET /api/v1/documents/:id/download
func (h *Handlers) DownloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.loadAuthorizedDocument(c)
		if !ok {
			return
		}

		reader, err := h.backend.Get(c.Request.Context(), doc.FilePath)
		if err != nil {
			slog.Error("failed to open stored file", "path", doc.FilePath, "error", err)
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Stored file not found",
			})
			return
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			slog.Error("failed to read stored file", "path", doc.FilePath, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read stored file",
			})
			return
		}

		if doc.Checksum != "" {
			ok, err := checksum.VerifySHA256(bytes.NewReader(data), doc.Checksum)
			if err != nil || !ok {
				slog.Error("stored file failed checksum verification",
					"document_id", doc.ID, "path", doc.FilePath, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Stored file failed integrity verification",
				})
				return
			}
		}

		err = h.logDocumentAction(c, models.ActionDownload, doc, map[string]interface{}{
			"file_path": doc.FilePath,
			"file_size": doc.FileSize,
		})
		if err != nil {
			slog.Error("failed to record document download", "document_id", doc.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}
		telemetry.DocumentDownloadsTotal.WithLabelValues(doc.DocType).Inc()

		c.Header("Content-Disposition", "attachment")
		c.Data(http.StatusOK, doc.ContentType, data)
	}
}

// ReviewRequest carries the reject reason. Approvals take no body.
type ReviewRequest struct {
	Reason string `json:"reason"`
}

// ApproveHandler marks a pending document approved. Reviewer only.
// POST /api/v1/documents/:id/approve
func (h *Handlers) ApproveHandler() gin.HandlerFunc {
	return h.reviewHandler(models.StatusApproved)
}

// RejectHandler marks a document rejected with a mandatory reason. Reviewer only.
// POST /api/v1/documents/:id/reject
func (h *Handlers) RejectHandler() gin.HandlerFunc {
	return h.reviewHandler(models.StatusRejected)
}

func (h *Handlers) reviewHandler(status string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		docID := c.Param("id")

		var reason *string
		if status == models.StatusRejected {
			var req ReviewRequest
			if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "A rejection reason is required",
				})
				return
			}
			trimmed := strings.TrimSpace(req.Reason)
			reason = &trimmed
		}

		doc, err := h.docRepo.SetStatus(c.Request.Context(), docID, status, user.ID, reason, middleware.CurrentActor(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Document not found",
			})
			return
		}

		telemetry.DocumentReviewsTotal.WithLabelValues(status).Inc()

		c.JSON(http.StatusOK, gin.H{
			"document": doc,
		})
	}
}

// ServeFileHandler serves stored files referenced by local-backend signed URLs
// (/api/v1/files/pilots/:pilot/:doc/:name). Access control matches the parent
// document: reviewers see everything, pilots only their own folder.
// GET /api/v1/files/*filepath
func (h *Handlers) ServeFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Param("filepath"), "/")
		if path == "" || strings.Contains(path, "..") {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid file path",
			})
			return
		}

		user := middleware.CurrentUser(c)
		if !user.IsReviewer() {
			pilot, err := h.resolvePilot(c)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to look up pilot profile",
				})
				return
			}
			if pilot == nil || !strings.HasPrefix(path, "pilots/"+pilot.ID+"/") {
				c.JSON(http.StatusForbidden, gin.H{
					"error": "Not authorized for this file",
				})
				return
			}
		}

		info, err := h.backend.Stat(c.Request.Context(), path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "File not found",
			})
			return
		}

		reader, err := h.backend.Get(c.Request.Context(), path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "File not found",
			})
			return
		}
		defer reader.Close()

		c.Header("Content-Disposition", "attachment")
		c.DataFromReader(http.StatusOK, info.Size, "application/octet-stream", reader, nil)
	}
}

// loadAuthorizedDocument fetches the :id document and enforces read access.
func (h *Handlers) loadAuthorizedDocument(c *gin.Context) (*models.Document, bool) {
	doc, err := h.docRepo.GetDocumentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve document",
		})
		return nil, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Document not found",
		})
		return nil, false
	}

	allowed, err := h.canAccessDocument(c, doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check document access",
		})
		return nil, false
	}
	if !allowed {
		// 404 rather than 403 so pilots cannot probe for other pilots'
		// document IDs.
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Document not found",
		})
		return nil, false
	}
	return doc, true
}

// logDocumentAction writes an explicit (non-transactional) audit entry for
// reads and file operations on a document. A write failure is returned so the
// caller can refuse the operation rather than serve it unaudited.
func (h *Handlers) logDocumentAction(c *gin.Context, action string, doc *models.Document, metadata map[string]interface{}) error {
	actor := middleware.CurrentActor(c)
	docID := doc.ID
	entry, err := audit.BuildEntry("documents", &docID, action, actor, nil, nil)
	if err != nil {
		return err
	}
	entry.Metadata = withRequestID(c, metadata)
	return h.recorder.Log(c.Request.Context(), entry)
}

// withRequestID folds the request ID from the middleware chain into an entry
// metadata map, allocating one if needed.
func withRequestID(c *gin.Context, metadata map[string]interface{}) map[string]interface{} {
	requestID, exists := c.Get(middleware.RequestIDKey)
	if !exists {
		return metadata
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["request_id"] = requestID
	return metadata
}

// parseDocumentDates parses optional YYYY-MM-DD form values.
func parseDocumentDates(issuedStr, expiryStr string) (*time.Time, *time.Time, error) {
	var issued, expiry *time.Time
	if issuedStr != "" {
		t, err := time.Parse("2006-01-02", issuedStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid issued_date (want YYYY-MM-DD): %s", issuedStr)
		}
		issued = &t
	}
	if expiryStr != "" {
		t, err := time.Parse("2006-01-02", expiryStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid expiry_date (want YYYY-MM-DD): %s", expiryStr)
		}
		expiry = &t
	}
	return issued, expiry, nil
}
