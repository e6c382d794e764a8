// Package auditlog implements the audit trail query endpoints: filtered
// listing with joined actor and record context, single entry lookup,
// aggregate statistics, and capped CSV/JSON export. Exports are themselves
// audited, so pulling the trail leaves a trace in the trail.
package auditlog

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/aerodocs/aerodocs/internal/export"
	"github.com/aerodocs/aerodocs/internal/middleware"
	"github.com/gin-gonic/gin"
)

// DefaultExportMaxRows caps exports when config gives no limit.
const DefaultExportMaxRows = 10000

// DefaultStatsWindowDays is the lookback for statistics when the request
// names no window.
const DefaultStatsWindowDays = 30

// Handlers handles audit trail endpoints
type Handlers struct {
	cfg       *config.Config
	auditRepo *repositories.AuditRepository
	recorder  *audit.Recorder
}

// NewHandlers creates a new audit trail Handlers instance
func NewHandlers(cfg *config.Config, auditRepo *repositories.AuditRepository, recorder *audit.Recorder) *Handlers {
	return &Handlers{
		cfg:       cfg,
		auditRepo: auditRepo,
		recorder:  recorder,
	}
}

// parseFilter builds an AuditFilter from query parameters. Pilots are always
// constrained to entries where they are the actor, regardless of the actor_id
// parameter.
func (h *Handlers) parseFilter(c *gin.Context) (repositories.AuditFilter, bool) {
	user := middleware.CurrentUser(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(repositories.DefaultAuditPageSize)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = repositories.DefaultAuditPageSize
	}
	if perPage > repositories.MaxAuditPageSize {
		perPage = repositories.MaxAuditPageSize
	}

	filter := repositories.AuditFilter{
		TableName:  c.Query("table_name"),
		RecordID:   c.Query("record_id"),
		ActionType: c.Query("action_type"),
		ActorID:    c.Query("actor_id"),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}

	if filter.ActionType != "" && !models.ValidActionType(filter.ActionType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid action_type: %s", filter.ActionType),
		})
		return filter, false
	}

	start, ok := parseDateParam(c, "start_date")
	if !ok {
		return filter, false
	}
	end, ok := parseDateParam(c, "end_date")
	if !ok {
		return filter, false
	}
	if start != nil && end != nil && start.After(*end) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "start_date must not be after end_date",
		})
		return filter, false
	}
	filter.StartDate = start
	filter.EndDate = end

	if user != nil && !user.IsReviewer() {
		filter.ActorID = user.ID
	}
	return filter, true
}

// @Summary      List audit entries
// @Description  List audit entries newest first, filtered by table, record, action type, actor, and date range. Pilots only see entries they performed; reviewers see the full trail.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        table_name   query  string  false  "Filter by table (documents, pilots, users, audit_entries)"
// @Param        record_id    query  string  false  "Filter by record"
// @Param        action_type  query  string  false  "Filter by action type"
// @Param        actor_id     query  string  false  "Filter by actor (reviewers only)"
// @Param        start_date   query  string  false  "Entries at or after this time (RFC 3339 or YYYY-MM-DD)"
// @Param        end_date     query  string  false  "Entries at or before this time"
// @Success      200  {object}  map[string]interface{}  "entries, pagination"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit [get]
// ListHandler lists audit entries with joined context.
// GET /api/v1/audit
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := h.parseFilter(c)
		if !ok {
			return
		}

		entries, total, err := h.auditRepo.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list audit entries",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			"pagination": gin.H{
				"page":     filter.Offset/filter.Limit + 1,
				"per_page": filter.Limit,
				"total":    total,
			},
		})
	}
}

// GetHandler fetches a single audit entry. Pilots may only fetch entries
// they are the actor of.
// GET /api/v1/audit/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)

		entry, err := h.auditRepo.GetEntry(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve audit entry",
			})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Audit entry not found",
			})
			return
		}
		if user != nil && !user.IsReviewer() {
			if entry.ActorID == nil || *entry.ActorID != user.ID {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Audit entry not found",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"entry": entry,
		})
	}
}

// StatsHandler returns aggregate counts over a time window. The window is
// either an explicit start_date/end_date pair or a trailing ?days= lookback,
// so historic periods can be queried rather than only "the last N days".
// Reviewer only (enforced by the route group).
// GET /api/v1/audit/stats?days=30
// GET /api/v1/audit/stats?start_date=2026-01-01&end_date=2026-02-01
func (h *Handlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, ok := parseDateParam(c, "start_date")
		if !ok {
			return
		}
		end, ok := parseDateParam(c, "end_date")
		if !ok {
			return
		}
		if start != nil && end != nil && start.After(*end) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "start_date must not be after end_date",
			})
			return
		}

		until := time.Now()
		if end != nil {
			until = *end
		}
		var since time.Time
		if start != nil {
			since = *start
		} else {
			days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(DefaultStatsWindowDays)))
			if err != nil || days < 1 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "days must be a positive integer",
				})
				return
			}
			since = until.AddDate(0, 0, -days)
		}

		stats, err := h.auditRepo.Stats(c.Request.Context(), since, until)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to compute audit statistics",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"stats": stats,
			"since": since,
			"until": until,
		})
	}
}

// ExportHandler streams matching entries as CSV or JSON. The export itself
// is written to the trail with the filter in metadata. Reviewer only
// (enforced by the route group).
// GET /api/v1/audit/export?format=csv
func (h *Handlers) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.DefaultQuery("format", "csv")
		if format != "csv" && format != "json" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Unsupported export format: %s (want csv or json)", format),
			})
			return
		}

		filter, ok := h.parseFilter(c)
		if !ok {
			return
		}
		// exports are bounded by the row cap, not pagination
		filter.Limit = 0
		filter.Offset = 0

		maxRows := h.cfg.Audit.ExportMaxRows
		if maxRows <= 0 {
			maxRows = DefaultExportMaxRows
		}

		entries, err := h.auditRepo.ExportRows(c.Request.Context(), filter, maxRows)
		if err != nil {
			if errors.Is(err, repositories.ErrExportTooLarge) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("Export matches too many rows (limit %d). Narrow the date range or filters and retry.", maxRows),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to export audit entries",
			})
			return
		}

		// Record the export before any body bytes go out. If the trail cannot
		// be written the export does not happen.
		if err := h.logExport(c, format, len(entries), filter); err != nil {
			slog.Error("failed to record audit export", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record audit entry",
			})
			return
		}

		c.Header("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", export.Filename(format, time.Now())))

		switch format {
		case "csv":
			c.Header("Content-Type", "text/csv; charset=utf-8")
			c.Status(http.StatusOK)
			if err := export.WriteCSV(c.Writer, entries); err != nil {
				slog.Error("audit csv export write failed", "error", err)
			}
		case "json":
			c.Header("Content-Type", "application/json")
			c.Status(http.StatusOK)
			if err := export.WriteJSON(c.Writer, entries); err != nil {
				slog.Error("audit json export write failed", "error", err)
			}
		}
	}
}

// logExport records an EXPORT entry carrying the format, row count, and the
// filter that was applied.
func (h *Handlers) logExport(c *gin.Context, format string, rows int, filter repositories.AuditFilter) error {
	actor := middleware.CurrentActor(c)
	entry, err := audit.BuildEntry("audit_entries", nil, models.ActionExport, actor, nil, nil)
	if err != nil {
		return err
	}

	metadata := map[string]interface{}{
		"format": format,
		"rows":   rows,
	}
	if filter.TableName != "" {
		metadata["filter_table_name"] = filter.TableName
	}
	if filter.RecordID != "" {
		metadata["filter_record_id"] = filter.RecordID
	}
	if filter.ActionType != "" {
		metadata["filter_action_type"] = filter.ActionType
	}
	if filter.ActorID != "" {
		metadata["filter_actor_id"] = filter.ActorID
	}
	if filter.StartDate != nil {
		metadata["filter_start_date"] = filter.StartDate.Format(time.RFC3339)
	}
	if filter.EndDate != nil {
		metadata["filter_end_date"] = filter.EndDate.Format(time.RFC3339)
	}
	if requestID, exists := c.Get(middleware.RequestIDKey); exists {
		metadata["request_id"] = requestID
	}
	entry.Metadata = metadata

	return h.recorder.Log(c.Request.Context(), entry)
}

// parseDateParam reads an optional date query parameter as RFC 3339 or as a
// bare YYYY-MM-DD date.
func parseDateParam(c *gin.Context, name string) (*time.Time, bool) {
	value := c.Query(name)
	if value == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, true
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error": fmt.Sprintf("Invalid %s (want RFC 3339 or YYYY-MM-DD)", name),
	})
	return nil, false
}
