// Package export renders audit trail entries for download. The CSV dialect
// quotes every field unconditionally so consumers never have to sniff
// whether a comma or newline inside a value is structural.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aerodocs/aerodocs/internal/db/models"
)

// CSVColumns is the fixed header row. Column order is part of the export
// contract; downstream compliance tooling indexes by position.
var CSVColumns = []string{
	"timestamp",
	"table_name",
	"record_id",
	"action_type",
	"actor_email",
	"actor_role",
	"actor_name",
	"record_description",
	"changed_fields",
	"ip_address",
	"user_agent",
}

// WriteCSV writes entries as CSV with a header row. Every field is quoted
// and embedded quotes are doubled.
func WriteCSV(w io.Writer, entries []*models.AuditEntryWithContext) error {
	if err := writeCSVRow(w, CSVColumns); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeCSVRow(w, csvRow(e)); err != nil {
			return err
		}
	}
	return nil
}

func csvRow(e *models.AuditEntryWithContext) []string {
	return []string{
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.TableName,
		deref(e.RecordID),
		e.ActionType,
		deref(e.ActorEmail),
		deref(e.ActorRole),
		deref(e.ActorName),
		deref(e.RecordDescription),
		strings.Join(e.ChangedFields, ","),
		deref(e.IPAddress),
		deref(e.UserAgent),
	}
}

func writeCSVRow(w io.Writer, fields []string) error {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// JSONExport is the envelope for JSON exports
type JSONExport struct {
	ExportedAt time.Time                       `json:"exported_at"`
	Count      int                             `json:"count"`
	Entries    []*models.AuditEntryWithContext `json:"entries"`
}

// WriteJSON writes entries as a single JSON document with an export envelope
func WriteJSON(w io.Writer, entries []*models.AuditEntryWithContext) error {
	doc := JSONExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(entries),
		Entries:    entries,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Filename builds a timestamped attachment name for the given format
func Filename(format string, now time.Time) string {
	return fmt.Sprintf("audit-export-%s.%s", now.UTC().Format("20060102-150405"), format)
}
