package auditlog

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/hospital-api/internal/model"
)

var csvHeader = []string{
	"id", "created_at", "actor_id", "action", "resource_type", "resource_id",
	"ip_address", "user_agent", "success", "error_message", "context",
}

// WriteCSV renders entries with one header row. The context bag is written
// as a JSON document in the last column.
func WriteCSV(w io.Writer, entries []*model.AuditEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		ctxJSON, err := json.Marshal(e.Context)
		if err != nil {
			return err
		}
		record := []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			"",
			string(e.Action),
			string(e.ResourceType),
			cell(deref(e.ResourceID)),
			cell(e.IPAddress),
			cell(e.UserAgent),
			strconv.FormatBool(e.Success),
			cell(deref(e.ErrorMessage)),
			cell(string(ctxJSON)),
		}
		if e.ActorID != nil {
			record[2] = e.ActorID.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// cell quotes caller-supplied text that a spreadsheet would evaluate as a
// formula.
func cell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
