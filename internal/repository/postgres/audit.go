package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

const auditColumns = `id, actor_id, action, resource_type, resource_id, context,
	previous_data, new_data, ip_address, user_agent, success, error_message, created_at`

// groupable is the whitelist of columns CountGrouped may interpolate.
var groupable = map[repository.GroupColumn]bool{
	repository.GroupByAction:       true,
	repository.GroupByResourceType: true,
	repository.GroupByActor:        true,
	repository.GroupByIPAddress:    true,
}

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, entry *model.AuditEntry) error {
	start := time.Now()
	query := `
		INSERT INTO audit_entries (` + auditColumns + `)
		VALUES (
			:id, :actor_id, :action, :resource_type, :resource_id, :context,
			:previous_data, :new_data, :ip_address, :user_agent, :success, :error_message, :created_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	err = translate(err, "create audit entry")
	r.observe("audit.create", start, err)
	return err
}

func (r *auditRepository) GetByID(ctx context.Context, id string) (*model.AuditEntry, error) {
	var entry model.AuditEntry
	err := r.db.GetContext(ctx, &entry, `SELECT `+auditColumns+` FROM audit_entries WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err, "get audit entry")
	}
	return &entry, nil
}

func auditWhere(filter model.AuditFilter) *whereBuilder {
	w := &whereBuilder{}
	if filter.ActorID != nil {
		w.add("actor_id = $%d", *filter.ActorID)
	}
	if filter.Action != "" {
		w.add("action = $%d", string(filter.Action))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		w.add("action = ANY($%d)", pq.Array(actions))
	}
	if filter.ResourceType != "" {
		w.add("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		w.add("resource_id = $%d", filter.ResourceID)
	}
	if filter.IPAddress != "" {
		w.add("ip_address = $%d", filter.IPAddress)
	}
	if filter.From != nil {
		w.add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at <= $%d", *filter.To)
	}
	if filter.Success != nil {
		w.add("success = $%d", *filter.Success)
	}
	return w
}

func (r *auditRepository) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, int64, error) {
	start := time.Now()
	w := auditWhere(filter)

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_entries`+w.String(), w.args...); err != nil {
		err = translate(err, "count audit entries")
		r.observe("audit.list", start, err)
		return nil, 0, err
	}

	where := w.String()
	limitIdx := w.next(filter.Limit)
	offsetIdx := w.next(filter.Offset())
	query := `SELECT ` + auditColumns + ` FROM audit_entries` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", limitIdx, offsetIdx)

	entries := []*model.AuditEntry{}
	err := r.db.SelectContext(ctx, &entries, query, w.args...)
	err = translate(err, "list audit entries")
	r.observe("audit.list", start, err)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *auditRepository) Export(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	start := time.Now()
	w := auditWhere(filter)
	query := `SELECT ` + auditColumns + ` FROM audit_entries` + w.String() + ` ORDER BY created_at ASC, id ASC`

	entries := []*model.AuditEntry{}
	err := r.db.SelectContext(ctx, &entries, query, w.args...)
	err = translate(err, "export audit entries")
	r.observe("audit.export", start, err)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditRepository) Count(ctx context.Context, filter model.AuditFilter) (int64, error) {
	w := auditWhere(filter)
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_entries`+w.String(), w.args...); err != nil {
		return 0, translate(err, "count audit entries")
	}
	return total, nil
}

func (r *auditRepository) CountGrouped(ctx context.Context, filter model.AuditFilter, column repository.GroupColumn, limit int) ([]model.CountByKey, error) {
	if !groupable[column] {
		return nil, fmt.Errorf("cannot group audit entries by %q", column)
	}

	w := auditWhere(filter)
	where := w.String()
	query := fmt.Sprintf(`
		SELECT COALESCE(%[1]s::text, '') AS key, COUNT(*) AS count
		FROM audit_entries%[2]s
		GROUP BY %[1]s
		ORDER BY count DESC, key ASC`, column, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", w.next(limit))
	}

	counts := []model.CountByKey{}
	if err := r.db.SelectContext(ctx, &counts, query, w.args...); err != nil {
		return nil, translate(err, "group audit entries")
	}
	return counts, nil
}
