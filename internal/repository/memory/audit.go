package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

type auditRepository struct {
	s *Store
}

func (r *auditRepository) Create(ctx context.Context, entry *model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.AuditErr != nil {
		return r.s.AuditErr
	}
	cp := *entry
	r.s.audit = append(r.s.audit, &cp)
	return nil
}

func (r *auditRepository) GetByID(_ context.Context, id string) (*model.AuditEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, e := range r.s.audit {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func matchesAudit(e *model.AuditEntry, f model.AuditFilter) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && (e.ResourceID == nil || *e.ResourceID != f.ResourceID) {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// filtered returns matching entries oldest first.
func (r *auditRepository) filtered(f model.AuditFilter) []*model.AuditEntry {
	var matched []*model.AuditEntry
	for _, e := range r.s.audit {
		if matchesAudit(e, f) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

func (r *auditRepository) List(_ context.Context, filter model.AuditFilter) ([]*model.AuditEntry, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := r.filtered(filter)
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	start := filter.Offset()
	if start < 0 {
		start = 0
	}
	if start >= len(matched) {
		return []*model.AuditEntry{}, int64(len(matched)), nil
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], int64(len(matched)), nil
}

func (r *auditRepository) Export(_ context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := r.filtered(filter)
	if matched == nil {
		matched = []*model.AuditEntry{}
	}
	return matched, nil
}

func (r *auditRepository) Count(_ context.Context, filter model.AuditFilter) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return int64(len(r.filtered(filter))), nil
}

func (r *auditRepository) CountGrouped(_ context.Context, filter model.AuditFilter, column repository.GroupColumn, limit int) ([]model.CountByKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var key func(e *model.AuditEntry) string
	switch column {
	case repository.GroupByAction:
		key = func(e *model.AuditEntry) string { return string(e.Action) }
	case repository.GroupByResourceType:
		key = func(e *model.AuditEntry) string { return string(e.ResourceType) }
	case repository.GroupByActor:
		key = func(e *model.AuditEntry) string {
			if e.ActorID == nil {
				return ""
			}
			return e.ActorID.String()
		}
	case repository.GroupByIPAddress:
		key = func(e *model.AuditEntry) string { return e.IPAddress }
	default:
		return nil, fmt.Errorf("cannot group audit entries by %q", column)
	}

	totals := make(map[string]int64)
	for _, e := range r.filtered(filter) {
		totals[key(e)]++
	}
	counts := []model.CountByKey{}
	for k, c := range totals {
		counts = append(counts, model.CountByKey{Key: k, Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts, nil
}
