package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// ─── UserIDMappingRepository ───

type mappingRepo struct{ tx *memTx }

func (r *mappingRepo) Get(ctx context.Context, appID, userID string, idType repository.UserIDType) (*repository.UserIDMapping, error) {
	a := r.tx.app(appID)
	if idType != repository.UserIDTypeExternal {
		if m, ok := a.mappings[userID]; ok {
			return &m, nil
		}
	}
	if idType != repository.UserIDTypeSuperTokens {
		for _, m := range a.mappings {
			if m.ExternalUserID == userID {
				return &m, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (r *mappingRepo) Create(ctx context.Context, appID string, m repository.UserIDMapping) error {
	if err := r.tx.check("CreateUserIDMapping"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	if _, ok := a.users[m.SuperTokensUserID]; !ok {
		return fmt.Errorf("memory: mapping for unknown user %s: %w", m.SuperTokensUserID, repository.ErrNotFound)
	}
	if _, ok := a.mappings[m.SuperTokensUserID]; ok {
		return fmt.Errorf("memory: user %s already mapped: %w", m.SuperTokensUserID, repository.ErrConflict)
	}
	for _, other := range a.mappings {
		if other.ExternalUserID == m.ExternalUserID {
			return fmt.Errorf("memory: external id %s already mapped: %w", m.ExternalUserID, repository.ErrConflict)
		}
	}
	a.mappings[m.SuperTokensUserID] = m
	return nil
}

func (r *mappingRepo) Delete(ctx context.Context, appID, superTokensUserID string) error {
	delete(r.tx.app(appID).mappings, superTokensUserID)
	return nil
}

// ─── NonAuthRepository ───

type nonAuthRepo struct {
	tx     *memTx
	domain repository.NonAuthDomain
}

func (r *nonAuthRepo) Domain() repository.NonAuthDomain { return r.domain }

func (r *nonAuthRepo) Upsert(ctx context.Context, appID, userID string, data []byte) error {
	if err := r.tx.check("Upsert:" + string(r.domain)); err != nil {
		return err
	}
	a := r.tx.app(appID)
	m, ok := a.nonAuth[r.domain]
	if !ok {
		m = make(map[string][]byte)
		a.nonAuth[r.domain] = m
	}
	m[userID] = append([]byte(nil), data...)
	return nil
}

func (r *nonAuthRepo) Get(ctx context.Context, appID, userID string) ([]byte, error) {
	v, ok := r.tx.app(appID).nonAuth[r.domain][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (r *nonAuthRepo) DeleteForUser(ctx context.Context, appID, userID string) (bool, error) {
	if err := r.tx.check("Delete:" + string(r.domain)); err != nil {
		return false, err
	}
	m := r.tx.app(appID).nonAuth[r.domain]
	if _, ok := m[userID]; !ok {
		return false, nil
	}
	delete(m, userID)
	return true, nil
}

// ─── SessionRepository ───

type sessionRepo struct{ tx *memTx }

func (r *sessionRepo) Create(ctx context.Context, s repository.Session) error {
	a := r.tx.app(s.AppID)
	if _, ok := a.sessions[s.Handle]; ok {
		return fmt.Errorf("memory: session %s: %w", s.Handle, repository.ErrDuplicateID)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.tx.now()
	}
	a.sessions[s.Handle] = s
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, appID, userID string) ([]repository.Session, error) {
	var out []repository.Session
	for _, s := range r.tx.app(appID).sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (r *sessionRepo) DeleteForUser(ctx context.Context, appID, userID string) ([]string, error) {
	if err := r.tx.check("DeleteSessions"); err != nil {
		return nil, err
	}
	a := r.tx.app(appID)
	var handles []string
	for h, s := range a.sessions {
		if s.UserID == userID {
			handles = append(handles, h)
			delete(a.sessions, h)
		}
	}
	sort.Strings(handles)
	return handles, nil
}

// ─── BulkImportRepository ───

type bulkRepo struct{ tx *memTx }

func (r *bulkRepo) Add(ctx context.Context, appID string, entries []repository.BulkImportEntry) error {
	if err := r.tx.check("AddBulkImportUsers"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	seen := make(map[string]struct{}, len(entries))
	var dups []string
	for _, e := range entries {
		_, stored := a.bulk[e.ID]
		_, repeated := seen[e.ID]
		if stored || repeated {
			dups = append(dups, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	if len(dups) > 0 {
		return fmt.Errorf("memory: add bulk entries: %w", &repository.DuplicateIDsError{IDs: dups})
	}

	now := r.tx.now()
	for i, e := range entries {
		e.AppID = appID
		if e.Status == "" {
			e.Status = repository.BulkImportNew
		}
		if e.CreatedAt.IsZero() {
			// Desempate estable dentro del mismo Add.
			e.CreatedAt = now.Add(time.Duration(i))
		}
		e.UpdatedAt = e.CreatedAt
		e.RawData = append([]byte(nil), e.RawData...)
		a.bulk[e.ID] = e
	}
	return nil
}

func (r *bulkRepo) sorted(appID string, status *repository.BulkImportStatus) []repository.BulkImportEntry {
	var out []repository.BulkImportEntry
	for _, e := range r.tx.app(appID).bulk {
		if status != nil && e.Status != *status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *bulkRepo) List(ctx context.Context, appID string, f repository.ListBulkImportFilter) ([]repository.BulkImportEntry, error) {
	var out []repository.BulkImportEntry
	for _, e := range r.sorted(appID, f.Status) {
		if f.AfterCreatedAt != nil {
			if e.CreatedAt.Before(*f.AfterCreatedAt) {
				continue
			}
			if e.CreatedAt.Equal(*f.AfterCreatedAt) && e.ID <= f.AfterID {
				continue
			}
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *bulkRepo) ClaimNew(ctx context.Context, appID string, limit int) ([]repository.BulkImportEntry, error) {
	if err := r.tx.check("ClaimNew"); err != nil {
		return nil, err
	}
	status := repository.BulkImportNew
	a := r.tx.app(appID)
	now := r.tx.now()

	var out []repository.BulkImportEntry
	for _, e := range r.sorted(appID, &status) {
		if limit > 0 && len(out) == limit {
			break
		}
		e.Status = repository.BulkImportProcessing
		e.UpdatedAt = now
		a.bulk[e.ID] = e
		out = append(out, e)
	}
	return out, nil
}

func (r *bulkRepo) ListProcessing(ctx context.Context, appID string, limit int) ([]repository.BulkImportEntry, error) {
	status := repository.BulkImportProcessing
	out := r.sorted(appID, &status)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *bulkRepo) SetPrimaryUserID(ctx context.Context, appID, id, primaryUserID string) error {
	a := r.tx.app(appID)
	e, ok := a.bulk[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.PrimaryUserID = primaryUserID
	e.UpdatedAt = r.tx.now()
	a.bulk[id] = e
	return nil
}

func (r *bulkRepo) SetStatus(ctx context.Context, appID, id string, status repository.BulkImportStatus, errMsg string) error {
	if err := r.tx.check("SetStatus"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	e, ok := a.bulk[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = r.tx.now()
	a.bulk[id] = e
	return nil
}

func (r *bulkRepo) Delete(ctx context.Context, appID string, ids []string) ([]string, error) {
	if err := r.tx.check("DeleteBulkImportUsers"); err != nil {
		return nil, err
	}
	a := r.tx.app(appID)
	var deleted []string
	for _, id := range ids {
		if _, ok := a.bulk[id]; ok {
			delete(a.bulk, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (r *bulkRepo) Count(ctx context.Context, appID string, status *repository.BulkImportStatus) (int64, error) {
	return int64(len(r.sorted(appID, status))), nil
}
