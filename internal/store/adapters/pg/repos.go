package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// ─── UserIDMappingRepository ───

type mappingRepo struct{ db PgExecQuerier }

func (r *mappingRepo) Get(ctx context.Context, appID, userID string, idType repository.UserIDType) (*repository.UserIDMapping, error) {
	var where string
	switch idType {
	case repository.UserIDTypeSuperTokens:
		where = "supertokens_user_id = $2"
	case repository.UserIDTypeExternal:
		where = "external_user_id = $2"
	default:
		where = "(supertokens_user_id = $2 OR external_user_id = $2)"
	}

	// Con ANY se prioriza el match por supertokens_user_id.
	q := `
SELECT supertokens_user_id, external_user_id, COALESCE(external_info, '')
FROM userid_mapping
WHERE app_id = $1 AND ` + where + `
ORDER BY (supertokens_user_id = $2) DESC
LIMIT 1`

	var m repository.UserIDMapping
	err := r.db.QueryRow(ctx, q, appID, userID).Scan(&m.SuperTokensUserID, &m.ExternalUserID, &m.ExternalInfo)
	if err != nil {
		return nil, mapErr("get user id mapping", err)
	}
	return &m, nil
}

func (r *mappingRepo) Create(ctx context.Context, appID string, m repository.UserIDMapping) error {
	tag, err := r.db.Exec(ctx, `
INSERT INTO userid_mapping (app_id, supertokens_user_id, external_user_id, external_info)
SELECT $1, $2, $3, $4
WHERE EXISTS (SELECT 1 FROM recipe_users WHERE app_id = $1 AND user_id = $2)`,
		appID, m.SuperTokensUserID, m.ExternalUserID, nullIfEmpty(m.ExternalInfo))
	if err != nil {
		return mapErr("create user id mapping", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pg: mapping for unknown user %s: %w", m.SuperTokensUserID, repository.ErrNotFound)
	}
	return nil
}

func (r *mappingRepo) Delete(ctx context.Context, appID, superTokensUserID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM userid_mapping WHERE app_id = $1 AND supertokens_user_id = $2`,
		appID, superTokensUserID)
	return mapErr("delete user id mapping", err)
}

// ─── NonAuthRepository ───

type nonAuthRepo struct {
	db     PgExecQuerier
	domain repository.NonAuthDomain
}

func (r *nonAuthRepo) Domain() repository.NonAuthDomain { return r.domain }

func (r *nonAuthRepo) Upsert(ctx context.Context, appID, userID string, data []byte) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO user_non_auth_data (app_id, domain, user_id, data, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (app_id, domain, user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		appID, string(r.domain), userID, data)
	return mapErr("upsert "+string(r.domain), err)
}

func (r *nonAuthRepo) Get(ctx context.Context, appID, userID string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `
SELECT data FROM user_non_auth_data WHERE app_id = $1 AND domain = $2 AND user_id = $3`,
		appID, string(r.domain), userID).Scan(&data)
	if err != nil {
		return nil, mapErr("get "+string(r.domain), err)
	}
	return data, nil
}

func (r *nonAuthRepo) DeleteForUser(ctx context.Context, appID, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
DELETE FROM user_non_auth_data WHERE app_id = $1 AND domain = $2 AND user_id = $3`,
		appID, string(r.domain), userID)
	if err != nil {
		return false, mapErr("delete "+string(r.domain), err)
	}
	return tag.RowsAffected() > 0, nil
}

// ─── SessionRepository ───

type sessionRepo struct{ db PgExecQuerier }

func (r *sessionRepo) Create(ctx context.Context, s repository.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
INSERT INTO session_info (app_id, session_handle, tenant_id, user_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		s.AppID, s.Handle, s.TenantID, s.UserID, s.CreatedAt, s.ExpiresAt)
	err = mapErr("create session", err)
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("pg: session %s: %w", s.Handle, repository.ErrDuplicateID)
	}
	return err
}

func (r *sessionRepo) ListByUser(ctx context.Context, appID, userID string) ([]repository.Session, error) {
	rows, err := r.db.Query(ctx, `
SELECT session_handle, app_id, tenant_id, user_id, created_at, expires_at
FROM session_info WHERE app_id = $1 AND user_id = $2
ORDER BY session_handle`, appID, userID)
	if err != nil {
		return nil, mapErr("list sessions", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.Session, error) {
		var s repository.Session
		err := row.Scan(&s.Handle, &s.AppID, &s.TenantID, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
		return s, err
	})
	if err != nil {
		return nil, mapErr("list sessions", err)
	}
	return out, nil
}

func (r *sessionRepo) DeleteForUser(ctx context.Context, appID, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
DELETE FROM session_info WHERE app_id = $1 AND user_id = $2
RETURNING session_handle`, appID, userID)
	if err != nil {
		return nil, mapErr("delete sessions", err)
	}
	handles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapErr("delete sessions", err)
	}
	return handles, nil
}

// ─── BulkImportRepository ───

type bulkRepo struct{ db PgExecQuerier }

const bulkColumns = `id, app_id, COALESCE(primary_user_id, ''), raw_data, status, COALESCE(error_msg, ''), created_at, updated_at`

func scanEntry(row pgx.CollectableRow) (repository.BulkImportEntry, error) {
	var e repository.BulkImportEntry
	err := row.Scan(&e.ID, &e.AppID, &e.PrimaryUserID, &e.RawData, &e.Status, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *bulkRepo) Add(ctx context.Context, appID string, entries []repository.BulkImportEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	data := make([]string, len(entries))
	seen := make(map[string]struct{}, len(entries))
	var dups []string
	for i, e := range entries {
		ids[i] = e.ID
		data[i] = string(e.RawData)
		if _, ok := seen[e.ID]; ok {
			dups = append(dups, e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	rows, err := r.db.Query(ctx, `SELECT id FROM bulk_import_users WHERE app_id = $1 AND id = ANY($2)`, appID, ids)
	if err != nil {
		return mapErr("check bulk import ids", err)
	}
	stored, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return mapErr("check bulk import ids", err)
	}
	if dups = append(dups, stored...); len(dups) > 0 {
		return fmt.Errorf("pg: add bulk import users: %w", &repository.DuplicateIDsError{IDs: dups})
	}

	// clock_timestamp() + ordinalidad da un created_at estable dentro del lote.
	_, err = r.db.Exec(ctx, `
INSERT INTO bulk_import_users (id, app_id, raw_data, status, created_at, updated_at)
SELECT x.id, $1, x.data::jsonb, 'NEW', clock_timestamp() + (x.n * INTERVAL '1 microsecond'), NOW()
FROM unnest($2::text[], $3::text[]) WITH ORDINALITY AS x(id, data, n)`, appID, ids, data)
	err = mapErr("add bulk import users", err)
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("pg: add bulk import users: %w", repository.ErrDuplicateID)
	}
	return err
}

func (r *bulkRepo) List(ctx context.Context, appID string, f repository.ListBulkImportFilter) ([]repository.BulkImportEntry, error) {
	args := []any{appID}
	q := `SELECT ` + bulkColumns + ` FROM bulk_import_users WHERE app_id = $1`
	if f.Status != nil {
		args = append(args, string(*f.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.AfterCreatedAt != nil {
		args = append(args, *f.AfterCreatedAt, f.AfterID)
		q += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", len(args)-1, len(args))
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list bulk import users", err)
	}
	out, err := pgx.CollectRows(rows, scanEntry)
	return out, mapErr("list bulk import users", err)
}

func (r *bulkRepo) ClaimNew(ctx context.Context, appID string, limit int) ([]repository.BulkImportEntry, error) {
	rows, err := r.db.Query(ctx, `
UPDATE bulk_import_users SET status = 'PROCESSING', updated_at = NOW()
WHERE app_id = $1 AND id IN (
    SELECT id FROM bulk_import_users
    WHERE app_id = $1 AND status = 'NEW'
    ORDER BY created_at, id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING `+bulkColumns, appID, limit)
	if err != nil {
		return nil, mapErr("claim bulk import users", err)
	}
	out, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, mapErr("claim bulk import users", err)
	}
	sortEntries(out)
	return out, nil
}

func (r *bulkRepo) ListProcessing(ctx context.Context, appID string, limit int) ([]repository.BulkImportEntry, error) {
	status := repository.BulkImportProcessing
	return r.List(ctx, appID, repository.ListBulkImportFilter{Status: &status, Limit: limit})
}

func (r *bulkRepo) SetPrimaryUserID(ctx context.Context, appID, id, primaryUserID string) error {
	tag, err := r.db.Exec(ctx, `
UPDATE bulk_import_users SET primary_user_id = $3, updated_at = NOW()
WHERE app_id = $1 AND id = $2`, appID, id, primaryUserID)
	if err != nil {
		return mapErr("set primary user id", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *bulkRepo) SetStatus(ctx context.Context, appID, id string, status repository.BulkImportStatus, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
UPDATE bulk_import_users SET status = $3, error_msg = $4, updated_at = NOW()
WHERE app_id = $1 AND id = $2`, appID, id, string(status), nullIfEmpty(errMsg))
	if err != nil {
		return mapErr("set bulk import status", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *bulkRepo) Delete(ctx context.Context, appID string, ids []string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
DELETE FROM bulk_import_users WHERE app_id = $1 AND id = ANY($2)
RETURNING id`, appID, ids)
	if err != nil {
		return nil, mapErr("delete bulk import users", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return deleted, mapErr("delete bulk import users", err)
}

func (r *bulkRepo) Count(ctx context.Context, appID string, status *repository.BulkImportStatus) (int64, error) {
	var n int64
	var err error
	if status == nil {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_import_users WHERE app_id = $1`, appID).Scan(&n)
	} else {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_import_users WHERE app_id = $1 AND status = $2`,
			appID, string(*status)).Scan(&n)
	}
	return n, mapErr("count bulk import users", err)
}

func sortEntries(es []repository.BulkImportEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].ID < es[j].ID
		}
		return es[i].CreatedAt.Before(es[j].CreatedAt)
	})
}
