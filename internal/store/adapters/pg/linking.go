package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// ─── LinkingRepository ───

type linkingRepo struct{ db PgExecQuerier }

const selectMembers = `
SELECT r.user_id, r.recipe_id, r.primary_or_recipe_user_id, r.is_linked_or_primary,
       COALESCE(r.email, ''), COALESCE(r.phone_number, ''),
       COALESCE(r.third_party_id, ''), COALESCE(r.third_party_user_id, ''),
       r.verified, r.time_joined
FROM recipe_users r
WHERE r.app_id = $1 AND r.primary_or_recipe_user_id = ANY($2)
`

// loadGroups arma los grupos pedidos con tres queries (miembros, tenants, webauthn).
// El resultado respeta el orden de groupIDs y omite los que no existen.
func (r *linkingRepo) loadGroups(ctx context.Context, appID string, groupIDs []string) ([]repository.User, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, selectMembers, appID, groupIDs)
	if err != nil {
		return nil, mapErr("load groups", err)
	}
	groups := make(map[string]*repository.User, len(groupIDs))
	owner := make(map[string]string) // recipe user id → group id
	for rows.Next() {
		var (
			lm             repository.LoginMethod
			groupID        string
			linked         bool
			tpID, tpUserID string
		)
		if err := rows.Scan(&lm.RecipeUserID, &lm.RecipeID, &groupID, &linked,
			&lm.Email, &lm.PhoneNumber, &tpID, &tpUserID, &lm.Verified, &lm.TimeJoined); err != nil {
			rows.Close()
			return nil, mapErr("scan member", err)
		}
		if tpID != "" {
			lm.ThirdParty = &repository.ThirdParty{ID: tpID, UserID: tpUserID}
		}
		g, ok := groups[groupID]
		if !ok {
			g = &repository.User{ID: groupID}
			groups[groupID] = g
		}
		if linked {
			g.IsPrimaryUser = true
		}
		g.LoginMethods = append(g.LoginMethods, lm)
		owner[lm.RecipeUserID] = groupID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr("load groups", err)
	}
	if len(owner) == 0 {
		return nil, nil
	}

	memberIDs := make([]string, 0, len(owner))
	for id := range owner {
		memberIDs = append(memberIDs, id)
	}

	tenants, err := r.collect(ctx, `
SELECT user_id, tenant_id FROM recipe_user_tenants
WHERE app_id = $1 AND user_id = ANY($2)
ORDER BY tenant_id`, appID, memberIDs)
	if err != nil {
		return nil, err
	}
	creds, err := r.collect(ctx, `
SELECT user_id, credential_id FROM webauthn_credentials
WHERE app_id = $1 AND user_id = ANY($2)
ORDER BY credential_id`, appID, memberIDs)
	if err != nil {
		return nil, err
	}

	out := make([]repository.User, 0, len(groups))
	for _, id := range groupIDs {
		g, ok := groups[id]
		if !ok {
			continue
		}
		for i := range g.LoginMethods {
			lm := &g.LoginMethods[i]
			lm.TenantIDs = tenants[lm.RecipeUserID]
			lm.WebauthnCredentialIDs = creds[lm.RecipeUserID]
		}
		g.Normalize()
		out = append(out, *g)
		delete(groups, id)
	}
	return out, nil
}

// collect ejecuta una query (user_id, value) y agrupa los valores por user.
func (r *linkingRepo) collect(ctx context.Context, sql, appID string, userIDs []string) (map[string][]string, error) {
	rows, err := r.db.Query(ctx, sql, appID, userIDs)
	if err != nil {
		return nil, mapErr("collect", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var userID, v string
		if err := rows.Scan(&userID, &v); err != nil {
			return nil, mapErr("collect scan", err)
		}
		out[userID] = append(out[userID], v)
	}
	return out, mapErr("collect", rows.Err())
}

func (r *linkingRepo) groupIDOf(ctx context.Context, appID, userID string) (string, bool, error) {
	var groupID string
	var linked bool
	err := r.db.QueryRow(ctx, `
SELECT primary_or_recipe_user_id, is_linked_or_primary FROM recipe_users
WHERE app_id = $1 AND user_id = $2`, appID, userID).Scan(&groupID, &linked)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, repository.ErrNotFound
	}
	if err != nil {
		return "", false, mapErr("get group id", err)
	}
	return groupID, linked, nil
}

// resolveGroup es groupIDOf pero también acepta el id de un primary borrado
// que sigue keyeando a su grupo.
func (r *linkingRepo) resolveGroup(ctx context.Context, appID, userID string) (string, bool, error) {
	groupID, linked, err := r.groupIDOf(ctx, appID, userID)
	if !errors.Is(err, repository.ErrNotFound) {
		return groupID, linked, err
	}
	keyed, err := r.keysGroup(ctx, appID, userID)
	if err != nil {
		return "", false, err
	}
	if !keyed {
		return "", false, repository.ErrNotFound
	}
	return userID, true, nil
}

// keysGroup indica si algún otro recipe user tiene a groupID como grupo.
func (r *linkingRepo) keysGroup(ctx context.Context, appID, groupID string) (bool, error) {
	var keyed bool
	err := r.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM recipe_users
               WHERE app_id = $1 AND primary_or_recipe_user_id = $2 AND user_id <> $2)`,
		appID, groupID).Scan(&keyed)
	if err != nil {
		return false, mapErr("group members", err)
	}
	return keyed, nil
}

func (r *linkingRepo) GetUserByID(ctx context.Context, appID, userID string) (*repository.User, error) {
	groupID, _, err := r.resolveGroup(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	groups, err := r.loadGroups(ctx, appID, []string{groupID})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, repository.ErrNotFound
	}
	return &groups[0], nil
}

func (r *linkingRepo) ListUsersByAccountInfo(ctx context.Context, appID string, tenantIDs []string, q repository.AccountInfoQuery) ([]repository.User, error) {
	if q.Empty() {
		return nil, nil
	}

	emails := make([]string, 0, len(q.Emails))
	for _, e := range q.Emails {
		emails = append(emails, repository.NormaliseEmail(e))
	}
	tps := make([]string, 0, len(q.ThirdParties))
	for _, tp := range q.ThirdParties {
		tps = append(tps, repository.ThirdPartyKey(tp.ID, tp.UserID))
	}
	phones := append([]string{}, q.PhoneNumbers...)
	creds := append([]string{}, q.WebauthnIDs...)

	const query = `
SELECT DISTINCT r.primary_or_recipe_user_id
FROM recipe_users r
WHERE r.app_id = $1 AND (
       lower(btrim(r.email)) = ANY($2)
    OR r.phone_number = ANY($3)
    OR (r.third_party_id || '::' || r.third_party_user_id) = ANY($4)
    OR EXISTS (
        SELECT 1 FROM webauthn_credentials w
        WHERE w.app_id = r.app_id AND w.user_id = r.user_id AND w.credential_id = ANY($5)
    )
)
ORDER BY 1`
	rows, err := r.db.Query(ctx, query, appID, emails, phones, tps, creds)
	if err != nil {
		return nil, mapErr("list users by account info", err)
	}
	groupIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapErr("list users by account info", err)
	}

	groups, err := r.loadGroups(ctx, appID, groupIDs)
	if err != nil {
		return nil, err
	}
	if len(tenantIDs) == 0 {
		return groups, nil
	}

	out := groups[:0]
	for _, g := range groups {
		for _, t := range tenantIDs {
			if g.HasTenant(t) {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

func (r *linkingRepo) DoesUserIDExist(ctx context.Context, appID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM recipe_users WHERE app_id = $1 AND user_id = $2)`,
		appID, userID).Scan(&exists)
	if err != nil {
		return false, mapErr("user exists", err)
	}
	return exists, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *linkingRepo) CreateRecipeUser(ctx context.Context, appID string, in repository.CreateRecipeUserInput) error {
	lm := in.LoginMethod
	if lm.RecipeUserID == "" || !lm.RecipeID.Valid() {
		return fmt.Errorf("pg: create recipe user: %w", repository.ErrInvalidInput)
	}

	var tpID, tpUserID *string
	if lm.ThirdParty != nil {
		tpID, tpUserID = nullIfEmpty(lm.ThirdParty.ID), nullIfEmpty(lm.ThirdParty.UserID)
	}

	_, err := r.db.Exec(ctx, `
INSERT INTO recipe_users (app_id, user_id, recipe_id, primary_or_recipe_user_id, is_linked_or_primary,
                          email, phone_number, third_party_id, third_party_user_id, verified, time_joined)
VALUES ($1, $2, $3, $2, FALSE, $4, $5, $6, $7, $8, $9)`,
		appID, lm.RecipeUserID, string(lm.RecipeID), nullIfEmpty(lm.Email), nullIfEmpty(lm.PhoneNumber),
		tpID, tpUserID, lm.Verified, lm.TimeJoined)
	if err != nil {
		err = mapErr("insert recipe user", err)
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("pg: recipe user %s: %w", lm.RecipeUserID, repository.ErrDuplicateID)
		}
		return err
	}

	if len(lm.TenantIDs) > 0 {
		if _, err := r.db.Exec(ctx, `
INSERT INTO recipe_user_tenants (app_id, tenant_id, user_id)
SELECT $1, t, $2 FROM unnest($3::text[]) AS t
ON CONFLICT DO NOTHING`, appID, lm.RecipeUserID, lm.TenantIDs); err != nil {
			return mapErr("insert tenants", err)
		}
	}
	if len(lm.WebauthnCredentialIDs) > 0 {
		if _, err := r.db.Exec(ctx, `
INSERT INTO webauthn_credentials (app_id, credential_id, user_id)
SELECT $1, c, $2 FROM unnest($3::text[]) AS c`, appID, lm.RecipeUserID, lm.WebauthnCredentialIDs); err != nil {
			return mapErr("insert webauthn credentials", err)
		}
	}
	return nil
}

func (r *linkingRepo) MakePrimary(ctx context.Context, appID, recipeUserID string) error {
	groupID, _, err := r.groupIDOf(ctx, appID, recipeUserID)
	if err != nil {
		return err
	}
	if groupID != recipeUserID {
		return fmt.Errorf("pg: %s is linked to %s: %w", recipeUserID, groupID, repository.ErrInvalidInput)
	}
	if _, err := r.db.Exec(ctx, `
UPDATE recipe_users SET is_linked_or_primary = TRUE
WHERE app_id = $1 AND user_id = $2`, appID, recipeUserID); err != nil {
		return mapErr("make primary", err)
	}
	return r.refresh(ctx, appID, recipeUserID)
}

func (r *linkingRepo) LinkAccounts(ctx context.Context, appID, recipeUserID, primaryUserID string) error {
	groupID, linked, err := r.resolveGroup(ctx, appID, primaryUserID)
	if err != nil {
		return err
	}
	if groupID != primaryUserID || !linked {
		return fmt.Errorf("pg: %s is not a primary user: %w", primaryUserID, repository.ErrInvalidInput)
	}

	tag, err := r.db.Exec(ctx, `
UPDATE recipe_users SET primary_or_recipe_user_id = $3, is_linked_or_primary = TRUE
WHERE app_id = $1 AND user_id = $2
  AND (primary_or_recipe_user_id = $3 OR NOT is_linked_or_primary)`, appID, recipeUserID, primaryUserID)
	if err != nil {
		return mapErr("link accounts", err)
	}
	if tag.RowsAffected() == 0 {
		if _, _, err := r.groupIDOf(ctx, appID, recipeUserID); err != nil {
			return err
		}
		return fmt.Errorf("pg: %s already linked: %w", recipeUserID, repository.ErrInvalidInput)
	}
	return r.refresh(ctx, appID, primaryUserID)
}

func (r *linkingRepo) UnlinkAccounts(ctx context.Context, appID, primaryUserID, recipeUserID string) error {
	groupID, _, err := r.groupIDOf(ctx, appID, recipeUserID)
	if err != nil {
		return err
	}
	if groupID != primaryUserID {
		return fmt.Errorf("pg: %s not in group %s: %w", recipeUserID, primaryUserID, repository.ErrInvalidInput)
	}

	if recipeUserID == primaryUserID {
		var others int
		if err := r.db.QueryRow(ctx, `
SELECT COUNT(*) FROM recipe_users
WHERE app_id = $1 AND primary_or_recipe_user_id = $2 AND user_id <> $2`, appID, primaryUserID).Scan(&others); err != nil {
			return mapErr("count members", err)
		}
		if others > 0 {
			return fmt.Errorf("pg: group %s still has members: %w", primaryUserID, repository.ErrInvalidInput)
		}
		if _, err := r.db.Exec(ctx, `
UPDATE recipe_users SET is_linked_or_primary = FALSE
WHERE app_id = $1 AND user_id = $2`, appID, recipeUserID); err != nil {
			return mapErr("demote primary", err)
		}
		return r.DeleteAccountInfoReservations(ctx, appID, primaryUserID)
	}

	if _, err := r.db.Exec(ctx, `
UPDATE recipe_users SET primary_or_recipe_user_id = user_id, is_linked_or_primary = FALSE
WHERE app_id = $1 AND user_id = $2`, appID, recipeUserID); err != nil {
		return mapErr("unlink accounts", err)
	}
	return r.refresh(ctx, appID, primaryUserID)
}

func (r *linkingRepo) ReassignPrimary(ctx context.Context, appID, oldPrimaryID, newPrimaryID string) error {
	groupID, _, err := r.groupIDOf(ctx, appID, newPrimaryID)
	if err != nil {
		return err
	}
	if groupID != oldPrimaryID {
		return fmt.Errorf("pg: %s not in group %s: %w", newPrimaryID, oldPrimaryID, repository.ErrInvalidInput)
	}
	if _, err := r.db.Exec(ctx, `
UPDATE recipe_users SET primary_or_recipe_user_id = $3, is_linked_or_primary = TRUE
WHERE app_id = $1 AND primary_or_recipe_user_id = $2`, appID, oldPrimaryID, newPrimaryID); err != nil {
		return mapErr("reassign primary", err)
	}
	if err := r.DeleteAccountInfoReservations(ctx, appID, oldPrimaryID); err != nil {
		return err
	}
	return r.refresh(ctx, appID, newPrimaryID)
}

func (r *linkingRepo) DeleteAuthRecipeUser(ctx context.Context, appID, recipeUserID string) error {
	groupID, _, err := r.groupIDOf(ctx, appID, recipeUserID)
	if err != nil {
		return err
	}
	// con miembros el id sigue keyeando al grupo y conserva su mapping
	keyed := false
	if groupID == recipeUserID {
		if keyed, err = r.keysGroup(ctx, appID, recipeUserID); err != nil {
			return err
		}
	}
	if !keyed {
		if _, err := r.db.Exec(ctx, `DELETE FROM userid_mapping WHERE app_id = $1 AND supertokens_user_id = $2`,
			appID, recipeUserID); err != nil {
			return mapErr("delete user id mapping", err)
		}
	}
	// tenants y credenciales caen por ON DELETE CASCADE
	if _, err := r.db.Exec(ctx, `DELETE FROM recipe_users WHERE app_id = $1 AND user_id = $2`,
		appID, recipeUserID); err != nil {
		return mapErr("delete recipe user", err)
	}

	if groupID == recipeUserID && !keyed {
		return r.DeleteAccountInfoReservations(ctx, appID, recipeUserID)
	}
	return r.refresh(ctx, appID, groupID)
}

func (r *linkingRepo) DeleteAccountInfoReservations(ctx context.Context, appID, primaryUserID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM primary_user_tenants WHERE app_id = $1 AND primary_user_id = $2`,
		appID, primaryUserID); err != nil {
		return mapErr("delete reservations", err)
	}
	return nil
}

// refresh recalcula las reservas del grupo: tenants del grupo × account infos del grupo.
// Una reserva ya tomada por otro primary user viola la PK y retorna ErrConflict.
func (r *linkingRepo) refresh(ctx context.Context, appID, groupID string) error {
	if err := r.DeleteAccountInfoReservations(ctx, appID, groupID); err != nil {
		return err
	}
	groups, err := r.loadGroups(ctx, appID, []string{groupID})
	if err != nil {
		return err
	}
	if len(groups) == 0 || !groups[0].IsPrimaryUser {
		return nil
	}
	g := groups[0]

	seen := make(map[repository.AccountInfo]struct{})
	var infos []repository.AccountInfo
	for _, lm := range g.LoginMethods {
		for _, info := range lm.AccountInfos() {
			if _, ok := seen[info]; !ok {
				seen[info] = struct{}{}
				infos = append(infos, info)
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Kind == infos[j].Kind {
			return infos[i].Value < infos[j].Value
		}
		return infos[i].Kind < infos[j].Kind
	})

	var tenants, kinds, values []string
	for _, t := range g.TenantIDs {
		for _, info := range infos {
			tenants = append(tenants, t)
			kinds = append(kinds, string(info.Kind))
			values = append(values, info.Value)
		}
	}
	if len(tenants) == 0 {
		return nil
	}

	if _, err := r.db.Exec(ctx, `
INSERT INTO primary_user_tenants (app_id, tenant_id, kind, value, primary_user_id)
SELECT $1, x.t, x.k, x.v, $2 FROM unnest($3::text[], $4::text[], $5::text[]) AS x(t, k, v)`,
		appID, groupID, tenants, kinds, values); err != nil {
		return mapErr("reserve account info", err)
	}
	return nil
}
