package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

type linkingRepo struct{ tx *memTx }

func (r *linkingRepo) group(a *appState, groupID string) *repository.User {
	u := &repository.User{ID: groupID}
	for _, row := range a.users {
		if row.groupID != groupID {
			continue
		}
		u.LoginMethods = append(u.LoginMethods, row.lm.Clone())
		if row.linked {
			u.IsPrimaryUser = true
		}
	}
	if len(u.LoginMethods) == 0 {
		return nil
	}
	u.Normalize()
	return u
}

func (r *linkingRepo) GetUserByID(ctx context.Context, appID, userID string) (*repository.User, error) {
	a := r.tx.app(appID)
	row, ok := a.users[userID]
	if !ok {
		// primary borrado cuyo id sigue keyeando al grupo
		if g := r.group(a, userID); g != nil {
			return g, nil
		}
		return nil, repository.ErrNotFound
	}
	return r.group(a, row.groupID), nil
}

func (r *linkingRepo) ListUsersByAccountInfo(ctx context.Context, appID string, tenantIDs []string, q repository.AccountInfoQuery) ([]repository.User, error) {
	if q.Empty() {
		return nil, nil
	}
	a := r.tx.app(appID)
	set := repository.QuerySet(q)

	groupIDs := make(map[string]struct{})
	for _, row := range a.users {
		for _, info := range row.lm.AccountInfos() {
			if _, ok := set[info]; ok {
				groupIDs[row.groupID] = struct{}{}
				break
			}
		}
	}

	ids := make([]string, 0, len(groupIDs))
	for id := range groupIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []repository.User
	for _, id := range ids {
		g := r.group(a, id)
		if g == nil || !touchesAny(g, tenantIDs) {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func touchesAny(g *repository.User, tenantIDs []string) bool {
	if len(tenantIDs) == 0 {
		return true
	}
	for _, t := range tenantIDs {
		if g.HasTenant(t) {
			return true
		}
	}
	return false
}

func (r *linkingRepo) DoesUserIDExist(ctx context.Context, appID, userID string) (bool, error) {
	_, ok := r.tx.app(appID).users[userID]
	return ok, nil
}

func (r *linkingRepo) CreateRecipeUser(ctx context.Context, appID string, in repository.CreateRecipeUserInput) error {
	if err := r.tx.check("CreateRecipeUser"); err != nil {
		return err
	}
	lm := in.LoginMethod.Clone()
	if lm.RecipeUserID == "" || !lm.RecipeID.Valid() {
		return fmt.Errorf("memory: create recipe user: %w", repository.ErrInvalidInput)
	}

	a := r.tx.app(appID)
	if _, ok := a.users[lm.RecipeUserID]; ok {
		return fmt.Errorf("memory: create recipe user %s: %w", lm.RecipeUserID, repository.ErrDuplicateID)
	}
	if len(lm.WebauthnCredentialIDs) > 0 {
		creds := make(map[string]struct{}, len(lm.WebauthnCredentialIDs))
		for _, c := range lm.WebauthnCredentialIDs {
			creds[c] = struct{}{}
		}
		for _, row := range a.users {
			for _, c := range row.lm.WebauthnCredentialIDs {
				if _, ok := creds[c]; ok {
					return fmt.Errorf("memory: webauthn credential %s: %w", c, repository.ErrConflict)
				}
			}
		}
	}

	a.users[lm.RecipeUserID] = userRow{lm: lm, groupID: lm.RecipeUserID}
	return nil
}

func (r *linkingRepo) MakePrimary(ctx context.Context, appID, recipeUserID string) error {
	if err := r.tx.check("MakePrimary"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	row, ok := a.users[recipeUserID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.groupID != recipeUserID {
		return fmt.Errorf("memory: %s is linked to %s: %w", recipeUserID, row.groupID, repository.ErrInvalidInput)
	}
	row.linked = true
	a.users[recipeUserID] = row
	return r.refresh(a, recipeUserID)
}

func (r *linkingRepo) LinkAccounts(ctx context.Context, appID, recipeUserID, primaryUserID string) error {
	if err := r.tx.check("LinkAccounts"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	p := r.group(a, primaryUserID)
	if p == nil {
		if _, ok := a.users[primaryUserID]; !ok {
			return repository.ErrNotFound
		}
	}
	if p == nil || !p.IsPrimaryUser {
		return fmt.Errorf("memory: %s is not a primary user: %w", primaryUserID, repository.ErrInvalidInput)
	}
	row, ok := a.users[recipeUserID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.linked && row.groupID != primaryUserID {
		return fmt.Errorf("memory: %s already linked to %s: %w", recipeUserID, row.groupID, repository.ErrInvalidInput)
	}
	row.groupID = primaryUserID
	row.linked = true
	a.users[recipeUserID] = row
	return r.refresh(a, primaryUserID)
}

func (r *linkingRepo) UnlinkAccounts(ctx context.Context, appID, primaryUserID, recipeUserID string) error {
	if err := r.tx.check("UnlinkAccounts"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	row, ok := a.users[recipeUserID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.groupID != primaryUserID {
		return fmt.Errorf("memory: %s not in group %s: %w", recipeUserID, primaryUserID, repository.ErrInvalidInput)
	}

	if recipeUserID == primaryUserID {
		for id, other := range a.users {
			if id != recipeUserID && other.groupID == primaryUserID {
				return fmt.Errorf("memory: group %s still has members: %w", primaryUserID, repository.ErrInvalidInput)
			}
		}
		row.linked = false
		a.users[recipeUserID] = row
		r.dropReservations(a, primaryUserID)
		return nil
	}

	row.groupID = recipeUserID
	row.linked = false
	a.users[recipeUserID] = row
	return r.refresh(a, primaryUserID)
}

func (r *linkingRepo) ReassignPrimary(ctx context.Context, appID, oldPrimaryID, newPrimaryID string) error {
	if err := r.tx.check("ReassignPrimary"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	row, ok := a.users[newPrimaryID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.groupID != oldPrimaryID {
		return fmt.Errorf("memory: %s not in group %s: %w", newPrimaryID, oldPrimaryID, repository.ErrInvalidInput)
	}
	for id, member := range a.users {
		if member.groupID == oldPrimaryID {
			member.groupID = newPrimaryID
			member.linked = true
			a.users[id] = member
		}
	}
	r.dropReservations(a, oldPrimaryID)
	return r.refresh(a, newPrimaryID)
}

func (r *linkingRepo) DeleteAuthRecipeUser(ctx context.Context, appID, recipeUserID string) error {
	if err := r.tx.check("DeleteAuthRecipeUser"); err != nil {
		return err
	}
	a := r.tx.app(appID)
	row, ok := a.users[recipeUserID]
	if !ok {
		return repository.ErrNotFound
	}
	delete(a.users, recipeUserID)

	if row.groupID == recipeUserID {
		// con miembros el id sigue keyeando al grupo y conserva su mapping
		if r.group(a, recipeUserID) != nil {
			return r.refresh(a, recipeUserID)
		}
		delete(a.mappings, recipeUserID)
		r.dropReservations(a, recipeUserID)
		return nil
	}
	delete(a.mappings, recipeUserID)
	return r.refresh(a, row.groupID)
}

func (r *linkingRepo) DeleteAccountInfoReservations(ctx context.Context, appID, primaryUserID string) error {
	r.dropReservations(r.tx.app(appID), primaryUserID)
	return nil
}

func (r *linkingRepo) dropReservations(a *appState, primaryUserID string) {
	for k, owner := range a.reservations {
		if owner == primaryUserID {
			delete(a.reservations, k)
		}
	}
}

// refresh recalcula las reservas del grupo: tenants del grupo × account infos del grupo.
func (r *linkingRepo) refresh(a *appState, groupID string) error {
	r.dropReservations(a, groupID)
	g := r.group(a, groupID)
	if g == nil || !g.IsPrimaryUser {
		return nil
	}

	var infos []repository.AccountInfo
	for _, lm := range g.LoginMethods {
		infos = append(infos, lm.AccountInfos()...)
	}
	for _, t := range g.TenantIDs {
		for _, info := range infos {
			k := resKey{tenant: t, kind: info.Kind, value: info.Value}
			if owner, ok := a.reservations[k]; ok && owner != groupID {
				return fmt.Errorf("memory: %s %q on tenant %s reserved by %s: %w", info.Kind, info.Value, t, owner, repository.ErrConflict)
			}
			a.reservations[k] = groupID
		}
	}
	return nil
}
