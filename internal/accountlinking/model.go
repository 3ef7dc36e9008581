package accountlinking

import (
	"context"
	"sort"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// GetPrimaryGroupFor retorna el grupo completo del usuario (el primary y sus
// miembros, o el recipe user solo si no está linkeado).
func GetPrimaryGroupFor(ctx context.Context, tx repository.Tx, appID, userID string) (*repository.User, error) {
	u, err := tx.Linking().GetUserByID(ctx, appID, userID)
	if repository.IsNotFound(err) {
		return nil, unknownUser(userID)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return u, nil
}

// IsPrimary indica si el grupo es un primary user.
func IsPrimary(u *repository.User) bool {
	return u != nil && u.IsPrimaryUser
}

// LoginMethodsOf retorna los login methods del grupo, del más antiguo al más nuevo.
func LoginMethodsOf(u *repository.User) []repository.LoginMethod {
	if u == nil {
		return nil
	}
	return u.LoginMethods
}

// TenantUnion retorna la unión ordenada de tenants de los grupos.
func TenantUnion(groups ...*repository.User) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, lm := range g.LoginMethods {
			for _, t := range lm.TenantIDs {
				if _, ok := seen[t]; !ok {
					seen[t] = struct{}{}
					out = append(out, t)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// AccountInfosOf retorna la unión de account infos de los grupos.
func AccountInfosOf(groups ...*repository.User) []repository.AccountInfo {
	var lms []repository.LoginMethod
	for _, g := range groups {
		if g != nil {
			lms = append(lms, g.LoginMethods...)
		}
	}
	return accountInfosOfMethods(lms)
}

// accountInfosOfMethods deduplica y ordena por (kind, value) según AccountInfoKinds.
func accountInfosOfMethods(lms []repository.LoginMethod) []repository.AccountInfo {
	seen := make(map[repository.AccountInfo]struct{})
	var out []repository.AccountInfo
	for _, lm := range lms {
		for _, info := range lm.AccountInfos() {
			if _, ok := seen[info]; !ok {
				seen[info] = struct{}{}
				out = append(out, info)
			}
		}
	}
	sortInfos(out)
	return out
}

func tenantsOfMethods(lms []repository.LoginMethod) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, lm := range lms {
		for _, t := range lm.TenantIDs {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

func kindRank(k repository.AccountInfoKind) int {
	for i, kk := range repository.AccountInfoKinds {
		if kk == k {
			return i
		}
	}
	return len(repository.AccountInfoKinds)
}

func sortInfos(infos []repository.AccountInfo) {
	sort.Slice(infos, func(i, j int) bool {
		ri, rj := kindRank(infos[i].Kind), kindRank(infos[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return infos[i].Value < infos[j].Value
	})
}

// queryFor arma la query multi-valor para los account infos dados.
func queryFor(infos []repository.AccountInfo) repository.AccountInfoQuery {
	var q repository.AccountInfoQuery
	for _, info := range infos {
		switch info.Kind {
		case repository.AccountInfoEmail:
			q.Emails = append(q.Emails, info.Value)
		case repository.AccountInfoPhone:
			q.PhoneNumbers = append(q.PhoneNumbers, info.Value)
		case repository.AccountInfoThirdParty:
			q.ThirdParties = append(q.ThirdParties, repository.ParseThirdPartyKey(info.Value))
		case repository.AccountInfoWebauthn:
			q.WebauthnIDs = append(q.WebauthnIDs, info.Value)
		}
	}
	return q
}
