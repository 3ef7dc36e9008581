package accountlinking

import (
	"context"
	"sort"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// Checker detecta si un conjunto de account infos puede pertenecer a un
// primary user sobre una unión de tenants.
type Checker struct{}

// CheckMergeable retorna un *Error KindAccountInfoConflict si algún primary
// user distinto de excludedPrimaryID, visible en alguno de los tenants, ya
// tiene alguno de los valores. Hace una sola consulta multi-valor y corre
// dentro de la transacción del caller.
//
// tenants debe ser la unión de los tenants de todos los grupos involucrados:
// dos grupos que no comparten tenants pueden igual chocar en un tercero.
func (Checker) CheckMergeable(ctx context.Context, tx repository.Tx, appID string, tenants []string, infos []repository.AccountInfo, excludedPrimaryID string) error {
	if len(tenants) == 0 || len(infos) == 0 {
		return nil
	}
	groups, err := tx.Linking().ListUsersByAccountInfo(ctx, appID, tenants, queryFor(infos))
	if err != nil {
		return storageErr(err)
	}
	return newOwnerIndex(groups).conflict(tenants, infos, excludedPrimaryID)
}

// attributeName es el texto del atributo en los mensajes de conflicto.
func attributeName(k repository.AccountInfoKind) string {
	switch k {
	case repository.AccountInfoEmail:
		return "email"
	case repository.AccountInfoPhone:
		return "phone number"
	case repository.AccountInfoThirdParty:
		return "third-party login"
	case repository.AccountInfoWebauthn:
		return "webauthn credential"
	}
	return string(k)
}

type ownerKey struct {
	tenant string
	info   repository.AccountInfo
}

// ownerIndex mapea (tenant, account info) a los primary users que lo tienen.
// Lo usa el Checker sobre el resultado de storage y el coordinador bulk sobre
// storage + candidatos ya aceptados del lote.
type ownerIndex map[ownerKey][]string

func newOwnerIndex(groups []repository.User) ownerIndex {
	idx := make(ownerIndex)
	for i := range groups {
		g := &groups[i]
		if !g.IsPrimaryUser {
			continue
		}
		idx.claim(TenantUnion(g), AccountInfosOf(g), g.ID)
	}
	return idx
}

func (idx ownerIndex) claim(tenants []string, infos []repository.AccountInfo, owner string) {
	for _, t := range tenants {
		for _, info := range infos {
			k := ownerKey{tenant: t, info: info}
			owners := idx[k]
			pos := sort.SearchStrings(owners, owner)
			if pos < len(owners) && owners[pos] == owner {
				continue
			}
			owners = append(owners, "")
			copy(owners[pos+1:], owners[pos:])
			owners[pos] = owner
			idx[k] = owners
		}
	}
}

// conflict recorre tenants en orden y, por tenant, los kinds en el orden de
// repository.AccountInfoKinds. Retorna el primer dueño distinto de excluded.
func (idx ownerIndex) conflict(tenants []string, infos []repository.AccountInfo, excluded string) error {
	ts := append([]string(nil), tenants...)
	sort.Strings(ts)
	is := append([]repository.AccountInfo(nil), infos...)
	sortInfos(is)

	for _, t := range ts {
		for _, info := range is {
			for _, owner := range idx[ownerKey{tenant: t, info: info}] {
				if owner != excluded {
					return &Error{
						Kind:          KindAccountInfoConflict,
						PrimaryUserID: owner,
						Attribute:     attributeName(info.Kind),
					}
				}
			}
		}
	}
	return nil
}
