package repository

import (
	"sort"
	"strings"
)

// RecipeID identifica el tipo de credencial de un login method.
type RecipeID string

const (
	RecipeEmailPassword RecipeID = "emailpassword"
	RecipeThirdParty    RecipeID = "thirdparty"
	RecipePasswordless  RecipeID = "passwordless"
	RecipeWebauthn      RecipeID = "webauthn"
)

// Valid indica si el recipe es conocido.
func (r RecipeID) Valid() bool {
	switch r {
	case RecipeEmailPassword, RecipeThirdParty, RecipePasswordless, RecipeWebauthn:
		return true
	}
	return false
}

// ThirdParty identifica una cuenta en un provider externo.
type ThirdParty struct {
	ID     string // "google", "github", ...
	UserID string // ID del usuario en el provider
}

// LoginMethod es la credencial única de un recipe user.
type LoginMethod struct {
	RecipeUserID          string
	RecipeID              RecipeID
	TenantIDs             []string
	Email                 string
	PhoneNumber           string
	ThirdParty            *ThirdParty
	WebauthnCredentialIDs []string
	Verified              bool
	TimeJoined            int64 // ms desde epoch
}

// HasTenant indica si el login method está habilitado en el tenant.
func (lm LoginMethod) HasTenant(tenantID string) bool {
	for _, t := range lm.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

// AccountInfos retorna los valores identificatorios del login method.
func (lm LoginMethod) AccountInfos() []AccountInfo {
	var out []AccountInfo
	if lm.Email != "" {
		out = append(out, AccountInfo{Kind: AccountInfoEmail, Value: NormaliseEmail(lm.Email)})
	}
	if lm.PhoneNumber != "" {
		out = append(out, AccountInfo{Kind: AccountInfoPhone, Value: lm.PhoneNumber})
	}
	if lm.ThirdParty != nil && lm.ThirdParty.ID != "" && lm.ThirdParty.UserID != "" {
		out = append(out, AccountInfo{Kind: AccountInfoThirdParty, Value: ThirdPartyKey(lm.ThirdParty.ID, lm.ThirdParty.UserID)})
	}
	for _, c := range lm.WebauthnCredentialIDs {
		if c != "" {
			out = append(out, AccountInfo{Kind: AccountInfoWebauthn, Value: c})
		}
	}
	return out
}

// Clone retorna una copia sin slices compartidos.
func (lm LoginMethod) Clone() LoginMethod {
	out := lm
	out.TenantIDs = append([]string(nil), lm.TenantIDs...)
	out.WebauthnCredentialIDs = append([]string(nil), lm.WebauthnCredentialIDs...)
	if lm.ThirdParty != nil {
		tp := *lm.ThirdParty
		out.ThirdParty = &tp
	}
	return out
}

// User es un grupo de recipe users. Si IsPrimaryUser es false, el grupo tiene
// exactamente un login method y ID es el recipe user id.
type User struct {
	ID            string
	IsPrimaryUser bool
	TenantIDs     []string
	LoginMethods  []LoginMethod
	TimeJoined    int64
}

// LoginMethodFor retorna el login method del recipe user dado (nil si no es miembro).
func (u *User) LoginMethodFor(recipeUserID string) *LoginMethod {
	for i := range u.LoginMethods {
		if u.LoginMethods[i].RecipeUserID == recipeUserID {
			return &u.LoginMethods[i]
		}
	}
	return nil
}

// HasTenant indica si algún miembro del grupo está en el tenant.
func (u *User) HasTenant(tenantID string) bool {
	for _, lm := range u.LoginMethods {
		if lm.HasTenant(tenantID) {
			return true
		}
	}
	return false
}

// Normalize recalcula TenantIDs y TimeJoined a partir de los login methods
// y los ordena por TimeJoined. Los adapters lo llaman al armar el grupo.
func (u *User) Normalize() {
	sort.SliceStable(u.LoginMethods, func(i, j int) bool {
		if u.LoginMethods[i].TimeJoined == u.LoginMethods[j].TimeJoined {
			return u.LoginMethods[i].RecipeUserID < u.LoginMethods[j].RecipeUserID
		}
		return u.LoginMethods[i].TimeJoined < u.LoginMethods[j].TimeJoined
	})
	seen := make(map[string]struct{})
	u.TenantIDs = u.TenantIDs[:0]
	u.TimeJoined = 0
	for _, lm := range u.LoginMethods {
		for _, t := range lm.TenantIDs {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				u.TenantIDs = append(u.TenantIDs, t)
			}
		}
		if u.TimeJoined == 0 || lm.TimeJoined < u.TimeJoined {
			u.TimeJoined = lm.TimeJoined
		}
	}
	sort.Strings(u.TenantIDs)
}

// AccountInfoKind es el tipo de atributo identificatorio.
type AccountInfoKind string

const (
	AccountInfoEmail      AccountInfoKind = "email"
	AccountInfoPhone      AccountInfoKind = "phone"
	AccountInfoThirdParty AccountInfoKind = "thirdparty"
	AccountInfoWebauthn   AccountInfoKind = "webauthn"
)

// AccountInfoKinds en el orden en que se reportan conflictos.
var AccountInfoKinds = []AccountInfoKind{AccountInfoEmail, AccountInfoPhone, AccountInfoThirdParty, AccountInfoWebauthn}

// AccountInfo es un valor identificatorio normalizado.
type AccountInfo struct {
	Kind  AccountInfoKind
	Value string
}

// AccountInfoQuery agrupa valores para una búsqueda multi-valor.
type AccountInfoQuery struct {
	Emails       []string
	PhoneNumbers []string
	ThirdParties []ThirdParty
	WebauthnIDs  []string
}

// Empty indica si la query no tiene ningún valor.
func (q AccountInfoQuery) Empty() bool {
	return len(q.Emails) == 0 && len(q.PhoneNumbers) == 0 && len(q.ThirdParties) == 0 && len(q.WebauthnIDs) == 0
}

// Matches indica si el login method contiene alguno de los valores.
func (q AccountInfoQuery) Matches(lm LoginMethod) bool {
	set := QuerySet(q)
	for _, info := range lm.AccountInfos() {
		if _, ok := set[info]; ok {
			return true
		}
	}
	return false
}

// QuerySet convierte la query en un set de AccountInfo normalizados.
func QuerySet(q AccountInfoQuery) map[AccountInfo]struct{} {
	set := make(map[AccountInfo]struct{})
	for _, e := range q.Emails {
		set[AccountInfo{Kind: AccountInfoEmail, Value: NormaliseEmail(e)}] = struct{}{}
	}
	for _, p := range q.PhoneNumbers {
		set[AccountInfo{Kind: AccountInfoPhone, Value: p}] = struct{}{}
	}
	for _, tp := range q.ThirdParties {
		set[AccountInfo{Kind: AccountInfoThirdParty, Value: ThirdPartyKey(tp.ID, tp.UserID)}] = struct{}{}
	}
	for _, w := range q.WebauthnIDs {
		set[AccountInfo{Kind: AccountInfoWebauthn, Value: w}] = struct{}{}
	}
	return set
}

// NormaliseEmail aplica trim + lowercase.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ThirdPartyKey serializa (provider, providerUserID) como valor de reserva.
func ThirdPartyKey(id, userID string) string {
	return id + "::" + userID
}

// ParseThirdPartyKey es la inversa de ThirdPartyKey.
func ParseThirdPartyKey(key string) ThirdParty {
	id, userID, _ := strings.Cut(key, "::")
	return ThirdParty{ID: id, UserID: userID}
}

// CreateRecipeUserInput datos para insertar un recipe user (usado por bulk import y tests).
type CreateRecipeUserInput struct {
	LoginMethod LoginMethod
}
