// Package accountlinking contiene los DTOs de las rutas /recipe/accountlinking y /user/remove.
package accountlinking

import (
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

const StatusOK = "OK"

type CreatePrimaryRequest struct {
	RecipeUserID string `json:"recipeUserId"`
}

type LinkRequest struct {
	RecipeUserID  string `json:"recipeUserId"`
	PrimaryUserID string `json:"primaryUserId"`
}

type UnlinkRequest struct {
	RecipeUserID string `json:"recipeUserId"`
}

type RemoveUserRequest struct {
	UserID string `json:"userId"`
	// nil => true
	RemoveAllLinkedAccounts *bool `json:"removeAllLinkedAccounts,omitempty"`
}

// StatusResponse es la respuesta de error de negocio (HTTP 200 con status != OK).
type StatusResponse struct {
	Status        string `json:"status"`
	PrimaryUserID string `json:"primaryUserId,omitempty"`
	Description   string `json:"description,omitempty"`
}

type CanCreatePrimaryResponse struct {
	Status                 string `json:"status"`
	WasAlreadyAPrimaryUser bool   `json:"wasAlreadyAPrimaryUser"`
}

type CreatePrimaryResponse struct {
	Status                 string `json:"status"`
	User                   *User  `json:"user"`
	WasAlreadyAPrimaryUser bool   `json:"wasAlreadyAPrimaryUser"`
}

type CanLinkResponse struct {
	Status                string `json:"status"`
	AccountsAlreadyLinked bool   `json:"accountsAlreadyLinked"`
}

type LinkResponse struct {
	Status                string `json:"status"`
	AccountsAlreadyLinked bool   `json:"accountsAlreadyLinked"`
	User                  *User  `json:"user"`
}

type UnlinkResponse struct {
	Status               string `json:"status"`
	WasRecipeUserDeleted bool   `json:"wasRecipeUserDeleted"`
	WasLinked            bool   `json:"wasLinked"`
}

type RemoveUserResponse struct {
	Status string `json:"status"`
}

// User es la vista JSON de un grupo.
type User struct {
	ID            string        `json:"id"`
	IsPrimaryUser bool          `json:"isPrimaryUser"`
	TenantIDs     []string      `json:"tenantIds"`
	Emails        []string      `json:"emails"`
	PhoneNumbers  []string      `json:"phoneNumbers"`
	ThirdParty    []ThirdParty  `json:"thirdParty"`
	LoginMethods  []LoginMethod `json:"loginMethods"`
	TimeJoined    int64         `json:"timeJoined"`
}

type ThirdParty struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

type LoginMethod struct {
	RecipeID     string      `json:"recipeId"`
	RecipeUserID string      `json:"recipeUserId"`
	TenantIDs    []string    `json:"tenantIds"`
	Email        string      `json:"email,omitempty"`
	PhoneNumber  string      `json:"phoneNumber,omitempty"`
	ThirdParty   *ThirdParty `json:"thirdParty,omitempty"`
	Verified     bool        `json:"verified"`
	TimeJoined   int64       `json:"timeJoined"`
}

// FromUser arma la vista JSON. Emails, teléfonos y third parties se listan
// sin duplicados en el orden de los login methods.
func FromUser(u *repository.User) *User {
	if u == nil {
		return nil
	}
	out := &User{
		ID:            u.ID,
		IsPrimaryUser: u.IsPrimaryUser,
		TenantIDs:     append([]string{}, u.TenantIDs...),
		Emails:        []string{},
		PhoneNumbers:  []string{},
		ThirdParty:    []ThirdParty{},
		TimeJoined:    u.TimeJoined,
	}
	seen := make(map[string]struct{})
	once := func(k string) bool {
		if _, ok := seen[k]; ok {
			return false
		}
		seen[k] = struct{}{}
		return true
	}
	for _, lm := range u.LoginMethods {
		m := LoginMethod{
			RecipeID:     string(lm.RecipeID),
			RecipeUserID: lm.RecipeUserID,
			TenantIDs:    append([]string{}, lm.TenantIDs...),
			Email:        lm.Email,
			PhoneNumber:  lm.PhoneNumber,
			Verified:     lm.Verified,
			TimeJoined:   lm.TimeJoined,
		}
		if lm.Email != "" && once("e:"+lm.Email) {
			out.Emails = append(out.Emails, lm.Email)
		}
		if lm.PhoneNumber != "" && once("p:"+lm.PhoneNumber) {
			out.PhoneNumbers = append(out.PhoneNumbers, lm.PhoneNumber)
		}
		if lm.ThirdParty != nil {
			tp := ThirdParty{ID: lm.ThirdParty.ID, UserID: lm.ThirdParty.UserID}
			m.ThirdParty = &tp
			if once("t:" + repository.ThirdPartyKey(tp.ID, tp.UserID)) {
				out.ThirdParty = append(out.ThirdParty, tp)
			}
		}
		out.LoginMethods = append(out.LoginMethods, m)
	}
	return out
}
