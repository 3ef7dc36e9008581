package bulkimport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

const (
	defaultTenant       = "public"
	maxExternalIDLength = 128
	maxRoleLength       = 255
	maxTOTPFieldLength  = 256
	maxEmailLength      = 255
)

// User es el payload de un usuario a importar. Se guarda tal cual (JSON) como
// raw data de la entrada.
type User struct {
	ExternalUserID string          `json:"externalUserId,omitempty"`
	UserMetadata   json.RawMessage `json:"userMetadata,omitempty"`
	UserRoles      []UserRole      `json:"userRoles,omitempty"`
	TOTPDevices    []TOTPDevice    `json:"totpDevices,omitempty"`
	LoginMethods   []LoginMethod   `json:"loginMethods"`
}

type UserRole struct {
	Role      string   `json:"role"`
	TenantIDs []string `json:"tenantIds"`
}

type TOTPDevice struct {
	SecretKey  string `json:"secretKey"`
	Period     int    `json:"period,omitempty"`
	Skew       *int   `json:"skew,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type LoginMethod struct {
	RecipeID          string   `json:"recipeId"`
	TenantIDs         []string `json:"tenantIds,omitempty"`
	IsVerified        bool     `json:"isVerified"`
	IsPrimary         bool     `json:"isPrimary"`
	TimeJoined        int64    `json:"timeJoinedInMSSinceEpoch,omitempty"`
	SuperTokensUserID string   `json:"superTokensUserId,omitempty"`

	Email             string `json:"email,omitempty"`
	PasswordHash      string `json:"passwordHash,omitempty"`
	HashingAlgorithm  string `json:"hashingAlgorithm,omitempty"`
	PlainTextPassword string `json:"plainTextPassword,omitempty"`

	ThirdPartyID     string `json:"thirdPartyId,omitempty"`
	ThirdPartyUserID string `json:"thirdPartyUserId,omitempty"`

	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// PrimaryLoginMethod retorna el login method marcado isPrimary o, si no hay,
// el más antiguo.
func (u *User) PrimaryLoginMethod() *LoginMethod {
	if len(u.LoginMethods) == 0 {
		return nil
	}
	oldest := &u.LoginMethods[0]
	for i := range u.LoginMethods {
		lm := &u.LoginMethods[i]
		if lm.IsPrimary {
			return lm
		}
		if lm.TimeJoined < oldest.TimeJoined {
			oldest = lm
		}
	}
	return oldest
}

// effectiveID es el id con el que se guardan los datos no-auth del usuario.
func (u *User) effectiveID() string {
	if u.ExternalUserID != "" {
		return u.ExternalUserID
	}
	return u.PrimaryLoginMethod().SuperTokensUserID
}

// toRepository convierte el login method al modelo de storage.
func (lm LoginMethod) toRepository() repository.LoginMethod {
	out := repository.LoginMethod{
		RecipeUserID: lm.SuperTokensUserID,
		RecipeID:     repository.RecipeID(lm.RecipeID),
		TenantIDs:    append([]string(nil), lm.TenantIDs...),
		Email:        lm.Email,
		PhoneNumber:  lm.PhoneNumber,
		Verified:     lm.IsVerified,
		TimeJoined:   lm.TimeJoined,
	}
	if lm.ThirdPartyID != "" {
		out.ThirdParty = &repository.ThirdParty{ID: lm.ThirdPartyID, UserID: lm.ThirdPartyUserID}
	}
	return out
}

// candidate arma el candidato del coordinador de linking.
func (u *User) candidate(entryID string) accountlinking.BulkCandidate {
	p := u.PrimaryLoginMethod()
	c := accountlinking.BulkCandidate{
		ID:                  entryID,
		PrimaryRecipeUserID: p.SuperTokensUserID,
		MakePrimary:         p.IsPrimary,
	}
	for _, lm := range u.LoginMethods {
		c.LoginMethods = append(c.LoginMethods, lm.toRepository())
	}
	return c
}

// validator normaliza y valida usuarios de un mismo request o lote.
type validator struct {
	accountLinking bool
	roles          map[string]struct{} // nil => cualquier rol
	now            time.Time
	externalIDs    map[string]struct{}
}

func newValidator(accountLinking bool, roles []string, now time.Time) *validator {
	v := &validator{accountLinking: accountLinking, now: now, externalIDs: make(map[string]struct{})}
	if len(roles) > 0 {
		v.roles = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			v.roles[r] = struct{}{}
		}
	}
	return v
}

// normalize valida u en el lugar y asigna ids faltantes. Retorna la lista de
// problemas encontrados (vacía si es válido).
func (v *validator) normalize(u *User) []string {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if u.ExternalUserID != "" {
		u.ExternalUserID = strings.TrimSpace(u.ExternalUserID)
		if len(u.ExternalUserID) > maxExternalIDLength {
			add("externalUserId %s is too long. Max length is %d.", u.ExternalUserID, maxExternalIDLength)
		}
		if _, dup := v.externalIDs[u.ExternalUserID]; dup {
			add("externalUserId %s is not unique. It is already used by another user.", u.ExternalUserID)
		}
		v.externalIDs[u.ExternalUserID] = struct{}{}
	}

	if len(u.UserMetadata) > 0 {
		trimmed := bytes.TrimSpace(u.UserMetadata)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			add("userMetadata must be a JSON object.")
		}
	}

	for i := range u.UserRoles {
		r := &u.UserRoles[i]
		r.Role = strings.TrimSpace(r.Role)
		switch {
		case r.Role == "":
			add("role is required for a user role.")
		case len(r.Role) > maxRoleLength:
			add("role %s is too long. Max length is %d.", r.Role, maxRoleLength)
		case v.roles != nil:
			if _, ok := v.roles[r.Role]; !ok {
				add("Role %s does not exist.", r.Role)
			}
		}
		if len(r.TenantIDs) == 0 {
			add("tenantIds is required for a user role.")
		}
		r.TenantIDs = normalizeTenants(r.TenantIDs)
	}

	for i := range u.TOTPDevices {
		d := &u.TOTPDevices[i]
		if d.SecretKey == "" {
			add("secretKey is required for a totp device.")
		} else if len(d.SecretKey) > maxTOTPFieldLength {
			add("TOTP secretKey is too long. Max length is %d.", maxTOTPFieldLength)
		}
		if d.Period == 0 {
			d.Period = 30
		} else if d.Period < 1 {
			add("period should be > 0 for a totp device.")
		}
		if d.Skew == nil {
			one := 1
			d.Skew = &one
		} else if *d.Skew < 0 {
			add("skew should be >= 0 for a totp device.")
		}
		d.DeviceName = strings.TrimSpace(d.DeviceName)
		if len(d.DeviceName) > maxTOTPFieldLength {
			add("TOTP deviceName %s is too long. Max length is %d.", d.DeviceName, maxTOTPFieldLength)
		}
	}

	errs = append(errs, v.normalizeLoginMethods(u)...)
	return errs
}

func (v *validator) normalizeLoginMethods(u *User) []string {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if len(u.LoginMethods) == 0 {
		return []string{"At least one loginMethod is required."}
	}
	if len(u.LoginMethods) > 1 && !v.accountLinking {
		add("Account linking must be enabled to import multiple loginMethods.")
	}

	primaries := 0
	for i := range u.LoginMethods {
		lm := &u.LoginMethods[i]
		if lm.IsPrimary {
			primaries++
		}
		if lm.SuperTokensUserID == "" {
			lm.SuperTokensUserID = uuid.NewString()
		}
		lm.TenantIDs = normalizeTenants(lm.TenantIDs)
		if len(lm.TenantIDs) == 0 {
			lm.TenantIDs = []string{defaultTenant}
		}

		nowMS := v.now.UnixMilli()
		switch {
		case lm.TimeJoined == 0:
			lm.TimeJoined = nowMS
		case lm.TimeJoined < 0:
			add("timeJoined cannot be < 0")
		case lm.TimeJoined > nowMS:
			add("timeJoined cannot be in future")
		}

		lm.Email = normalizeEmail(lm.Email)
		if len(lm.Email) > maxEmailLength {
			add("email %s is too long. Max length is %d.", lm.Email, maxEmailLength)
		}
		lm.PhoneNumber = strings.TrimSpace(lm.PhoneNumber)

		switch lm.RecipeID {
		case string(repository.RecipeEmailPassword):
			if lm.Email == "" {
				add("email is required for an emailpassword recipe.")
			}
			if (lm.PasswordHash == "" || lm.HashingAlgorithm == "") && lm.PlainTextPassword == "" {
				add("Either (passwordHash, hashingAlgorithm) or plainTextPassword is required for an emailpassword recipe.")
			}
			if lm.HashingAlgorithm != "" {
				lm.HashingAlgorithm = strings.ToUpper(strings.TrimSpace(lm.HashingAlgorithm))
				switch lm.HashingAlgorithm {
				case "BCRYPT", "ARGON2", "FIREBASE_SCRYPT":
				default:
					add("Invalid hashingAlgorithm for emailpassword recipe. hashingAlgorithm should be one of 'ARGON2', 'BCRYPT' or 'FIREBASE_SCRYPT'. Passed value is %s.", lm.HashingAlgorithm)
				}
			}
		case string(repository.RecipeThirdParty):
			if lm.Email == "" {
				add("email is required for a thirdparty recipe.")
			}
			lm.ThirdPartyID = strings.TrimSpace(lm.ThirdPartyID)
			lm.ThirdPartyUserID = strings.TrimSpace(lm.ThirdPartyUserID)
			if lm.ThirdPartyID == "" {
				add("thirdPartyId is required for a thirdparty recipe.")
			}
			if lm.ThirdPartyUserID == "" {
				add("thirdPartyUserId is required for a thirdparty recipe.")
			}
		case string(repository.RecipePasswordless):
			if lm.Email == "" && lm.PhoneNumber == "" {
				add("Either email or phoneNumber is required for a passwordless recipe.")
			}
		default:
			add("Invalid recipeId for loginMethod. Pass one of emailpassword, thirdparty or, passwordless!")
		}
	}

	if primaries > 1 {
		add("No two loginMethods can have isPrimary as true.")
	}
	if primaries == 1 && !v.accountLinking {
		add("Account linking must be enabled to import primary users.")
	}
	return errs
}

func normalizeTenants(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeEmail(email string) string {
	return repository.NormaliseEmail(email)
}
