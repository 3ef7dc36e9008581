package accountlinking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

func email(v string) repository.AccountInfo {
	return repository.AccountInfo{Kind: repository.AccountInfoEmail, Value: v}
}

func phone(v string) repository.AccountInfo {
	return repository.AccountInfo{Kind: repository.AccountInfoPhone, Value: v}
}

func TestOwnerIndex(t *testing.T) {
	groups := []repository.User{
		{ID: "z", IsPrimaryUser: true, LoginMethods: []repository.LoginMethod{
			{RecipeUserID: "z", TenantIDs: []string{"t1"}, Email: "x@x.com", PhoneNumber: "+1"},
		}},
		{ID: "a", IsPrimaryUser: true, LoginMethods: []repository.LoginMethod{
			{RecipeUserID: "a", TenantIDs: []string{"t2"}, PhoneNumber: "+1"},
		}},
		// los recipe users sueltos no reservan nada
		{ID: "r", LoginMethods: []repository.LoginMethod{
			{RecipeUserID: "r", TenantIDs: []string{"t1"}, Email: "r@x.com"},
		}},
	}
	idx := newOwnerIndex(groups)

	tests := []struct {
		name     string
		tenants  []string
		infos    []repository.AccountInfo
		excluded string
		owner    string
		attr     string
	}{
		{name: "free", tenants: []string{"t1", "t2"}, infos: []repository.AccountInfo{email("r@x.com")}},
		{name: "email on t1", tenants: []string{"t1"}, infos: []repository.AccountInfo{email("x@x.com")}, owner: "z", attr: "email"},
		{name: "email not visible on t2", tenants: []string{"t2"}, infos: []repository.AccountInfo{email("x@x.com")}},
		{name: "excluded owner", tenants: []string{"t1"}, infos: []repository.AccountInfo{email("x@x.com")}, excluded: "z"},
		{name: "email before phone", tenants: []string{"t1"}, infos: []repository.AccountInfo{phone("+1"), email("x@x.com")}, owner: "z", attr: "email"},
		{name: "tenants in order", tenants: []string{"t2", "t1"}, infos: []repository.AccountInfo{phone("+1")}, owner: "z", attr: "phone number"},
		{name: "excluded falls to next", tenants: []string{"t1", "t2"}, infos: []repository.AccountInfo{phone("+1")}, excluded: "z", owner: "a", attr: "phone number"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := idx.conflict(tc.tenants, tc.infos, tc.excluded)
			if tc.owner == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrAccountInfoConflict)
			ae := err.(*Error)
			require.Equal(t, tc.owner, ae.PrimaryUserID)
			require.Equal(t, tc.attr, ae.Attribute)
		})
	}
}

func TestOwnerIndex_ClaimIsSortedAndUnique(t *testing.T) {
	idx := make(ownerIndex)
	idx.claim([]string{"t"}, []repository.AccountInfo{email("e")}, "b")
	idx.claim([]string{"t"}, []repository.AccountInfo{email("e")}, "a")
	idx.claim([]string{"t"}, []repository.AccountInfo{email("e")}, "b")
	require.Equal(t, []string{"a", "b"}, idx[ownerKey{tenant: "t", info: email("e")}])
}

func TestTenantUnionAndAccountInfos(t *testing.T) {
	g1 := &repository.User{LoginMethods: []repository.LoginMethod{
		{TenantIDs: []string{"t2", "t1"}, Email: "B@x.com"},
	}}
	g2 := &repository.User{LoginMethods: []repository.LoginMethod{
		{TenantIDs: []string{"t3", "t1"}, Email: "b@x.com", PhoneNumber: "+54"},
	}}
	require.Equal(t, []string{"t1", "t2", "t3"}, TenantUnion(g1, nil, g2))
	require.Equal(t, []repository.AccountInfo{email("b@x.com"), phone("+54")}, AccountInfosOf(g1, g2))
}
