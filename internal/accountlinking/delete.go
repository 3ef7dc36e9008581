package accountlinking

import (
	"context"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-identity/internal/useridmapping"
)

// DeleteUser borra al usuario en los dominios de auth y no-auth.
//
// Con removeAllLinkedAccounts (o si el grupo tiene un solo miembro) se borra el
// grupo completo. Si no, solo el recipe user pedido: un miembro no primary se
// lleva sus datos no-auth; el primary pierde solo su fila de auth y su id sigue
// siendo el id del grupo, con su mapping y los datos no-auth compartidos.
//
// userID puede ser un recipe user id, el id de un grupo o un external id mapeado.
func (s *Service) DeleteUser(ctx context.Context, appID string, storage repository.Storage, userID string, removeAllLinkedAccounts bool) (err error) {
	defer func(start time.Time) { observe("delete", start, err) }(time.Now())

	var deleted, handles []string
	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		deleted, handles, e = s.DeleteUserTx(ctx, tx, appID, userID, removeAllLinkedAccounts)
		return e
	})
	if err != nil {
		return storageErr(err)
	}

	log := opLogger(ctx, "DeleteUser", appID).With(logger.UserID(userID))
	if s.sessions != nil && len(handles) > 0 {
		if err := s.sessions.MarkRevoked(ctx, appID, handles); err != nil {
			log.Error("failed to publish session revocation", logger.Err(err))
		}
	}
	log.Info("user deleted",
		logger.Bool("remove_all_linked_accounts", removeAllLinkedAccounts),
		logger.Count(len(deleted)))
	return nil
}

// DeleteUserTx es DeleteUser dentro de una transacción existente. Retorna los
// recipe user ids borrados y los handles de sesión que el caller debe publicar
// como revocados después del commit.
func (s *Service) DeleteUserTx(ctx context.Context, tx repository.Tx, appID, userID string, removeAllLinkedAccounts bool) (deleted, handles []string, err error) {
	stID, err := resolveDeleteTarget(ctx, tx, appID, userID)
	if err != nil {
		return nil, nil, err
	}
	g, err := GetPrimaryGroupFor(ctx, tx, appID, stID)
	if err != nil {
		return nil, nil, err
	}

	d := &deletion{svc: s, tx: tx, appID: appID, done: make(map[string]struct{})}
	switch {
	case removeAllLinkedAccounts || len(g.LoginMethods) == 1:
		err = d.group(ctx, g)
	case stID == g.ID:
		// el id queda keyeando al grupo; si ya no tiene fila de auth no hay nada que borrar
		if g.LoginMethodFor(stID) != nil {
			if err = tx.Linking().DeleteAuthRecipeUser(ctx, appID, stID); err != nil {
				err = storageErr(err)
			}
			d.deleted = append(d.deleted, stID)
		}
	default:
		err = d.member(ctx, stID)
	}
	if err != nil {
		return nil, nil, err
	}
	return d.deleted, d.handles, nil
}

// resolveDeleteTarget: un recipe user id (o el id de un grupo) se usa tal
// cual; si no, se busca como external id.
func resolveDeleteTarget(ctx context.Context, tx repository.Tx, appID, userID string) (string, error) {
	_, err := tx.Linking().GetUserByID(ctx, appID, userID)
	if err == nil {
		return userID, nil
	}
	if !repository.IsNotFound(err) {
		return "", storageErr(err)
	}
	m, err := useridmapping.Resolve(ctx, tx, appID, userID, repository.UserIDTypeExternal)
	if err != nil {
		return "", storageErr(err)
	}
	if m == nil {
		return "", unknownUser(userID)
	}
	return m.SuperTokensUserID, nil
}

// handOverGroup borra la fila de auth del primary y re-keyea el grupo sobre el
// miembro sobreviviente más antiguo. El external id del primary pasa al nuevo
// primary si este no tiene mapping propio; si lo tiene, los datos no-auth del
// grupo se mueven a su id efectivo sin pisar los que ya tenga.
func (s *Service) handOverGroup(ctx context.Context, tx repository.Tx, appID string, g *repository.User) (string, error) {
	var survivor string
	for _, lm := range g.LoginMethods {
		if lm.RecipeUserID != g.ID {
			survivor = lm.RecipeUserID
			break
		}
	}
	if survivor == "" {
		return "", &Error{Kind: KindStorageFault, RecipeUserID: g.ID}
	}

	from, m, err := nonAuthTarget(ctx, tx, appID, g.ID)
	if err != nil {
		return "", err
	}
	if err := tx.Linking().DeleteAuthRecipeUser(ctx, appID, g.ID); err != nil {
		return "", storageErr(err)
	}
	if err := tx.Linking().ReassignPrimary(ctx, appID, g.ID, survivor); err != nil {
		return "", storageErr(err)
	}
	if m != nil {
		if err := tx.UserIDMappings().Delete(ctx, appID, g.ID); err != nil {
			return "", storageErr(err)
		}
	}

	sm, err := useridmapping.Resolve(ctx, tx, appID, survivor, repository.UserIDTypeSuperTokens)
	if err != nil {
		return "", storageErr(err)
	}
	if m != nil && sm == nil && from != "" {
		m.SuperTokensUserID = survivor
		if err := tx.UserIDMappings().Create(ctx, appID, *m); err != nil {
			return "", storageErr(err)
		}
		return survivor, nil
	}
	to := survivor
	if sm != nil {
		to = sm.ExternalUserID
	}
	return survivor, moveNonAuth(ctx, tx, appID, from, to)
}

// moveNonAuth mueve los datos no-auth de from a to. En los dominios donde to
// ya tiene dato se conserva el de to.
func moveNonAuth(ctx context.Context, tx repository.Tx, appID, from, to string) error {
	if from == "" || from == to {
		return nil
	}
	for _, domain := range repository.NonAuthDomains {
		repo := tx.NonAuth(domain)
		data, err := repo.Get(ctx, appID, from)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return storageErr(err)
		}
		_, err = repo.Get(ctx, appID, to)
		switch {
		case repository.IsNotFound(err):
			if err := repo.Upsert(ctx, appID, to, data); err != nil {
				return storageErr(err)
			}
		case err != nil:
			return storageErr(err)
		}
		if _, err := repo.DeleteForUser(ctx, appID, from); err != nil {
			return storageErr(err)
		}
	}
	return nil
}

// nonAuthTarget retorna el id bajo el que están los datos no-auth de un
// recipe user (su external id si tiene mapping) y el mapping. Si el external
// id es a su vez un recipe user, esos datos son del otro usuario y el target
// es "".
func nonAuthTarget(ctx context.Context, tx repository.Tx, appID, recipeUserID string) (string, *repository.UserIDMapping, error) {
	m, err := useridmapping.Resolve(ctx, tx, appID, recipeUserID, repository.UserIDTypeSuperTokens)
	if err != nil {
		return "", nil, storageErr(err)
	}
	if m == nil || m.ExternalUserID == recipeUserID {
		return recipeUserID, m, nil
	}
	isUser, err := tx.Linking().DoesUserIDExist(ctx, appID, m.ExternalUserID)
	if err != nil {
		return "", nil, storageErr(err)
	}
	if isUser {
		return "", m, nil
	}
	return m.ExternalUserID, m, nil
}

// deletion acumula lo borrado dentro de una misma transacción.
type deletion struct {
	svc     *Service
	tx      repository.Tx
	appID   string
	done    map[string]struct{}
	deleted []string
	handles []string
}

// group borra todos los miembros: primero los no primary, el primary al final.
func (d *deletion) group(ctx context.Context, g *repository.User) error {
	members := make([]string, 0, len(g.LoginMethods))
	for _, lm := range g.LoginMethods {
		if lm.RecipeUserID != g.ID {
			members = append(members, lm.RecipeUserID)
		}
	}
	if g.LoginMethodFor(g.ID) != nil {
		members = append(members, g.ID)
	}

	for _, id := range members {
		if err := d.member(ctx, id); err != nil {
			return err
		}
	}
	if g.LoginMethodFor(g.ID) == nil {
		if err := d.retired(ctx, g.ID); err != nil {
			return err
		}
	}
	if g.IsPrimaryUser {
		if err := d.tx.Linking().DeleteAccountInfoReservations(ctx, d.appID, g.ID); err != nil {
			return storageErr(err)
		}
	}
	return nil
}

// member borra un recipe user y sus datos no-auth (ver nonAuthTarget).
func (d *deletion) member(ctx context.Context, recipeUserID string) error {
	if _, ok := d.done[recipeUserID]; ok {
		return nil
	}
	target, _, err := nonAuthTarget(ctx, d.tx, d.appID, recipeUserID)
	if err != nil {
		return err
	}

	// auth primero: credenciales, tenants, reservas y mapping
	if err := d.tx.Linking().DeleteAuthRecipeUser(ctx, d.appID, recipeUserID); err != nil {
		return storageErr(err)
	}
	d.done[recipeUserID] = struct{}{}
	d.deleted = append(d.deleted, recipeUserID)

	if target == "" {
		return nil
	}
	return d.nonAuth(ctx, target)
}

// retired limpia el id de un primary cuya fila de auth ya se borró: su
// mapping y los datos no-auth que el grupo compartía bajo su id efectivo.
func (d *deletion) retired(ctx context.Context, groupID string) error {
	target, m, err := nonAuthTarget(ctx, d.tx, d.appID, groupID)
	if err != nil {
		return err
	}
	if m != nil {
		if err := d.tx.UserIDMappings().Delete(ctx, d.appID, groupID); err != nil {
			return storageErr(err)
		}
	}
	if target == "" {
		return nil
	}
	return d.nonAuth(ctx, target)
}

func (d *deletion) nonAuth(ctx context.Context, userID string) error {
	for _, domain := range repository.NonAuthDomains {
		if _, err := d.tx.NonAuth(domain).DeleteForUser(ctx, d.appID, userID); err != nil {
			return storageErr(err)
		}
	}
	if d.svc.sessions != nil {
		handles, err := d.svc.sessions.DeleteNonAuthForUser(ctx, d.tx, d.appID, userID)
		if err != nil {
			return storageErr(err)
		}
		d.handles = append(d.handles, handles...)
		return nil
	}
	if _, err := d.tx.Sessions().DeleteForUser(ctx, d.appID, userID); err != nil {
		return storageErr(err)
	}
	return nil
}
