package accountlinking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/metrics"
	"github.com/dropDatabas3/hellojohn-identity/internal/useridmapping"
)

// FeatureFlags indica qué apps tienen account linking habilitado.
type FeatureFlags interface {
	AccountLinkingEnabled(appID string) bool
}

// FlagFunc adapta una función a FeatureFlags.
type FlagFunc func(appID string) bool

func (f FlagFunc) AccountLinkingEnabled(appID string) bool { return f(appID) }

// AllEnabled habilita account linking para todas las apps.
var AllEnabled FeatureFlags = FlagFunc(func(string) bool { return true })

// SessionRevoker es el servicio de sesiones (ver internal/session).
type SessionRevoker interface {
	// RevokeAllForUser borra las sesiones del usuario en su propia transacción.
	RevokeAllForUser(ctx context.Context, appID string, storage repository.Storage, userID string) error

	// DeleteNonAuthForUser borra las sesiones dentro de tx y retorna los handles.
	DeleteNonAuthForUser(ctx context.Context, tx repository.Tx, appID, userID string) ([]string, error)

	// MarkRevoked publica la revocación de handles ya borrados.
	MarkRevoked(ctx context.Context, appID string, handles []string) error
}

// Deps dependencias del Service.
type Deps struct {
	Flags    FeatureFlags
	Sessions SessionRevoker
	Now      func() time.Time
}

// Service implementa el resolver de linking, el borrado en cascada y el
// coordinador bulk.
type Service struct {
	flags    FeatureFlags
	sessions SessionRevoker
	now      func() time.Time
	checker  Checker
}

// NewService crea el Service. Sin Flags se asume todo habilitado.
func NewService(deps Deps) *Service {
	s := &Service{flags: deps.Flags, sessions: deps.Sessions, now: deps.Now}
	if s.flags == nil {
		s.flags = AllEnabled
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreatePrimaryResult resultado de CreatePrimaryUser.
type CreatePrimaryResult struct {
	User              *repository.User
	WasAlreadyPrimary bool
}

// LinkResult resultado de LinkAccounts.
type LinkResult struct {
	User             *repository.User
	WasAlreadyLinked bool
}

// UnlinkResult resultado de UnlinkAccounts.
type UnlinkResult struct {
	// EffectiveUserID es el id con el que se revocaron las sesiones
	// (external id si hay mapping).
	EffectiveUserID string

	// WasLinked es false solo cuando se degradó un primary sin miembros.
	WasLinked bool

	// WasRecipeUserDeleted es true cuando el recipe user era el primary de un
	// grupo con otros miembros y su fila de auth fue borrada.
	WasRecipeUserDeleted bool
}

func (s *Service) requireFeature(appID string) error {
	if !s.flags.AccountLinkingEnabled(appID) {
		return &Error{Kind: KindFeatureNotEnabled}
	}
	return nil
}

// observe registra métricas de la operación.
func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		if k := KindOf(err); k != "" {
			result = string(k)
		} else {
			result = "error"
		}
	}
	metrics.RecordLinkingOp(op, result, time.Since(start))
}

func opLogger(ctx context.Context, op, appID string) *zap.Logger {
	return logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("accountlinking"),
		logger.Op(op),
		logger.AppID(appID),
	)
}

// ─── CreatePrimaryUser ───

// CanCreatePrimaryUser corre los chequeos de CreatePrimaryUser sin mutar.
func (s *Service) CanCreatePrimaryUser(ctx context.Context, appID string, storage repository.Storage, recipeUserID string) (res CreatePrimaryResult, err error) {
	defer func(start time.Time) { observe("can_create_primary", start, err) }(time.Now())
	if err := s.requireFeature(appID); err != nil {
		return res, err
	}
	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		res, e = s.canCreatePrimaryTx(ctx, tx, appID, recipeUserID)
		return e
	})
	return res, storageErr(err)
}

// CreatePrimaryUser promueve el recipe user a primary user.
func (s *Service) CreatePrimaryUser(ctx context.Context, appID string, storage repository.Storage, recipeUserID string) (res CreatePrimaryResult, err error) {
	defer func(start time.Time) { observe("create_primary", start, err) }(time.Now())
	if err := s.requireFeature(appID); err != nil {
		return res, err
	}
	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		res, e = s.CreatePrimaryUserTx(ctx, tx, appID, recipeUserID)
		return e
	})
	if err != nil {
		return res, storageErr(err)
	}

	opLogger(ctx, "CreatePrimaryUser", appID).Debug("primary user created",
		logger.RecipeUserID(recipeUserID), logger.Bool("was_already_primary", res.WasAlreadyPrimary))
	return res, nil
}

func (s *Service) canCreatePrimaryTx(ctx context.Context, tx repository.Tx, appID, recipeUserID string) (CreatePrimaryResult, error) {
	g, err := GetPrimaryGroupFor(ctx, tx, appID, recipeUserID)
	if err != nil {
		return CreatePrimaryResult{}, err
	}
	lm := g.LoginMethodFor(recipeUserID)
	if lm == nil {
		return CreatePrimaryResult{}, unknownUser(recipeUserID)
	}
	if g.IsPrimaryUser {
		if g.ID == recipeUserID {
			return CreatePrimaryResult{User: g, WasAlreadyPrimary: true}, nil
		}
		return CreatePrimaryResult{}, &Error{Kind: KindAlreadyLinkedWithPrimary, RecipeUserID: recipeUserID, PrimaryUserID: g.ID}
	}

	if err := s.checker.CheckMergeable(ctx, tx, appID, lm.TenantIDs, lm.AccountInfos(), ""); err != nil {
		return CreatePrimaryResult{}, withRecipe(err, recipeUserID)
	}
	return CreatePrimaryResult{User: g}, nil
}

// CreatePrimaryUserTx es CreatePrimaryUser dentro de una transacción existente.
func (s *Service) CreatePrimaryUserTx(ctx context.Context, tx repository.Tx, appID, recipeUserID string) (CreatePrimaryResult, error) {
	res, err := s.canCreatePrimaryTx(ctx, tx, appID, recipeUserID)
	if err != nil || res.WasAlreadyPrimary {
		return res, err
	}
	if err := tx.Linking().MakePrimary(ctx, appID, recipeUserID); err != nil {
		return CreatePrimaryResult{}, s.mutationErr(ctx, tx, appID, err, recipeUserID, []*repository.User{res.User}, recipeUserID)
	}
	g, err := GetPrimaryGroupFor(ctx, tx, appID, recipeUserID)
	if err != nil {
		return CreatePrimaryResult{}, err
	}
	return CreatePrimaryResult{User: g}, nil
}

// ─── LinkAccounts ───

// CanLinkAccounts corre los chequeos de LinkAccounts sin mutar.
func (s *Service) CanLinkAccounts(ctx context.Context, appID string, storage repository.Storage, recipeUserID, primaryUserID string) (res LinkResult, err error) {
	defer func(start time.Time) { observe("can_link", start, err) }(time.Now())
	if err := s.requireFeature(appID); err != nil {
		return res, err
	}
	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		res, _, _, e = s.canLinkTx(ctx, tx, appID, recipeUserID, primaryUserID)
		return e
	})
	return res, storageErr(err)
}

// LinkAccounts une el recipe user al grupo del primary user. Después del
// commit revoca las sesiones emitidas con el id efectivo previo del recipe
// user y mueve su registro de última actividad al primary.
func (s *Service) LinkAccounts(ctx context.Context, appID string, storage repository.Storage, recipeUserID, primaryUserID string) (res LinkResult, err error) {
	defer func(start time.Time) { observe("link", start, err) }(time.Now())
	if err := s.requireFeature(appID); err != nil {
		return res, err
	}

	var revokeID, primaryEffectiveID string
	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		res, revokeID, primaryEffectiveID, e = s.linkTx(ctx, tx, appID, recipeUserID, primaryUserID)
		return e
	})
	if err != nil {
		return res, storageErr(err)
	}

	log := opLogger(ctx, "LinkAccounts", appID).With(logger.RecipeUserID(recipeUserID), logger.PrimaryUserID(res.User.ID))
	if res.WasAlreadyLinked {
		log.Debug("accounts already linked")
		return res, nil
	}

	s.revokeSessions(ctx, appID, storage, revokeID)
	s.moveLastActive(ctx, appID, storage, revokeID, primaryEffectiveID)
	log.Info("accounts linked")
	return res, nil
}

// LinkAccountsTx une dentro de una transacción existente. Retorna el id efectivo
// cuyas sesiones deben revocarse después del commit ("" si ya estaba linkeado).
func (s *Service) LinkAccountsTx(ctx context.Context, tx repository.Tx, appID, recipeUserID, primaryUserID string) (LinkResult, string, error) {
	res, revokeID, _, err := s.linkTx(ctx, tx, appID, recipeUserID, primaryUserID)
	return res, revokeID, err
}

func (s *Service) linkTx(ctx context.Context, tx repository.Tx, appID, recipeUserID, primaryUserID string) (LinkResult, string, string, error) {
	res, u, p, err := s.canLinkTx(ctx, tx, appID, recipeUserID, primaryUserID)
	if err != nil || res.WasAlreadyLinked {
		return res, "", "", err
	}

	revokeID, err := useridmapping.EffectiveID(ctx, tx, appID, recipeUserID)
	if err != nil {
		return LinkResult{}, "", "", storageErr(err)
	}
	primaryEffectiveID, err := useridmapping.EffectiveID(ctx, tx, appID, p.ID)
	if err != nil {
		return LinkResult{}, "", "", storageErr(err)
	}

	if err := tx.Linking().LinkAccounts(ctx, appID, recipeUserID, p.ID); err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			return LinkResult{}, "", "", lostLinkRace(ctx, tx, appID, recipeUserID, p.ID, err)
		}
		return LinkResult{}, "", "", s.mutationErr(ctx, tx, appID, err, recipeUserID, []*repository.User{u, p}, p.ID)
	}
	g, err := GetPrimaryGroupFor(ctx, tx, appID, p.ID)
	if err != nil {
		return LinkResult{}, "", "", err
	}
	return LinkResult{User: g}, revokeID, primaryEffectiveID, nil
}

// canLinkTx retorna además los grupos de u y p.
func (s *Service) canLinkTx(ctx context.Context, tx repository.Tx, appID, recipeUserID, primaryUserID string) (LinkResult, *repository.User, *repository.User, error) {
	u, err := GetPrimaryGroupFor(ctx, tx, appID, recipeUserID)
	if err != nil {
		return LinkResult{}, nil, nil, err
	}
	if u.LoginMethodFor(recipeUserID) == nil {
		return LinkResult{}, nil, nil, unknownUser(recipeUserID)
	}
	p, err := GetPrimaryGroupFor(ctx, tx, appID, primaryUserID)
	if err != nil {
		return LinkResult{}, nil, nil, err
	}
	if !p.IsPrimaryUser {
		return LinkResult{}, nil, nil, &Error{Kind: KindNotAPrimaryUser, PrimaryUserID: primaryUserID, RecipeUserID: recipeUserID}
	}

	if u.IsPrimaryUser {
		if u.ID == p.ID {
			return LinkResult{User: p, WasAlreadyLinked: true}, u, p, nil
		}
		return LinkResult{}, nil, nil, &Error{Kind: KindAlreadyLinkedWithAnotherPrimary, RecipeUserID: recipeUserID, PrimaryUserID: u.ID}
	}

	tenants := TenantUnion(u, p)
	infos := AccountInfosOf(u, p)
	if err := s.checker.CheckMergeable(ctx, tx, appID, tenants, infos, p.ID); err != nil {
		return LinkResult{}, nil, nil, withRecipe(err, recipeUserID)
	}
	return LinkResult{User: p}, u, p, nil
}

// ─── UnlinkAccounts ───

// UnlinkAccounts separa el recipe user de su grupo.
//
//   - primary sin miembros: se degrada a recipe user (WasLinked=false)
//   - primary con miembros: se borra su fila de auth y el miembro más antiguo
//     pasa a ser el primary del grupo (WasRecipeUserDeleted=true)
//   - miembro no primary: se separa del grupo
//
// En todos los casos se revocan las sesiones del id efectivo después del commit.
func (s *Service) UnlinkAccounts(ctx context.Context, appID string, storage repository.Storage, recipeUserID string) (res UnlinkResult, err error) {
	defer func(start time.Time) { observe("unlink", start, err) }(time.Now())
	if err := s.requireFeature(appID); err != nil {
		return res, err
	}

	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		res, e = s.UnlinkAccountsTx(ctx, tx, appID, recipeUserID)
		return e
	})
	if err != nil {
		return res, storageErr(err)
	}

	s.revokeSessions(ctx, appID, storage, res.EffectiveUserID)
	opLogger(ctx, "UnlinkAccounts", appID).Info("account unlinked",
		logger.RecipeUserID(recipeUserID),
		logger.Bool("was_linked", res.WasLinked),
		logger.Bool("was_recipe_user_deleted", res.WasRecipeUserDeleted))
	return res, nil
}

// UnlinkAccountsTx es UnlinkAccounts dentro de una transacción existente.
// El caller revoca las sesiones de EffectiveUserID después del commit.
func (s *Service) UnlinkAccountsTx(ctx context.Context, tx repository.Tx, appID, recipeUserID string) (UnlinkResult, error) {
	g, err := GetPrimaryGroupFor(ctx, tx, appID, recipeUserID)
	if err != nil {
		return UnlinkResult{}, err
	}
	if g.LoginMethodFor(recipeUserID) == nil {
		return UnlinkResult{}, unknownUser(recipeUserID)
	}
	if !g.IsPrimaryUser {
		return UnlinkResult{}, &Error{Kind: KindInputUserIsNotAPrimaryUser, RecipeUserID: recipeUserID}
	}

	effectiveID, err := useridmapping.EffectiveID(ctx, tx, appID, recipeUserID)
	if err != nil {
		return UnlinkResult{}, storageErr(err)
	}
	res := UnlinkResult{EffectiveUserID: effectiveID}

	switch {
	case g.ID == recipeUserID && len(g.LoginMethods) == 1:
		if err := tx.Linking().UnlinkAccounts(ctx, appID, g.ID, recipeUserID); err != nil {
			return UnlinkResult{}, storageErr(err)
		}
	case g.ID == recipeUserID:
		// El id del primary sigue referenciado por los miembros: se borra su
		// fila de auth y el grupo se re-keyea sobre el miembro más antiguo.
		if _, err := s.handOverGroup(ctx, tx, appID, g); err != nil {
			return UnlinkResult{}, err
		}
		res.WasLinked = true
		res.WasRecipeUserDeleted = true
	default:
		if err := tx.Linking().UnlinkAccounts(ctx, appID, g.ID, recipeUserID); err != nil {
			return UnlinkResult{}, storageErr(err)
		}
		res.WasLinked = true
	}
	return res, nil
}

// ─── Post-commit ───

func (s *Service) revokeSessions(ctx context.Context, appID string, storage repository.Storage, userID string) {
	if s.sessions == nil || userID == "" {
		return
	}
	if err := s.sessions.RevokeAllForUser(ctx, appID, storage, userID); err != nil {
		opLogger(ctx, "RevokeSessions", appID).Error("failed to revoke sessions after commit",
			logger.UserID(userID), logger.Err(err))
	}
}

// moveLastActive borra el registro de actividad del recipe user y marca
// actividad en el primary. Best effort: un fallo solo se loguea.
func (s *Service) moveLastActive(ctx context.Context, appID string, storage repository.Storage, fromID, toID string) {
	if fromID == "" || toID == "" || fromID == toID {
		return
	}
	now := strconv.FormatInt(s.now().UnixMilli(), 10)
	err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		active := tx.NonAuth(repository.DomainActiveUsers)
		if _, err := active.DeleteForUser(ctx, appID, fromID); err != nil {
			return err
		}
		return active.Upsert(ctx, appID, toID, []byte(now))
	})
	if err != nil {
		opLogger(ctx, "MoveLastActive", appID).Warn("failed to update last active after linking",
			logger.UserID(fromID), logger.PrimaryUserID(toID), logger.Err(err))
	}
}

// ─── Errores de mutación ───

// mutationErr traduce un ErrConflict de storage (reserva de account info ya
// tomada por una escritura concurrente) en KindAccountInfoConflict, releyendo
// el dueño para el mensaje. Cualquier otro error se clasifica como storage.
func (s *Service) mutationErr(ctx context.Context, tx repository.Tx, appID string, err error, recipeUserID string, groups []*repository.User, excluded string) error {
	if !repository.IsConflict(err) {
		return storageErr(err)
	}
	conflict := &Error{Kind: KindAccountInfoConflict, RecipeUserID: recipeUserID, Err: err}
	if len(groups) > 0 {
		if cerr := s.checker.CheckMergeable(ctx, tx, appID, TenantUnion(groups...), AccountInfosOf(groups...), excluded); cerr != nil {
			if e, ok := cerr.(*Error); ok && e.Kind == KindAccountInfoConflict {
				conflict.PrimaryUserID, conflict.Attribute = e.PrimaryUserID, e.Attribute
			}
		}
	}
	return conflict
}

// lostLinkRace reclasifica el rechazo del update de link cuando otra
// escritura cambió el grupo del recipe user o del primary después de los
// chequeos.
func lostLinkRace(ctx context.Context, tx repository.Tx, appID, recipeUserID, primaryUserID string, err error) error {
	if u, gerr := GetPrimaryGroupFor(ctx, tx, appID, recipeUserID); gerr == nil && u.IsPrimaryUser && u.ID != primaryUserID {
		return &Error{Kind: KindAlreadyLinkedWithAnotherPrimary, RecipeUserID: recipeUserID, PrimaryUserID: u.ID, Err: err}
	}
	if p, gerr := GetPrimaryGroupFor(ctx, tx, appID, primaryUserID); gerr == nil && !p.IsPrimaryUser {
		return &Error{Kind: KindNotAPrimaryUser, RecipeUserID: recipeUserID, PrimaryUserID: primaryUserID, Err: err}
	}
	return storageErr(err)
}

func withRecipe(err error, recipeUserID string) error {
	if e, ok := err.(*Error); ok && e.RecipeUserID == "" {
		e.RecipeUserID = recipeUserID
	}
	return err
}
