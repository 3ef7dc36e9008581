package accountlinking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// Códigos de error por ítem del coordinador bulk.
const (
	CodeMakePrimaryUnknownUser   = "E020"
	CodeMakePrimaryAlreadyLinked = "E021"
	CodeMakePrimaryConflict      = "E022"
	CodeMakePrimaryFailed        = "E023"
	CodeLinkFailed               = "E024"
	CodeLinkUnknownUser          = "E025"
	CodeLinkNotPrimary           = "E026"
	CodeLinkConflict             = "E027"
	CodeLinkAlreadyLinkedOther   = "E028"
)

// ItemError es el error de un candidato. Unwrap expone el *Error del
// resolver, así errors.Is(err, ErrAccountInfoConflict) funciona sobre el mapa.
type ItemError struct {
	Code string
	Err  error
}

func (e *ItemError) Error() string { return e.Code + ": " + e.Err.Error() }
func (e *ItemError) Unwrap() error { return e.Err }

// BulkCandidate es un usuario importado ya persistido como recipe users.
type BulkCandidate struct {
	// ID identifica al candidato en el resultado (id de la entrada bulk).
	ID string

	// PrimaryRecipeUserID es el login method que queda como primary.
	PrimaryRecipeUserID string

	// LoginMethods incluye el del primary.
	LoginMethods []repository.LoginMethod

	// MakePrimary fuerza la promoción aunque haya un solo login method.
	MakePrimary bool
}

func (c BulkCandidate) needsPrimary() bool {
	return c.MakePrimary || len(c.LoginMethods) > 1
}

func (c BulkCandidate) primaryMethod() *repository.LoginMethod {
	for i := range c.LoginMethods {
		if c.LoginMethods[i].RecipeUserID == c.PrimaryRecipeUserID {
			return &c.LoginMethods[i]
		}
	}
	return nil
}

// BulkResult mapea ids de candidato al primary user resultante o a su error.
type BulkResult struct {
	Primaries map[string]string
	Errors    map[string]error
}

func itemErr(code string, err error) *ItemError {
	return &ItemError{Code: code, Err: err}
}

// LinkMultipleAccountsForBulkImport promueve y linkea un lote en una sola
// transacción. Un candidato que falla queda en Errors y no afecta al resto;
// solo un fallo de storage no atribuible a un ítem aborta el lote.
func (s *Service) LinkMultipleAccountsForBulkImport(ctx context.Context, appID string, storage repository.Storage, candidates []BulkCandidate, overlap []repository.User) (res BulkResult, err error) {
	defer func(start time.Time) { observe("bulk_link", start, err) }(time.Now())

	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var e error
		res, e = s.LinkMultipleAccountsTx(ctx, tx, appID, candidates, overlap)
		return e
	})
	if err != nil {
		return BulkResult{}, storageErr(err)
	}

	opLogger(ctx, "LinkMultipleAccountsForBulkImport", appID).Info("bulk linking done",
		logger.Count(len(candidates)), logger.Int("failed", len(res.Errors)))
	return res, nil
}

// LinkMultipleAccountsTx corre el coordinador dentro de tx. overlap son los
// grupos ya leídos que comparten account info con el lote; si es nil se hace
// una única consulta para todo el lote.
func (s *Service) LinkMultipleAccountsTx(ctx context.Context, tx repository.Tx, appID string, candidates []BulkCandidate, overlap []repository.User) (BulkResult, error) {
	res := BulkResult{Primaries: make(map[string]string), Errors: make(map[string]error)}

	var pending []BulkCandidate
	var lms []repository.LoginMethod
	for _, c := range candidates {
		if !c.needsPrimary() {
			continue
		}
		if c.primaryMethod() == nil {
			res.Errors[c.ID] = itemErr(CodeMakePrimaryUnknownUser, unknownUser(c.PrimaryRecipeUserID))
			continue
		}
		pending = append(pending, c)
		lms = append(lms, c.LoginMethods...)
	}
	if len(pending) == 0 {
		return res, nil
	}

	if overlap == nil {
		tenants, infos := tenantsOfMethods(lms), accountInfosOfMethods(lms)
		if len(tenants) > 0 && len(infos) > 0 {
			var err error
			overlap, err = tx.Linking().ListUsersByAccountInfo(ctx, appID, tenants, queryFor(infos))
			if err != nil {
				return BulkResult{}, storageErr(err)
			}
		}
	}

	idx := newOwnerIndex(overlap)
	groupOf := make(map[string]string)
	for i := range overlap {
		g := &overlap[i]
		if !g.IsPrimaryUser {
			continue
		}
		for _, lm := range g.LoginMethods {
			groupOf[lm.RecipeUserID] = g.ID
		}
	}

	for _, c := range pending {
		tenants, infos, ierr := plan(c, idx, groupOf)
		if ierr != nil {
			res.Errors[c.ID] = ierr
			continue
		}

		err := tx.Savepoint(ctx, func(ctx context.Context, tx repository.Tx) error {
			return applyCandidate(ctx, tx, appID, c, groupOf)
		})
		if err != nil {
			var ie *ItemError
			if !errors.As(err, &ie) {
				return BulkResult{}, err
			}
			res.Errors[c.ID] = ie
			continue
		}

		idx.claim(tenants, infos, c.PrimaryRecipeUserID)
		for _, lm := range c.LoginMethods {
			groupOf[lm.RecipeUserID] = c.PrimaryRecipeUserID
		}
		res.Primaries[c.ID] = c.PrimaryRecipeUserID
	}
	return res, nil
}

// plan valida el candidato contra storage y contra los candidatos ya aceptados.
// Retorna los tenants e infos del grupo resultante.
func plan(c BulkCandidate, idx ownerIndex, groupOf map[string]string) ([]string, []repository.AccountInfo, error) {
	p := c.PrimaryRecipeUserID
	if g, ok := groupOf[p]; ok && g != p {
		return nil, nil, itemErr(CodeMakePrimaryAlreadyLinked,
			&Error{Kind: KindAlreadyLinkedWithPrimary, RecipeUserID: p, PrimaryUserID: g})
	}
	for _, lm := range c.LoginMethods {
		if g, ok := groupOf[lm.RecipeUserID]; ok && g != p {
			return nil, nil, itemErr(CodeLinkAlreadyLinkedOther,
				&Error{Kind: KindAlreadyLinkedWithAnotherPrimary, RecipeUserID: lm.RecipeUserID, PrimaryUserID: g})
		}
	}

	pm := c.primaryMethod()
	if err := idx.conflict(pm.TenantIDs, pm.AccountInfos(), p); err != nil {
		return nil, nil, itemErr(CodeMakePrimaryConflict, withRecipe(err, p))
	}

	tenants, infos := tenantsOfMethods(c.LoginMethods), accountInfosOfMethods(c.LoginMethods)
	if err := idx.conflict(tenants, infos, p); err != nil {
		return nil, nil, itemErr(CodeLinkConflict, withRecipe(err, p))
	}
	return tenants, infos, nil
}

// applyCandidate muta storage. Los errores de ítem salen como *ItemError; un
// error transitorio sale tal cual y aborta el lote.
func applyCandidate(ctx context.Context, tx repository.Tx, appID string, c BulkCandidate, groupOf map[string]string) error {
	p := c.PrimaryRecipeUserID
	if groupOf[p] != p {
		if err := tx.Linking().MakePrimary(ctx, appID, p); err != nil {
			return classify(err, p, CodeMakePrimaryUnknownUser, CodeMakePrimaryConflict, CodeMakePrimaryAlreadyLinked, CodeMakePrimaryFailed, KindAlreadyLinkedWithPrimary)
		}
	}
	for _, lm := range c.LoginMethods {
		if lm.RecipeUserID == p || groupOf[lm.RecipeUserID] == p {
			continue
		}
		if err := tx.Linking().LinkAccounts(ctx, appID, lm.RecipeUserID, p); err != nil {
			return classify(err, lm.RecipeUserID, CodeLinkUnknownUser, CodeLinkConflict, CodeLinkNotPrimary, CodeLinkFailed, KindNotAPrimaryUser)
		}
	}
	return nil
}

// classify traduce el error de storage al código del paso. invalidKind es el
// Kind de un ErrInvalidInput, que depende del paso (MakePrimary o link).
func classify(err error, recipeUserID, notFound, conflict, invalid, other string, invalidKind Kind) error {
	switch {
	case errors.Is(err, repository.ErrTransient), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case repository.IsNotFound(err):
		return itemErr(notFound, unknownUser(recipeUserID))
	case repository.IsConflict(err):
		return itemErr(conflict, &Error{Kind: KindAccountInfoConflict, RecipeUserID: recipeUserID, Err: err})
	case errors.Is(err, repository.ErrInvalidInput):
		return itemErr(invalid, &Error{Kind: invalidKind, RecipeUserID: recipeUserID, Err: err})
	}
	return itemErr(other, &Error{Kind: KindStorageFault, RecipeUserID: recipeUserID, Err: fmt.Errorf("bulk apply: %w", err)})
}
