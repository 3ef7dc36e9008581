package accountlinking

import (
	"context"

	core "github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/audit"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// LinkingService expone las operaciones de linking por app.
type LinkingService interface {
	CanCreatePrimary(ctx context.Context, appID, recipeUserID string) (core.CreatePrimaryResult, error)
	CreatePrimary(ctx context.Context, appID, recipeUserID string) (core.CreatePrimaryResult, error)
	CanLink(ctx context.Context, appID, recipeUserID, primaryUserID string) (core.LinkResult, error)
	Link(ctx context.Context, appID, recipeUserID, primaryUserID string) (core.LinkResult, error)
	Unlink(ctx context.Context, appID, recipeUserID string) (core.UnlinkResult, error)
	RemoveUser(ctx context.Context, appID, userID string, removeAllLinkedAccounts bool) error
}

type linkingService struct {
	storages common.StorageResolver
	linker   *core.Service
}

func NewLinkingService(d Deps) LinkingService {
	return &linkingService{storages: d.Storages, linker: d.Linker}
}

func (s *linkingService) CanCreatePrimary(ctx context.Context, appID, recipeUserID string) (core.CreatePrimaryResult, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return core.CreatePrimaryResult{}, err
	}
	return s.linker.CanCreatePrimaryUser(ctx, appID, st, recipeUserID)
}

func (s *linkingService) CreatePrimary(ctx context.Context, appID, recipeUserID string) (core.CreatePrimaryResult, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return core.CreatePrimaryResult{}, err
	}
	res, err := s.linker.CreatePrimaryUser(ctx, appID, st, recipeUserID)
	if err == nil && !res.WasAlreadyPrimary {
		audit.Log(ctx, audit.PrimaryCreated, logger.AppID(appID), logger.RecipeUserID(recipeUserID))
	}
	return res, err
}

func (s *linkingService) CanLink(ctx context.Context, appID, recipeUserID, primaryUserID string) (core.LinkResult, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return core.LinkResult{}, err
	}
	return s.linker.CanLinkAccounts(ctx, appID, st, recipeUserID, primaryUserID)
}

func (s *linkingService) Link(ctx context.Context, appID, recipeUserID, primaryUserID string) (core.LinkResult, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return core.LinkResult{}, err
	}
	res, err := s.linker.LinkAccounts(ctx, appID, st, recipeUserID, primaryUserID)
	if err == nil && !res.WasAlreadyLinked {
		audit.Log(ctx, audit.AccountsLinked, logger.AppID(appID), logger.RecipeUserID(recipeUserID), logger.PrimaryUserID(primaryUserID))
	}
	return res, err
}

func (s *linkingService) Unlink(ctx context.Context, appID, recipeUserID string) (core.UnlinkResult, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return core.UnlinkResult{}, err
	}
	res, err := s.linker.UnlinkAccounts(ctx, appID, st, recipeUserID)
	if err == nil && res.WasLinked {
		audit.Log(ctx, audit.AccountUnlinked, logger.AppID(appID), logger.RecipeUserID(recipeUserID),
			logger.Bool("recipe_user_deleted", res.WasRecipeUserDeleted))
	}
	return res, err
}

func (s *linkingService) RemoveUser(ctx context.Context, appID, userID string, removeAllLinkedAccounts bool) error {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return err
	}
	if err := s.linker.DeleteUser(ctx, appID, st, userID, removeAllLinkedAccounts); err != nil {
		return err
	}
	audit.Log(ctx, audit.UserDeleted, logger.AppID(appID), logger.UserID(userID), logger.Bool("remove_all_linked", removeAllLinkedAccounts))
	return nil
}
