package accountlinking

import (
	"errors"
	"net/http"
	"strings"

	core "github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	dto "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/accountlinking"
	httperrors "github.com/dropDatabas3/hellojohn-identity/internal/http/errors"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/helpers"
	mw "github.com/dropDatabas3/hellojohn-identity/internal/http/middlewares"
	svc "github.com/dropDatabas3/hellojohn-identity/internal/http/services/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// LinkingController maneja /recipe/accountlinking/* y /user/remove.
type LinkingController struct {
	service svc.LinkingService
}

func NewLinkingController(service svc.LinkingService) *LinkingController {
	return &LinkingController{service: service}
}

// CanCreatePrimary maneja GET /recipe/accountlinking/user/primary/check
func (c *LinkingController) CanCreatePrimary(w http.ResponseWriter, r *http.Request) {
	recipeUserID := strings.TrimSpace(r.URL.Query().Get("recipeUserId"))
	if recipeUserID == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("recipeUserId is required"))
		return
	}

	res, err := c.service.CanCreatePrimary(r.Context(), mw.GetAppID(r.Context()), recipeUserID)
	if err != nil {
		writeLinkingError(w, r, "CanCreatePrimary", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.CanCreatePrimaryResponse{
		Status:                 dto.StatusOK,
		WasAlreadyAPrimaryUser: res.WasAlreadyPrimary,
	})
}

// CreatePrimary maneja POST /recipe/accountlinking/user/primary
func (c *LinkingController) CreatePrimary(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePrimaryRequest
	if err := helpers.ReadJSON(w, r, &req, 0); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.RecipeUserID) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("recipeUserId is required"))
		return
	}

	res, err := c.service.CreatePrimary(r.Context(), mw.GetAppID(r.Context()), strings.TrimSpace(req.RecipeUserID))
	if err != nil {
		writeLinkingError(w, r, "CreatePrimary", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.CreatePrimaryResponse{
		Status:                 dto.StatusOK,
		User:                   dto.FromUser(res.User),
		WasAlreadyAPrimaryUser: res.WasAlreadyPrimary,
	})
}

// CanLink maneja GET /recipe/accountlinking/user/link/check
func (c *LinkingController) CanLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recipeUserID := strings.TrimSpace(q.Get("recipeUserId"))
	primaryUserID := strings.TrimSpace(q.Get("primaryUserId"))
	if recipeUserID == "" || primaryUserID == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("recipeUserId and primaryUserId are required"))
		return
	}

	res, err := c.service.CanLink(r.Context(), mw.GetAppID(r.Context()), recipeUserID, primaryUserID)
	if err != nil {
		writeLinkingError(w, r, "CanLink", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.CanLinkResponse{
		Status:                dto.StatusOK,
		AccountsAlreadyLinked: res.WasAlreadyLinked,
	})
}

// Link maneja POST /recipe/accountlinking/user/link
func (c *LinkingController) Link(w http.ResponseWriter, r *http.Request) {
	var req dto.LinkRequest
	if err := helpers.ReadJSON(w, r, &req, 0); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	req.RecipeUserID, req.PrimaryUserID = strings.TrimSpace(req.RecipeUserID), strings.TrimSpace(req.PrimaryUserID)
	if req.RecipeUserID == "" || req.PrimaryUserID == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("recipeUserId and primaryUserId are required"))
		return
	}

	res, err := c.service.Link(r.Context(), mw.GetAppID(r.Context()), req.RecipeUserID, req.PrimaryUserID)
	if err != nil {
		writeLinkingError(w, r, "Link", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.LinkResponse{
		Status:                dto.StatusOK,
		AccountsAlreadyLinked: res.WasAlreadyLinked,
		User:                  dto.FromUser(res.User),
	})
}

// Unlink maneja POST /recipe/accountlinking/user/unlink
func (c *LinkingController) Unlink(w http.ResponseWriter, r *http.Request) {
	var req dto.UnlinkRequest
	if err := helpers.ReadJSON(w, r, &req, 0); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.RecipeUserID) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("recipeUserId is required"))
		return
	}

	res, err := c.service.Unlink(r.Context(), mw.GetAppID(r.Context()), strings.TrimSpace(req.RecipeUserID))
	if err != nil {
		writeLinkingError(w, r, "Unlink", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.UnlinkResponse{
		Status:               dto.StatusOK,
		WasRecipeUserDeleted: res.WasRecipeUserDeleted,
		WasLinked:            res.WasLinked,
	})
}

// RemoveUser maneja POST /user/remove
func (c *LinkingController) RemoveUser(w http.ResponseWriter, r *http.Request) {
	var req dto.RemoveUserRequest
	if err := helpers.ReadJSON(w, r, &req, 0); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("userId is required"))
		return
	}
	removeAll := true
	if req.RemoveAllLinkedAccounts != nil {
		removeAll = *req.RemoveAllLinkedAccounts
	}

	if err := c.service.RemoveUser(r.Context(), mw.GetAppID(r.Context()), strings.TrimSpace(req.UserID), removeAll); err != nil {
		writeLinkingError(w, r, "RemoveUser", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RemoveUserResponse{Status: dto.StatusOK})
}

// writeLinkingError traduce errores del core: los kinds con status propio
// van como 200 con ese status; el resto como error HTTP.
func writeLinkingError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		logger.From(r.Context()).Error("account linking error", logger.Layer("controller"), logger.Op(op), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		return
	}

	if status := e.Kind.Status(); status != "" {
		helpers.WriteJSON(w, http.StatusOK, dto.StatusResponse{
			Status:        status,
			PrimaryUserID: e.PrimaryUserID,
			Description:   e.Description(),
		})
		return
	}

	switch e.Kind {
	case core.KindUnknownUser:
		httperrors.WriteError(w, httperrors.ErrUnknownUser.WithDetail(e.Description()))
	case core.KindFeatureNotEnabled:
		httperrors.WriteError(w, httperrors.ErrFeatureNotEnabled)
	case core.KindTransientStorageFailure:
		logger.From(r.Context()).Warn("transient storage failure", logger.Layer("controller"), logger.Op(op), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
	default:
		logger.From(r.Context()).Error("account linking error", logger.Layer("controller"), logger.Op(op), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
	}
}
