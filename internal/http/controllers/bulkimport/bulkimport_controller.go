package bulkimport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	core "github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	dtolink "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/accountlinking"
	dto "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/bulkimport"
	httperrors "github.com/dropDatabas3/hellojohn-identity/internal/http/errors"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/helpers"
	mw "github.com/dropDatabas3/hellojohn-identity/internal/http/middlewares"
	svc "github.com/dropDatabas3/hellojohn-identity/internal/http/services/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// maxAddBody acota POST /bulk-import/users (hasta 10k usuarios).
const maxAddBody = 64 << 20

// BulkImportController maneja /bulk-import/*.
type BulkImportController struct {
	service svc.BulkImportService
}

func NewBulkImportController(service svc.BulkImportService) *BulkImportController {
	return &BulkImportController{service: service}
}

// AddUsers maneja POST /bulk-import/users
func (c *BulkImportController) AddUsers(w http.ResponseWriter, r *http.Request) {
	var req dto.AddUsersRequest
	if err := helpers.ReadJSON(w, r, &req, maxAddBody); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	ids, err := c.service.AddUsers(r.Context(), mw.GetAppID(r.Context()), req.Users)
	if err != nil {
		writeBulkError(w, r, "AddUsers", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.AddUsersResponse{Status: "OK", IDs: ids})
}

// ListUsers maneja GET /bulk-import/users?status=&limit=&paginationToken=
func (c *BulkImportController) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := core.ListParams{Token: q.Get("paginationToken")}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("limit must be a number"))
			return
		}
		p.Limit = n
	}
	status, ok := statusParam(w, r)
	if !ok {
		return
	}
	p.Status = status

	page, err := c.service.List(r.Context(), mw.GetAppID(r.Context()), p)
	if err != nil {
		writeBulkError(w, r, "ListUsers", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.ListUsersResponse{
		Status:              "OK",
		Users:               dto.FromEntries(page.Users),
		NextPaginationToken: page.NextToken,
	})
}

// RemoveUsers maneja POST /bulk-import/users/remove
func (c *BulkImportController) RemoveUsers(w http.ResponseWriter, r *http.Request) {
	var req dto.RemoveUsersRequest
	if err := helpers.ReadJSON(w, r, &req, 0); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	deleted, invalid, err := c.service.Remove(r.Context(), mw.GetAppID(r.Context()), req.IDs)
	if err != nil {
		writeBulkError(w, r, "RemoveUsers", err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	if invalid == nil {
		invalid = []string{}
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RemoveUsersResponse{DeletedIDs: deleted, InvalidIDs: invalid})
}

// CountUsers maneja GET /bulk-import/users/count?status=
func (c *BulkImportController) CountUsers(w http.ResponseWriter, r *http.Request) {
	status, ok := statusParam(w, r)
	if !ok {
		return
	}
	n, err := c.service.Count(r.Context(), mw.GetAppID(r.Context()), status)
	if err != nil {
		writeBulkError(w, r, "CountUsers", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.CountResponse{Status: "OK", Count: n})
}

// ImportUser maneja POST /bulk-import/import (import sincrónico de un usuario).
func (c *BulkImportController) ImportUser(w http.ResponseWriter, r *http.Request) {
	var req dto.ImportUserRequest
	if err := helpers.ReadJSON(w, r, &req, 0); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	u, err := c.service.Import(r.Context(), mw.GetAppID(r.Context()), req.User)
	if err != nil {
		writeBulkError(w, r, "ImportUser", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.ImportUserResponse{Status: "OK", User: dtolink.FromUser(u)})
}

func statusParam(w http.ResponseWriter, r *http.Request) (*repository.BulkImportStatus, bool) {
	s := strings.TrimSpace(r.URL.Query().Get("status"))
	if s == "" {
		return nil, true
	}
	if err := core.ValidateStatus(s); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail(err.Error()))
		return nil, false
	}
	status := repository.BulkImportStatus(s)
	return &status, true
}

func writeBulkError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		invalid *core.InvalidDataError
		ie      *core.ImportError
		item    *accountlinking.ItemError
	)
	switch {
	case errors.As(err, &invalid):
		httperrors.WriteErrorWith(w, httperrors.ErrInvalidBulkData, map[string]any{"users": invalid.Users})
	case errors.Is(err, core.ErrNoUsers), errors.Is(err, core.ErrTooManyUsers),
		errors.Is(err, core.ErrLimitOutOfRange), errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrInvalidStatus), errors.Is(err, core.ErrNoIDs),
		errors.Is(err, core.ErrTooManyIDs):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(err.Error()))
	case errors.As(err, &ie):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(ie.Error()))
	case errors.As(err, &item):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(item.Error()))
	case errors.Is(err, repository.ErrTransient):
		logger.From(r.Context()).Warn("transient storage failure", logger.Layer("controller"), logger.Op(op), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
	default:
		logger.From(r.Context()).Error("bulk import error", logger.Layer("controller"), logger.Op(op), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
	}
}
