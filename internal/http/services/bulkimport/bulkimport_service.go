package bulkimport

import (
	"context"

	"github.com/dropDatabas3/hellojohn-identity/internal/audit"
	core "github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// BulkImportService opera la cola de bulk import de una app.
type BulkImportService interface {
	AddUsers(ctx context.Context, appID string, users []core.User) ([]string, error)
	List(ctx context.Context, appID string, p core.ListParams) (core.Page, error)
	Remove(ctx context.Context, appID string, ids []string) (deleted, invalid []string, err error)
	Count(ctx context.Context, appID string, status *repository.BulkImportStatus) (int64, error)
	Import(ctx context.Context, appID string, u core.User) (*repository.User, error)
}

type bulkImportService struct {
	storages  common.StorageResolver
	entries   *core.Entries
	processor *core.Processor
}

func NewBulkImportService(d Deps) BulkImportService {
	return &bulkImportService{storages: d.Storages, entries: d.Entries, processor: d.Processor}
}

func (s *bulkImportService) AddUsers(ctx context.Context, appID string, users []core.User) ([]string, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.entries.AddUsers(ctx, appID, st, users)
}

func (s *bulkImportService) List(ctx context.Context, appID string, p core.ListParams) (core.Page, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return core.Page{}, err
	}
	return s.entries.List(ctx, appID, st, p)
}

func (s *bulkImportService) Remove(ctx context.Context, appID string, ids []string) ([]string, []string, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	return s.entries.Delete(ctx, appID, st, ids)
}

func (s *bulkImportService) Count(ctx context.Context, appID string, status *repository.BulkImportStatus) (int64, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return 0, err
	}
	return s.entries.Count(ctx, appID, st, status)
}

func (s *bulkImportService) Import(ctx context.Context, appID string, u core.User) (*repository.User, error) {
	st, err := s.storages.StorageFor(ctx, appID)
	if err != nil {
		return nil, err
	}
	out, err := s.processor.ImportUser(ctx, appID, st, u)
	if err != nil {
		return nil, err
	}
	audit.Log(ctx, audit.UserImported, logger.AppID(appID), logger.UserID(out.ID), logger.Count(len(out.LoginMethods)))
	return out, nil
}
