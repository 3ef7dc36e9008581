package repository

import (
	"context"
	"time"
)

// BulkImportStatus estado de una entrada de bulk import.
type BulkImportStatus string

const (
	BulkImportNew        BulkImportStatus = "NEW"
	BulkImportProcessing BulkImportStatus = "PROCESSING"
	BulkImportFailed     BulkImportStatus = "FAILED"
)

// BulkImportEntry es una fila pendiente de importar. RawData es el payload JSON
// del usuario (login methods, metadata, roles) tal cual se recibió.
type BulkImportEntry struct {
	ID            string
	AppID         string
	PrimaryUserID string
	RawData       []byte
	Status        BulkImportStatus
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListBulkImportFilter filtro + cursor para listar entradas.
type ListBulkImportFilter struct {
	Status *BulkImportStatus
	Limit  int
	// Cursor (AfterCreatedAt, AfterID) exclusivo, ordenado por created_at, id.
	AfterCreatedAt *time.Time
	AfterID        string
}

// BulkImportRepository persiste la cola de bulk import.
type BulkImportRepository interface {
	// Add inserta las entradas. Retorna ErrDuplicateID si algún id ya existe
	// (no se inserta ninguna).
	Add(ctx context.Context, appID string, entries []BulkImportEntry) error

	List(ctx context.Context, appID string, f ListBulkImportFilter) ([]BulkImportEntry, error)

	// ClaimNew marca hasta limit entradas NEW como PROCESSING y las retorna.
	ClaimNew(ctx context.Context, appID string, limit int) ([]BulkImportEntry, error)

	// ListProcessing retorna entradas en PROCESSING (recuperación tras caída).
	ListProcessing(ctx context.Context, appID string, limit int) ([]BulkImportEntry, error)

	SetPrimaryUserID(ctx context.Context, appID, id, primaryUserID string) error
	SetStatus(ctx context.Context, appID, id string, status BulkImportStatus, errMsg string) error

	// Delete borra por ids y retorna los ids efectivamente borrados.
	Delete(ctx context.Context, appID string, ids []string) ([]string, error)

	Count(ctx context.Context, appID string, status *BulkImportStatus) (int64, error)
}
