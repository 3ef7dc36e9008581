package bulkimport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// Límites de la API de entradas.
const (
	DefaultMaxUsersPerAdd = 10000
	DefaultListLimit      = 100
	MaxListLimit          = 500
	MaxDeleteIDs          = 500

	// addAttempts acota la regeneración de ids ante colisiones.
	addAttempts = 5
)

// Apps es lo que bulk import necesita saber de cada app (lo implementa config.Config).
type Apps interface {
	AccountLinkingEnabled(appID string) bool
	RolesFor(appID string) []string
}

// Entries administra la cola de usuarios a importar.
type Entries struct {
	apps     Apps
	maxUsers int
	now      func() time.Time
	newID    func() string
}

// EntriesConfig configura Entries. MaxUsersPerAdd <= 0 usa DefaultMaxUsersPerAdd.
type EntriesConfig struct {
	Apps           Apps
	MaxUsersPerAdd int
	Now            func() time.Time
}

func NewEntries(cfg EntriesConfig) *Entries {
	e := &Entries{apps: cfg.Apps, maxUsers: cfg.MaxUsersPerAdd, now: cfg.Now, newID: uuid.NewString}
	if e.maxUsers <= 0 {
		e.maxUsers = DefaultMaxUsersPerAdd
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// AddUsers valida los usuarios y los encola como NEW. Si alguno es inválido
// no se encola ninguno y se retorna *InvalidDataError.
func (e *Entries) AddUsers(ctx context.Context, appID string, storage repository.Storage, users []User) ([]string, error) {
	if len(users) == 0 {
		return nil, ErrNoUsers
	}
	if len(users) > e.maxUsers {
		return nil, fmt.Errorf("%w: you can only add %d users at a time", ErrTooManyUsers, e.maxUsers)
	}

	v := newValidator(e.apps.AccountLinkingEnabled(appID), e.apps.RolesFor(appID), e.now())
	var invalid []UserErrors
	for i := range users {
		if errs := v.normalize(&users[i]); len(errs) > 0 {
			invalid = append(invalid, UserErrors{Index: i, Errors: errs})
		}
	}
	if len(invalid) > 0 {
		return nil, &InvalidDataError{Users: invalid}
	}

	entries := make([]repository.BulkImportEntry, len(users))
	for i := range users {
		raw, err := json.Marshal(users[i])
		if err != nil {
			return nil, fmt.Errorf("bulkimport: encode user %d: %w", i, err)
		}
		entries[i] = repository.BulkImportEntry{AppID: appID, RawData: raw, Status: repository.BulkImportNew}
	}

	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("bulkimport"), logger.Op("AddUsers"), logger.AppID(appID))
	for i := range entries {
		entries[i].ID = e.newID()
	}
	for attempt := 1; attempt <= addAttempts; attempt++ {
		err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.BulkImport().Add(ctx, appID, entries)
		})
		if err == nil {
			ids := make([]string, len(entries))
			for i := range entries {
				ids[i] = entries[i].ID
			}
			log.Info("bulk import users added", logger.Count(len(ids)))
			return ids, nil
		}
		if !errors.Is(err, repository.ErrDuplicateID) {
			return nil, err
		}
		n := e.regenerate(entries, err)
		log.Warn("duplicate bulk import entry id, regenerating", logger.Int("attempt", attempt), logger.Count(n))
	}
	return nil, ErrIDRegeneration
}

// regenerate asigna ids nuevos a las filas que chocaron. Si el storage no
// informa cuáles fueron, regenera todas. Retorna cuántas cambió.
func (e *Entries) regenerate(entries []repository.BulkImportEntry, err error) int {
	var dup *repository.DuplicateIDsError
	if !errors.As(err, &dup) || len(dup.IDs) == 0 {
		for i := range entries {
			entries[i].ID = e.newID()
		}
		return len(entries)
	}
	offending := make(map[string]struct{}, len(dup.IDs))
	for _, id := range dup.IDs {
		offending[id] = struct{}{}
	}
	n := 0
	for i := range entries {
		if _, ok := offending[entries[i].ID]; ok {
			entries[i].ID = e.newID()
			n++
		}
	}
	return n
}

// ListParams filtra y pagina el listado.
type ListParams struct {
	Status *repository.BulkImportStatus
	Limit  int
	Token  string
}

// Page es una página de entradas. NextToken vacío indica el final.
type Page struct {
	Users     []repository.BulkImportEntry
	NextToken string
}

// List lista entradas ordenadas por creación.
func (e *Entries) List(ctx context.Context, appID string, storage repository.Storage, p ListParams) (Page, error) {
	limit := p.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		return Page{}, fmt.Errorf("%w: max limit allowed is %d", ErrLimitOutOfRange, MaxListLimit)
	}
	if p.Status != nil {
		if err := ValidateStatus(string(*p.Status)); err != nil {
			return Page{}, err
		}
	}

	f := repository.ListBulkImportFilter{Status: p.Status, Limit: limit + 1}
	if p.Token != "" {
		id, createdAt, err := decodeToken(p.Token)
		if err != nil {
			return Page{}, err
		}
		f.AfterID, f.AfterCreatedAt = id, &createdAt
	}

	var rows []repository.BulkImportEntry
	err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rows, err = tx.BulkImport().List(ctx, appID, f)
		return err
	})
	if err != nil {
		return Page{}, err
	}

	page := Page{Users: rows}
	if len(rows) > limit {
		last := rows[limit-1]
		page.Users = rows[:limit]
		page.NextToken = encodeToken(last.ID, last.CreatedAt)
	}
	return page, nil
}

// Delete borra entradas por id. Retorna los ids borrados y los que no existían.
func (e *Entries) Delete(ctx context.Context, appID string, storage repository.Storage, ids []string) (deleted, invalid []string, err error) {
	if len(ids) == 0 {
		return nil, nil, ErrNoIDs
	}
	if len(ids) > MaxDeleteIDs {
		return nil, nil, fmt.Errorf("%w: you can only delete %d items at a time", ErrTooManyIDs, MaxDeleteIDs)
	}

	err = storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		deleted, err = tx.BulkImport().Delete(ctx, appID, ids)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	gone := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		gone[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := gone[id]; !ok {
			invalid = append(invalid, id)
		}
	}
	return deleted, invalid, nil
}

// Count cuenta entradas, opcionalmente por estado.
func (e *Entries) Count(ctx context.Context, appID string, storage repository.Storage, status *repository.BulkImportStatus) (int64, error) {
	if status != nil {
		if err := ValidateStatus(string(*status)); err != nil {
			return 0, err
		}
	}
	var n int64
	err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		n, err = tx.BulkImport().Count(ctx, appID, status)
		return err
	})
	return n, err
}

// ValidateStatus acepta NEW, PROCESSING o FAILED.
func ValidateStatus(s string) error {
	switch repository.BulkImportStatus(s) {
	case repository.BulkImportNew, repository.BulkImportProcessing, repository.BulkImportFailed:
		return nil
	}
	return fmt.Errorf("%w: %q (expected NEW, PROCESSING or FAILED)", ErrInvalidStatus, s)
}

// El token es base64("<id>;<created_at unix nanos>").
func encodeToken(id string, createdAt time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ";" + strconv.FormatInt(createdAt.UnixNano(), 10)))
}

func decodeToken(token string) (string, time.Time, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	id, ts, ok := strings.Cut(string(raw), ";")
	if !ok || id == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	return id, time.Unix(0, nanos).UTC(), nil
}
