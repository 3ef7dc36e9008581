package bulkimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/metrics"
	"github.com/dropDatabas3/hellojohn-identity/internal/security/password"
	"github.com/dropDatabas3/hellojohn-identity/internal/security/secretbox"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
	"github.com/dropDatabas3/hellojohn-identity/internal/useridmapping"
)

const (
	DefaultBatchSize   = 8000
	DefaultParallelism = 4
)

// errReplay fuerza el rollback del lote para reintentarlo sin los usuarios
// que fallaron en el linking.
var errReplay = errors.New("bulkimport: replay batch")

// AppSource resuelve las apps a procesar y su storage.
type AppSource interface {
	Apps
	AppIDs() []string
	AdapterConfig(appID string) (store.AdapterConfig, error)
}

// ProcessorConfig configura el procesador.
type ProcessorConfig struct {
	Apps        AppSource
	Storages    *store.StorageCache
	Linker      *accountlinking.Service
	BatchSize   int
	Parallelism int
	Now         func() time.Time

	// PasswordParams hashea los plainTextPassword. Zero => password.Default.
	PasswordParams password.Params
	// Secrets cifra los secretos TOTP antes de guardarlos (opcional).
	Secrets *secretbox.Box
}

// Processor importa las entradas NEW de cada app en lotes.
type Processor struct {
	apps        AppSource
	storages    *store.StorageCache
	linker      *accountlinking.Service
	batchSize   int
	parallelism int
	now         func() time.Time
	hashParams  password.Params
	secrets     *secretbox.Box
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		apps:        cfg.Apps,
		storages:    cfg.Storages,
		linker:      cfg.Linker,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		now:         cfg.Now,
		hashParams:  cfg.PasswordParams,
		secrets:     cfg.Secrets,
	}
	if p.hashParams == (password.Params{}) {
		p.hashParams = password.Default
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.parallelism <= 0 {
		p.parallelism = DefaultParallelism
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// BatchResult resume un lote procesado.
type BatchResult struct {
	Imported  int
	Failed    int
	Recovered int
}

// Run procesa un lote por app. Las apps corren en paralelo (hasta
// Parallelism); el error de una app no frena a las demás.
func (p *Processor) Run(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(p.parallelism)

	for _, appID := range p.apps.AppIDs() {
		appID := appID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := p.processApp(ctx, appID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("app %s: %w", appID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (p *Processor) processApp(ctx context.Context, appID string) (BatchResult, error) {
	cfg, err := p.apps.AdapterConfig(appID)
	if err != nil {
		return BatchResult{}, err
	}
	storage, err := p.storages.Get(ctx, cfg)
	if err != nil {
		return BatchResult{}, err
	}
	return p.ProcessBatch(ctx, appID, storage)
}

// job es una entrada decodificada lista para importar.
type job struct {
	entryID string
	user    User
}

// ProcessBatch toma hasta BatchSize entradas (primero las que quedaron en
// PROCESSING) y las importa en una transacción.
func (p *Processor) ProcessBatch(ctx context.Context, appID string, storage repository.Storage) (res BatchResult, err error) {
	start := time.Now()
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("bulkimport"),
		logger.Op("ProcessBatch"), logger.AppID(appID), logger.Storage(storage.UserPoolID()))

	entries, recovered, err := p.claim(ctx, appID, storage)
	if err != nil {
		log.Error("claim bulk import entries failed", logger.Err(err))
		return BatchResult{}, err
	}
	if len(entries) == 0 && len(recovered) == 0 {
		return BatchResult{}, nil
	}
	defer metrics.ObserveBulkBatch(time.Since(start))

	failed := make(map[string]string)
	v := newValidator(p.apps.AccountLinkingEnabled(appID), nil, p.now())
	jobs := make([]job, 0, len(entries))
	for _, e := range entries {
		var u User
		if err := json.Unmarshal(e.RawData, &u); err != nil {
			failed[e.ID] = importErr(CodeInvalidEntry, "could not decode user", err).Error()
			continue
		}
		if errs := v.normalize(&u); len(errs) > 0 {
			failed[e.ID] = importErr(CodeInvalidEntry, strings.Join(errs, " "), nil).Error()
			continue
		}
		if err := p.hashPasswords(&u); err != nil {
			failed[e.ID] = err.Error()
			continue
		}
		jobs = append(jobs, job{entryID: e.ID, user: u})
	}

	imported, err := p.importJobs(ctx, appID, storage, jobs, failed, log)
	if err != nil {
		log.Error("bulk import batch aborted", logger.Err(err))
		return BatchResult{}, err
	}

	done := append(append([]string(nil), imported...), recovered...)
	if len(done) > 0 {
		err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.BulkImport().Delete(ctx, appID, done)
			return err
		})
		if err != nil {
			// Quedan en PROCESSING con primary user id; el próximo lote las recupera.
			log.Warn("delete imported entries failed", logger.Err(err), logger.Count(len(done)))
		}
	}

	res = BatchResult{Imported: len(imported), Failed: len(failed), Recovered: len(recovered)}
	metrics.RecordBulkUsers("imported", res.Imported)
	metrics.RecordBulkUsers("failed", res.Failed)
	log.Info("bulk import batch processed",
		logger.Int("imported", res.Imported), logger.Int("failed", res.Failed), logger.Int("recovered", res.Recovered))
	return res, nil
}

// claim retorna las entradas a importar y los ids de entradas cuyo usuario
// ya se había creado en una corrida anterior.
func (p *Processor) claim(ctx context.Context, appID string, storage repository.Storage) ([]repository.BulkImportEntry, []string, error) {
	var (
		entries   []repository.BulkImportEntry
		recovered []string
	)
	err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		entries, recovered = nil, nil
		stale, err := tx.BulkImport().ListProcessing(ctx, appID, p.batchSize)
		if err != nil {
			return err
		}
		for _, e := range stale {
			if e.PrimaryUserID != "" {
				exists, err := tx.Linking().DoesUserIDExist(ctx, appID, e.PrimaryUserID)
				if err != nil {
					return err
				}
				if exists {
					recovered = append(recovered, e.ID)
					continue
				}
			}
			entries = append(entries, e)
		}
		if n := p.batchSize - len(stale); n > 0 {
			fresh, err := tx.BulkImport().ClaimNew(ctx, appID, n)
			if err != nil {
				return err
			}
			entries = append(entries, fresh...)
		}
		return nil
	})
	return entries, recovered, err
}

// importJobs crea los usuarios y los linkea en una transacción. Si el
// linking rechaza usuarios se hace rollback y se reintenta sin ellos.
// failed acumula entryID -> mensaje y se persiste como FAILED.
func (p *Processor) importJobs(ctx context.Context, appID string, storage repository.Storage, jobs []job, failed map[string]string, log *zap.Logger) ([]string, error) {
	var imported []string
	for attempt := 0; attempt <= len(jobs); attempt++ {
		rejected := make(map[string]string)
		err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			imported = imported[:0]
			var candidates []accountlinking.BulkCandidate
			primaryOf := make(map[string]string)

			for i := range jobs {
				j := &jobs[i]
				if _, ok := failed[j.entryID]; ok {
					continue
				}
				err := tx.Savepoint(ctx, func(ctx context.Context, tx repository.Tx) error {
					return p.importUser(ctx, tx, appID, &j.user)
				})
				if err != nil {
					var ie *ImportError
					if !errors.As(err, &ie) {
						return err
					}
					failed[j.entryID] = ie.Error()
					continue
				}
				candidates = append(candidates, j.user.candidate(j.entryID))
				primaryOf[j.entryID] = j.user.PrimaryLoginMethod().SuperTokensUserID
				imported = append(imported, j.entryID)
			}

			linked, err := p.linker.LinkMultipleAccountsTx(ctx, tx, appID, candidates, nil)
			if err != nil {
				return err
			}
			if len(linked.Errors) > 0 {
				for id, e := range linked.Errors {
					rejected[id] = e.Error()
				}
				return errReplay
			}

			for _, id := range imported {
				if err := tx.BulkImport().SetPrimaryUserID(ctx, appID, id, primaryOf[id]); err != nil {
					return err
				}
			}
			for id, msg := range failed {
				if err := tx.BulkImport().SetStatus(ctx, appID, id, repository.BulkImportFailed, msg); err != nil && !repository.IsNotFound(err) {
					return err
				}
			}
			return nil
		})
		switch {
		case err == nil:
			return imported, nil
		case errors.Is(err, errReplay):
			for id, msg := range rejected {
				failed[id] = msg
			}
			metrics.RecordBulkUsers("retry", len(imported))
			log.Debug("replaying bulk import batch", logger.Int("rejected", len(rejected)), logger.Int("attempt", attempt+1))
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("bulkimport: linking did not converge for %d users", len(jobs))
}

// importUser crea los recipe users y los datos no-auth de u.
func (p *Processor) importUser(ctx context.Context, tx repository.Tx, appID string, u *User) error {
	for _, lm := range u.LoginMethods {
		err := tx.Linking().CreateRecipeUser(ctx, appID, repository.CreateRecipeUserInput{LoginMethod: lm.toRepository()})
		switch {
		case err == nil:
		case isTransient(err):
			return err
		case errors.Is(err, repository.ErrDuplicateID), repository.IsConflict(err):
			return importErr(CodeDuplicateUser, "A user with the same id or login method already exists", err)
		default:
			return importErr(CodeCreateUserFailed, "could not create "+lm.RecipeID+" user", err)
		}
	}

	primary := u.PrimaryLoginMethod()
	if u.ExternalUserID != "" {
		m := repository.UserIDMapping{SuperTokensUserID: primary.SuperTokensUserID, ExternalUserID: u.ExternalUserID}
		if err := createMapping(ctx, tx, appID, m); err != nil {
			return err
		}
	}

	for _, lm := range u.LoginMethods {
		if !lm.IsVerified || lm.Email == "" {
			continue
		}
		key := lm.SuperTokensUserID
		if lm.SuperTokensUserID == primary.SuperTokensUserID {
			key = u.effectiveID()
		}
		data, _ := json.Marshal([]string{lm.Email})
		if err := upsert(ctx, tx, appID, repository.DomainEmailVerification, key, data, CodeEmailVerifyFailed); err != nil {
			return err
		}
	}

	id := u.effectiveID()
	if len(u.UserMetadata) > 0 {
		if err := upsert(ctx, tx, appID, repository.DomainMetadata, id, u.UserMetadata, CodeMetadataFailed); err != nil {
			return err
		}
	}

	if len(u.UserRoles) > 0 {
		allowed := p.apps.RolesFor(appID)
		byTenant := make(map[string][]string)
		for _, r := range u.UserRoles {
			if len(allowed) > 0 && !contains(allowed, r.Role) {
				return importErr(CodeUnknownRole, "Role "+r.Role+" does not exist", nil)
			}
			for _, t := range r.TenantIDs {
				byTenant[t] = append(byTenant[t], r.Role)
			}
		}
		data, err := json.Marshal(byTenant)
		if err != nil {
			return importErr(CodeRolesFailed, "could not encode roles", err)
		}
		if err := upsert(ctx, tx, appID, repository.DomainRoles, id, data, CodeRolesFailed); err != nil {
			return err
		}
	}

	for _, lm := range u.LoginMethods {
		if lm.PasswordHash == "" {
			continue
		}
		key := lm.SuperTokensUserID
		if lm.SuperTokensUserID == primary.SuperTokensUserID {
			key = u.effectiveID()
		}
		data, err := json.Marshal(storedPassword{Hash: lm.PasswordHash, Algorithm: lm.HashingAlgorithm})
		if err != nil {
			return importErr(CodePasswordFailed, "could not encode password", err)
		}
		if err := upsert(ctx, tx, appID, repository.DomainPassword, key, data, CodePasswordFailed); err != nil {
			return err
		}
	}

	if len(u.TOTPDevices) > 0 {
		devices, err := p.sealTOTP(u.TOTPDevices)
		if err != nil {
			return err
		}
		data, err := json.Marshal(devices)
		if err != nil {
			return importErr(CodeTOTPFailed, "could not encode totp devices", err)
		}
		if err := upsert(ctx, tx, appID, repository.DomainTOTP, id, data, CodeTOTPFailed); err != nil {
			return err
		}
	}
	return nil
}

// storedPassword es el dato del dominio password, keyed como el resto de
// los datos no-auth.
type storedPassword struct {
	Hash      string `json:"passwordHash"`
	Algorithm string `json:"hashingAlgorithm"`
}

// hashPasswords reemplaza los plainTextPassword por su hash argon2id. El
// texto plano no llega al storage de usuarios.
func (p *Processor) hashPasswords(u *User) error {
	for i := range u.LoginMethods {
		lm := &u.LoginMethods[i]
		if lm.PlainTextPassword == "" || (lm.PasswordHash != "" && lm.HashingAlgorithm != "") {
			lm.PlainTextPassword = ""
			continue
		}
		h, err := password.Hash(p.hashParams, lm.PlainTextPassword)
		if err != nil {
			return importErr(CodePasswordFailed, "could not hash password", err)
		}
		lm.PasswordHash, lm.HashingAlgorithm, lm.PlainTextPassword = h, password.AlgArgon2, ""
	}
	return nil
}

func (p *Processor) sealTOTP(in []TOTPDevice) ([]TOTPDevice, error) {
	if p.secrets == nil {
		return in, nil
	}
	out := make([]TOTPDevice, len(in))
	for i, d := range in {
		sealed, err := p.secrets.Seal(d.SecretKey)
		if err != nil {
			return nil, importErr(CodeTOTPFailed, "could not encrypt totp secret", err)
		}
		d.SecretKey = sealed
		out[i] = d
	}
	return out, nil
}

func createMapping(ctx context.Context, tx repository.Tx, appID string, m repository.UserIDMapping) error {
	err := useridmapping.Create(ctx, tx, appID, m, false)
	switch {
	case err == nil:
		return nil
	case isTransient(err):
		return err
	case errors.Is(err, useridmapping.ErrExternalIDIsUser), repository.IsConflict(err):
		return importErr(CodeExternalIDExists, "externalUserId "+m.ExternalUserID+" is already in use", err)
	case repository.IsNotFound(err):
		return importErr(CodeMappingUnknownUser, "unknown superTokensUserId "+m.SuperTokensUserID, err)
	default:
		return importErr(CodeMappingFailed, "could not create user id mapping", err)
	}
}

func upsert(ctx context.Context, tx repository.Tx, appID string, domain repository.NonAuthDomain, userID string, data []byte, code string) error {
	err := tx.NonAuth(domain).Upsert(ctx, appID, userID, data)
	switch {
	case err == nil:
		return nil
	case isTransient(err):
		return err
	default:
		return importErr(code, "could not store "+string(domain), err)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ImportUser importa un usuario de forma sincrónica y retorna el grupo resultante.
func (p *Processor) ImportUser(ctx context.Context, appID string, storage repository.Storage, u User) (*repository.User, error) {
	v := newValidator(p.apps.AccountLinkingEnabled(appID), p.apps.RolesFor(appID), p.now())
	if errs := v.normalize(&u); len(errs) > 0 {
		return nil, &InvalidDataError{Users: []UserErrors{{Index: 0, Errors: errs}}}
	}
	if err := p.hashPasswords(&u); err != nil {
		return nil, err
	}

	var out *repository.User
	err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := p.importUser(ctx, tx, appID, &u); err != nil {
			return err
		}
		c := u.candidate("")
		linked, err := p.linker.LinkMultipleAccountsTx(ctx, tx, appID, []accountlinking.BulkCandidate{c}, nil)
		if err != nil {
			return err
		}
		if e, ok := linked.Errors[c.ID]; ok {
			return e
		}
		out, err = tx.Linking().GetUserByID(ctx, appID, c.PrimaryRecipeUserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Debug("user imported", logger.Component("bulkimport"), logger.AppID(appID), logger.UserID(out.ID))
	return out, nil
}
