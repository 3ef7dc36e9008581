// Package memory implementa un storage en memoria con transacciones por snapshot.
// Sirve para tests y para correr el servicio sin Postgres. Las transacciones se
// serializan con un mutex global: cada InTx trabaja sobre una copia del estado
// y la publica solo si fn no falla.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

// ErrClosed se retorna al usar un storage cerrado.
var ErrClosed = errors.New("memory: storage closed")

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Open(ctx context.Context, cfg store.AdapterConfig) (repository.Storage, error) {
	return New(cfg.PoolID()), nil
}

// FaultHook se invoca antes de cada operación mutante con su nombre
// (ej: "LinkAccounts"). Si retorna error la operación falla con ese error.
type FaultHook func(op string) error

// Storage implementa repository.Storage.
type Storage struct {
	poolID string

	mu     sync.Mutex
	st     *state
	closed bool
	fault  FaultHook
	now    func() time.Time
}

// New crea un storage vacío para el user pool dado.
func New(poolID string) *Storage {
	return &Storage{poolID: poolID, st: newState(), now: time.Now}
}

// SetFaultHook instala un hook de fallos (tests).
func (s *Storage) SetFaultHook(h FaultHook) {
	s.mu.Lock()
	s.fault = h
	s.mu.Unlock()
}

// SetClock reemplaza el reloj usado para timestamps de bulk import y sesiones.
func (s *Storage) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Storage) Name() string       { return "memory" }
func (s *Storage) UserPoolID() string { return s.poolID }

func (s *Storage) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// InTx ejecuta fn sobre una copia del estado.
func (s *Storage) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	work := s.st.clone()
	tx := &memTx{st: work, fault: s.fault, now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = work
	return nil
}

// memTx implementa repository.Tx.
type memTx struct {
	st    *state
	fault FaultHook
	now   func() time.Time
}

func (t *memTx) Linking() repository.LinkingRepository            { return &linkingRepo{tx: t} }
func (t *memTx) UserIDMappings() repository.UserIDMappingRepository { return &mappingRepo{tx: t} }
func (t *memTx) Sessions() repository.SessionRepository            { return &sessionRepo{tx: t} }
func (t *memTx) BulkImport() repository.BulkImportRepository       { return &bulkRepo{tx: t} }

func (t *memTx) NonAuth(domain repository.NonAuthDomain) repository.NonAuthRepository {
	return &nonAuthRepo{tx: t, domain: domain}
}

// Savepoint restaura el estado previo si fn falla.
func (t *memTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	snapshot := t.st.clone()
	if err := fn(ctx, t); err != nil {
		*t.st = *snapshot
		return err
	}
	return nil
}

func (t *memTx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	if err := t.fault(op); err != nil {
		return fmt.Errorf("memory: %s: %w", op, err)
	}
	return nil
}

func (t *memTx) app(appID string) *appState {
	a, ok := t.st.apps[appID]
	if !ok {
		a = newAppState()
		t.st.apps[appID] = a
	}
	return a
}

// ─── Estado ───

type state struct {
	apps map[string]*appState
}

type userRow struct {
	lm      repository.LoginMethod
	groupID string
	linked  bool
}

type resKey struct {
	tenant string
	kind   repository.AccountInfoKind
	value  string
}

type appState struct {
	users        map[string]userRow
	reservations map[resKey]string
	mappings     map[string]repository.UserIDMapping
	nonAuth      map[repository.NonAuthDomain]map[string][]byte
	sessions     map[string]repository.Session
	bulk         map[string]repository.BulkImportEntry
}

func newState() *state { return &state{apps: make(map[string]*appState)} }

func newAppState() *appState {
	return &appState{
		users:        make(map[string]userRow),
		reservations: make(map[resKey]string),
		mappings:     make(map[string]repository.UserIDMapping),
		nonAuth:      make(map[repository.NonAuthDomain]map[string][]byte),
		sessions:     make(map[string]repository.Session),
		bulk:         make(map[string]repository.BulkImportEntry),
	}
}

func (s *state) clone() *state {
	out := newState()
	for id, a := range s.apps {
		out.apps[id] = a.clone()
	}
	return out
}

func (a *appState) clone() *appState {
	out := newAppState()
	for k, v := range a.users {
		v.lm = v.lm.Clone()
		out.users[k] = v
	}
	for k, v := range a.reservations {
		out.reservations[k] = v
	}
	for k, v := range a.mappings {
		out.mappings[k] = v
	}
	for d, m := range a.nonAuth {
		cp := make(map[string][]byte, len(m))
		for k, v := range m {
			cp[k] = append([]byte(nil), v...)
		}
		out.nonAuth[d] = cp
	}
	for k, v := range a.sessions {
		out.sessions[k] = v
	}
	for k, v := range a.bulk {
		v.RawData = append([]byte(nil), v.RawData...)
		out.bulk[k] = v
	}
	return out
}
