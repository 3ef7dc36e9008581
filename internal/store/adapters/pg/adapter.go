// Package pg implementa el adapter PostgreSQL sobre pgxpool.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

// PgExecQuerier es la mínima interfaz que cumplen *pgxpool.Pool y pgx.Tx.
type PgExecQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Open(ctx context.Context, cfg store.AdapterConfig) (repository.Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	retries := cfg.TxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.TxRetryBackoff
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}

	return &Storage{pool: pool, poolID: cfg.PoolID(), retries: retries, backoff: backoff}, nil
}

// Storage implementa repository.Storage sobre un pgxpool.
type Storage struct {
	pool    *pgxpool.Pool
	poolID  string
	retries int
	backoff time.Duration
}

func (s *Storage) Name() string       { return "postgres" }
func (s *Storage) UserPoolID() string { return s.poolID }

func (s *Storage) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// InTx abre una transacción read-committed y reintenta fallos de serialización.
func (s *Storage) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}

		lastErr = s.runTx(ctx, fn)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("pg: tx failed after %d attempts: %w: %w", s.retries+1, repository.ErrTransient, lastErr)
}

func (s *Storage) runTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("pg: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

// MigrationExecutor implementa store.Migratable.
func (s *Storage) MigrationExecutor() store.Executor {
	return &poolExecutor{pool: s.pool}
}

// poolExecutor adapta pgxpool.Pool a store.Executor.
type poolExecutor struct {
	pool *pgxpool.Pool
}

func (e *poolExecutor) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := e.pool.Exec(ctx, sql, args...)
	return err
}

func (e *poolExecutor) QueryRow(ctx context.Context, sql string, args ...any) store.RowScanner {
	return e.pool.QueryRow(ctx, sql, args...)
}

// pgTx implementa repository.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Linking() repository.LinkingRepository            { return &linkingRepo{db: t.tx} }
func (t *pgTx) UserIDMappings() repository.UserIDMappingRepository { return &mappingRepo{db: t.tx} }
func (t *pgTx) Sessions() repository.SessionRepository            { return &sessionRepo{db: t.tx} }
func (t *pgTx) BulkImport() repository.BulkImportRepository       { return &bulkRepo{db: t.tx} }

func (t *pgTx) NonAuth(domain repository.NonAuthDomain) repository.NonAuthRepository {
	return &nonAuthRepo{db: t.tx, domain: domain}
}

// Savepoint usa una pseudo-transacción anidada de pgx (SAVEPOINT / RELEASE).
func (t *pgTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return mapErr("savepoint", err)
	}
	if err := fn(ctx, &pgTx{tx: nested}); err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil {
			return errors.Join(err, mapErr("rollback to savepoint", rbErr))
		}
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return mapErr("release savepoint", err)
	}
	return nil
}

// ─── Errores ───

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// mapErr traduce errores de pgx a los sentinels del dominio.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("pg: %s: %s: %w", op, pgErr.ConstraintName, repository.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("pg: %s: %s: %w", op, pgErr.ConstraintName, repository.ErrNotFound)
		}
	}
	return fmt.Errorf("pg: %s: %w", op, err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}
