package store

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Las migraciones SQL se embeben en el binario (ver migrations/postgres).
// Formato de archivo: {version}_{name}.sql (ej: 0001_init.sql)

// Executor ejecuta SQL contra la base a migrar.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) RowScanner
}

// RowScanner es el subset de pgx.Row que usa el migrator.
type RowScanner interface {
	Scan(dest ...any) error
}

// Migratable lo implementan los storages con esquema SQL.
type Migratable interface {
	MigrationExecutor() Executor
}

// Migrator aplica migraciones SQL a una base de datos.
type Migrator struct {
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator crea un nuevo Migrator.
func NewMigrator(migrationsFS fs.FS, migrationsDir string) *Migrator {
	return &Migrator{
		migrationsFS:  migrationsFS,
		migrationsDir: migrationsDir,
	}
}

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Failed   *int
	Duration time.Duration
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y parsea las migraciones del FS, ordenadas por versión.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(m.migrationsFS, m.migrationsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := migrationFilePattern.FindStringSubmatch(path.Base(p))
		if matches == nil {
			return nil // Ignorar archivos que no coinciden
		}

		version, _ := strconv.Atoi(matches[1])
		content, err := fs.ReadFile(m.migrationsFS, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		migrations = append(migrations, Migration{Version: version, Name: matches[2], SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", migrations[i].Version)
		}
	}
	return migrations, nil
}

// Run aplica las migraciones pendientes.
func (m *Migrator) Run(ctx context.Context, exec Executor) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{}
	fail := func(err error) (*MigrationResult, error) {
		result.Duration = time.Since(start)
		return result, err
	}

	const createSQL = `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`
	if err := exec.Exec(ctx, createSQL); err != nil {
		return fail(fmt.Errorf("creating migrations table: %w", err))
	}

	applied, err := m.appliedVersions(ctx, exec)
	if err != nil {
		return fail(fmt.Errorf("getting applied migrations: %w", err))
	}

	migrations, err := m.ParseMigrations()
	if err != nil {
		return fail(fmt.Errorf("parsing migrations: %w", err))
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}

		if err := exec.Exec(ctx, mig.SQL); err != nil {
			v := mig.Version
			result.Failed = &v
			return fail(fmt.Errorf("applying migration %d_%s: %w", mig.Version, mig.Name, err))
		}
		if err := exec.Exec(ctx, "INSERT INTO _migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
			v := mig.Version
			result.Failed = &v
			return fail(fmt.Errorf("recording migration %d: %w", mig.Version, err))
		}

		result.Applied = append(result.Applied, mig.Version)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// appliedVersions lee las versiones registradas en una sola fila.
func (m *Migrator) appliedVersions(ctx context.Context, exec Executor) (map[int]bool, error) {
	var csv string
	row := exec.QueryRow(ctx, "SELECT COALESCE(string_agg(version::text, ','), '') FROM _migrations")
	if err := row.Scan(&csv); err != nil {
		return nil, err
	}

	applied := make(map[int]bool)
	if csv == "" {
		return applied, nil
	}
	for _, s := range strings.Split(csv, ",") {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("bad version %q: %w", s, err)
		}
		applied[v] = true
	}
	return applied, nil
}
