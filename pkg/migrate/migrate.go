package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/resale-ledger/pkg/logger"
)

// DefaultDir is where the SQL files live in the source tree.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source picks the migration files. The zero value uses the copy compiled
// into the binary; Dir reads from disk instead, which is what `create` and
// local iteration want.
type Source struct {
	Dir string
}

// FS returns the file system holding the .sql files at its root.
func (s Source) FS() (fs.FS, error) {
	if s.Dir != "" {
		return os.DirFS(s.Dir), nil
	}
	return fs.Sub(embedded, "migrations")
}

func (s Source) String() string {
	if s.Dir != "" {
		return s.Dir
	}
	return "embedded"
}

// Runner applies the Postgres SQL migrations. SQLite databases are built
// from the models by AutoMigrate instead.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, src Source, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := src.FS()
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", src, err)
	}
	if err := Validate(fsys); err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	r.report(ctx, results)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.report(ctx, []*goose.MigrationResult{result})
	}
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To migrates up or down until target is the current version.
func (r *Runner) To(ctx context.Context, target int64) error {
	current, err := r.Version(ctx)
	if err != nil {
		return err
	}
	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.report(ctx, results)
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func (r *Runner) Version(ctx context.Context) (int64, error) {
	version, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	return version, nil
}

// State is one migration file and whether it has been applied.
type State struct {
	Version   int64
	File      string
	Applied   bool
	AppliedAt time.Time
}

func (r *Runner) Status(ctx context.Context) ([]State, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]State, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, State{
			Version:   st.Source.Version,
			File:      filepath.Base(st.Source.Path),
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

func (r *Runner) report(ctx context.Context, results []*goose.MigrationResult) {
	if r.logg == nil {
		return
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		fields := r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"file":        filepath.Base(res.Source.Path),
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		})
		if res.Error != nil {
			r.logg.Error(fields, "migration failed", res.Error)
			continue
		}
		r.logg.Info(fields, "migration applied")
	}
}
