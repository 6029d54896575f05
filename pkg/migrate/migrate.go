// Package migrate applies the Postgres schema with goose and keeps the
// sqlite mirror used by tests and local runs.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

// DefaultDir is where `cmd/migrate -cmd=create` writes new files.
const DefaultDir = "pkg/migrate/migrations"

// EmbeddedDir selects the migrations compiled into the binary.
const EmbeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

//go:embed sqlite/schema.sql
var sqliteSchema string

// Commands lists what Run accepts.
var Commands = []string{"up", "up-by-one", "down", "redo", "status"}

func migrationsFS(dir string) (fs.FS, error) {
	switch dir {
	case "":
		return nil, errors.New("dir is required")
	case EmbeddedDir:
		return fs.Sub(embedded, EmbeddedDir)
	default:
		return os.DirFS(dir), nil
	}
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := migrationsFS(dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db, fsys)
}

// Run executes one of Commands against dir and returns a line per migration
// touched, or per migration known for "status".
func Run(ctx context.Context, db *sql.DB, dir, command string) ([]string, error) {
	p, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}

	var results []*goose.MigrationResult
	switch command {
	case "up":
		results, err = p.Up(ctx)
	case "up-by-one":
		results, err = single(p.UpByOne(ctx))
	case "down":
		results, err = single(p.Down(ctx))
	case "redo":
		if results, err = single(p.Down(ctx)); err == nil {
			var up []*goose.MigrationResult
			up, err = single(p.UpByOne(ctx))
			results = append(results, up...)
		}
	case "status":
		return status(ctx, p)
	default:
		return nil, fmt.Errorf("unknown migrate command %q", command)
	}
	if err != nil {
		return describe(results), fmt.Errorf("goose %s: %w", command, err)
	}
	return describe(results), nil
}

// MigrateToVersion moves the schema up or down to version (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir, version string) ([]string, error) {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}
	p, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current < target:
		results, err = p.UpTo(ctx, target)
	case current > target:
		results, err = p.DownTo(ctx, target)
	}
	if err != nil {
		return describe(results), fmt.Errorf("goose migrate to %d: %w", target, err)
	}
	return describe(results), nil
}

func single(r *goose.MigrationResult, err error) ([]*goose.MigrationResult, error) {
	if errors.Is(err, goose.ErrNoNextVersion) {
		return nil, nil
	}
	if r == nil {
		return nil, err
	}
	return []*goose.MigrationResult{r}, err
}

func describe(results []*goose.MigrationResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s %d %s (%s)", r.Direction, r.Source.Version, r.Source.Path, r.Duration))
	}
	return out
}

func status(ctx context.Context, p *goose.Provider) ([]string, error) {
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		line := fmt.Sprintf("%d %s %s", s.Source.Version, s.State, s.Source.Path)
		if !s.AppliedAt.IsZero() {
			line += " applied " + s.AppliedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		out = append(out, line)
	}
	return out, nil
}

// ApplySQLite creates the schema on a sqlite database. Goose migrations are
// Postgres-only, so sqlite gets a hand-kept equivalent.
func ApplySQLite(db *gorm.DB) error {
	for _, stmt := range SQLiteStatements() {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

// SQLiteStatements splits the embedded sqlite schema into statements,
// dropping comment lines.
func SQLiteStatements() []string {
	var out []string
	for _, chunk := range strings.Split(sqliteSchema, ";") {
		var kept []string
		for _, line := range strings.Split(chunk, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				kept = append(kept, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(kept, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
