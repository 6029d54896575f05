package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
)

var (
	migrationNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	slugCleanRe     = regexp.MustCompile(`[^a-z0-9]+`)
	createTableRe   = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS\s+([a-z_]+)`)
)

// now is swapped in tests so generated versions are predictable.
var now = time.Now

// ValidateDir checks the migrations in dir. EmbeddedDir validates the set
// compiled into the binary.
func ValidateDir(dir string) error {
	fsys, err := migrationsFS(dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return ValidateFS(fsys)
}

// ValidateFS reports every malformed migration in fsys at once: bad file
// names, duplicate versions, missing goose annotations, and tables that the
// sqlite schema does not mirror.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var errs error
	versions := map[string]string{}
	tables := map[string]string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := migrationNameRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, ok := versions[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
		}
		versions[m[1]] = name

		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %q: %w", name, err))
			continue
		}
		body := string(raw)
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(body, marker) {
				errs = multierr.Append(errs, fmt.Errorf("migration %q missing %q", name, marker))
			}
		}
		for _, table := range CreatedTables(body) {
			tables[table] = name
		}
	}

	mirrored := map[string]bool{}
	for _, table := range CreatedTables(sqliteSchema) {
		mirrored[table] = true
	}
	missing := make([]string, 0)
	for table := range tables {
		if !mirrored[table] {
			missing = append(missing, table)
		}
	}
	sort.Strings(missing)
	for _, table := range missing {
		errs = multierr.Append(errs, fmt.Errorf("table %s from %q has no sqlite equivalent", table, tables[table]))
	}
	return errs
}

// CreatedTables lists the tables a SQL script creates, in order.
func CreatedTables(script string) []string {
	var out []string
	for _, m := range createTableRe.FindAllStringSubmatch(script, -1) {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<slug>.sql and returns its path.
func CreateSQLMigration(dir string, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := migrationSlug(name)
	if slug == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now().UTC().Format("20060102150405"), slug))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("migration already exists: %s", path)
	}

	body := fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- mirror new tables in pkg/migrate/sqlite/schema.sql
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`, slug)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

func migrationSlug(name string) string {
	slug := slugCleanRe.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(slug, "_")
}
