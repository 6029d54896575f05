package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const gooseBody = "-- +goose Up\nCREATE TABLE IF NOT EXISTS proposals (id uuid);\n-- +goose Down\nDROP TABLE proposals;\n"

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateDir(EmbeddedDir))
}

func TestValidateFSCollectsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101000000_ok.sql":        {Data: []byte(gooseBody)},
		"20260101000000_dupe.sql":      {Data: []byte(gooseBody)},
		"bad-name.sql":                 {Data: []byte(gooseBody)},
		"20260102000000_no_down.sql":   {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"20260103000000_new_table.sql": {Data: []byte("-- +goose Up\nCREATE TABLE IF NOT EXISTS proposal_tags (id uuid);\n-- +goose Down\n")},
		"README.md":                    {Data: []byte("ignored")},
	}

	err := ValidateFS(fsys)
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 4)
	assert.ErrorContains(t, err, "duplicate migration version 20260101000000")
	assert.ErrorContains(t, err, `invalid migration filename "bad-name.sql"`)
	assert.ErrorContains(t, err, `missing "-- +goose Down"`)
	assert.ErrorContains(t, err, "table proposal_tags")
}

func TestCreatedTables(t *testing.T) {
	script := "CREATE TABLE IF NOT EXISTS groups (id uuid);\ncreate table if not exists Group_Members (x int);"
	assert.Equal(t, []string{"groups", "group_members"}, CreatedTables(script))
}

func TestCreateSQLMigration(t *testing.T) {
	orig := now
	now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }
	t.Cleanup(func() { now = orig })

	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Proposal  Tags!")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260506070809_add_proposal_tags.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "-- +goose Down")

	_, err = CreateSQLMigration(dir, "add proposal tags")
	assert.ErrorContains(t, err, "already exists")

	_, err = CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}
