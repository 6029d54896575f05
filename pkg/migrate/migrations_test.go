package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/migrate"
)

func TestProposalMigrationContainsSchema(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_proposals.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CREATE TYPE proposal_status AS ENUM ('voting', 'approved', 'rejected')",
		"CREATE TABLE IF NOT EXISTS proposals",
		"price numeric(12,2) NOT NULL CHECK (price >= 0)",
		"PRIMARY KEY (proposal_id, member_id)",
		"REFERENCES proposals(id) ON DELETE CASCADE",
		"CREATE INDEX IF NOT EXISTS idx_proposal_messages_order ON proposal_messages (proposal_id, created_at, id)",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestSQLiteSchemaApplies(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migrate_schema?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migrate.ApplySQLite(conn))
	require.NoError(t, migrate.ApplySQLite(conn))

	for _, table := range []string{"groups", "group_members", "proposals", "proposal_votes", "proposal_messages", "outbox_events", "outbox_dlq", "notifications"} {
		assert.True(t, conn.Migrator().HasTable(table), "missing table %s", table)
	}
	for _, stmt := range migrate.SQLiteStatements() {
		assert.False(t, strings.HasPrefix(stmt, "--"))
	}
}
