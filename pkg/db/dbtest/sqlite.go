// Package dbtest opens throwaway sqlite databases carrying the service schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/migrate"
)

// Open returns a private in-memory database with every table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=on", name, uuid.NewString()[:8])
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.ApplySQLite(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// MustCreateGroup seeds a group with the given threshold. The first member
// becomes the owner; the rest join as plain members.
func MustCreateGroup(t testing.TB, db *gorm.DB, threshold enums.VotingThreshold, members ...uuid.UUID) *models.Group {
	t.Helper()
	creator := uuid.New()
	if len(members) > 0 {
		creator = members[0]
	}
	group := &models.Group{
		Name:            "Weekend crew",
		VotingThreshold: threshold,
		CreatedBy:       creator,
	}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	for i, member := range members {
		role := enums.MemberRoleMember
		if i == 0 {
			role = enums.MemberRoleOwner
		}
		MustAddMember(t, db, group.ID, member, role)
	}
	return group
}

// MustAddMember inserts a membership row.
func MustAddMember(t testing.TB, db *gorm.DB, groupID, userID uuid.UUID, role enums.MemberRole) {
	t.Helper()
	row := &models.GroupMember{GroupID: groupID, UserID: userID, Role: role}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}
}

// MustCreateProposal seeds a proposal in the voting state.
func MustCreateProposal(t testing.TB, db *gorm.DB, groupID, proposerID uuid.UUID) *models.Proposal {
	t.Helper()
	proposal := &models.Proposal{
		GroupID:    groupID,
		ProposerID: proposerID,
		Name:       "Espresso machine",
		Price:      decimal.RequireFromString("349.99"),
		Status:     enums.ProposalStatusVoting,
	}
	if err := db.Create(proposal).Error; err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return proposal
}

// Members returns n fresh user ids.
func Members(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

// ForceThreshold writes a raw threshold past the schema check so readers can
// be tested against rows written by older or foreign writers.
func ForceThreshold(t testing.TB, db *gorm.DB, groupID uuid.UUID, raw string) {
	t.Helper()
	err := db.Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("PRAGMA ignore_check_constraints = ON").Error; err != nil {
			return err
		}
		defer tx.Exec("PRAGMA ignore_check_constraints = OFF")
		return tx.Exec("UPDATE groups SET voting_threshold = ? WHERE id = ?", raw, groupID).Error
	})
	if err != nil {
		t.Fatalf("force threshold: %v", err)
	}
}
