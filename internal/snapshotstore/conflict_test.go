package snapshotstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/clause"
)

func TestOnConflictUpdate_KeysOnGivenColumnAndOverwritesBlobAndTimestamp(t *testing.T) {
	got := onConflictUpdate("room_id")

	assert.Equal(t, []clause.Column{{Name: "room_id"}}, got.Columns)
	assert.Equal(t, clause.AssignmentColumns([]string{"blob", "updated_at"}), got.DoUpdates)
}

func TestOnConflictUpdate_UsesTheGivenColumnForDifferentTables(t *testing.T) {
	got := onConflictUpdate("client_id")

	assert.Equal(t, []clause.Column{{Name: "client_id"}}, got.Columns)
}
