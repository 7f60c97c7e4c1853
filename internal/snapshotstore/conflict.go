package snapshotstore

import (
	"gorm.io/gorm/clause"
)

// onConflictUpdate makes CreateInBatches an upsert keyed on conflictColumn,
// overwriting blob/updated_at on a repeat write — the snapshot job always
// writes the current state of a room or client, never appends.
func onConflictUpdate(conflictColumn string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: conflictColumn}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}
}
