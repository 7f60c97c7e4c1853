// Package snapshotstore is the durable secondary store the Lifecycle
// Worker snapshots the Shared State Store into (spec §4.7, §6's
// MONGODB_URI). Grounded on corey-burns-dev-vibeshift's
// database.Connect (gorm + gorm.io/driver/postgres); the spec's named
// Mongo driver isn't present anywhere in the retrieval pack, so this
// substitutes the pack's own durable-store stack instead of hand-rolling
// a Mongo client.
package snapshotstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RoomSnapshot is a single room's durable row. The full Room blob is
// kept as JSON text rather than normalized across tables — the durable
// store only ever needs to round-trip opaque Room/Client records, never
// to query into their fields.
type RoomSnapshot struct {
	RoomID    string `gorm:"primaryKey;column:room_id"`
	Blob      []byte `gorm:"column:blob"`
	UpdatedAt time.Time
}

type ClientSnapshot struct {
	ClientID  string `gorm:"primaryKey;column:client_id"`
	Blob      []byte `gorm:"column:blob"`
	UpdatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// Connect opens the durable store using dsn (spec §6 accepts both
// MONGODB_URI and DATABASE_URL; the caller resolves which env var to
// read before calling Connect). A nil Store return with nil error never
// happens — callers skip Connect entirely when neither var is set,
// matching "snapshotting is skipped if unset".
func Connect(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: connect: %w", err)
	}

	if err := db.AutoMigrate(&RoomSnapshot{}, &ClientSnapshot{}); err != nil {
		return nil, fmt.Errorf("snapshotstore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

const batchSize = 100

// UpsertRooms writes rooms in batches of 100, one transaction per batch,
// per §4.7's snapshot job.
func (s *Store) UpsertRooms(ctx context.Context, rooms []RoomSnapshot) error {
	return s.upsertBatched(ctx, rooms, "room_id")
}

func (s *Store) UpsertClients(ctx context.Context, clients []ClientSnapshot) error {
	return s.upsertBatched(ctx, clients, "client_id")
}

func (s *Store) upsertBatched(ctx context.Context, rows any, conflictColumn string) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{CreateBatchSize: batchSize}).
		Clauses(onConflictUpdate(conflictColumn)).
		CreateInBatches(rows, batchSize).Error
}

// AllRooms opens a streaming cursor over every room row, for the
// reverse-sync job (§4.7: "process opens a streaming cursor and writes
// back all records").
func (s *Store) AllRooms(ctx context.Context, fn func(RoomSnapshot) error) error {
	rows, err := s.db.WithContext(ctx).Model(&RoomSnapshot{}).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row RoomSnapshot
		if err := s.db.ScanRows(rows, &row); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) AllClients(ctx context.Context, fn func(ClientSnapshot) error) error {
	rows, err := s.db.WithContext(ctx).Model(&ClientSnapshot{}).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row ClientSnapshot
		if err := s.db.ScanRows(rows, &row); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
