// Package roomrepo implements the Room Repository (spec §4.2): it owns
// Room records exclusively, encoding/decoding them as a single JSON blob
// per room and performing atomic mutations through the Shared State Store.
package roomrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/store"
)

var (
	ErrConflict = errors.New("roomrepo: room already exists")
	ErrNotFound = errors.New("roomrepo: room not found")
)

// Notifier is the narrow slice of the Broadcast Bus the repository needs:
// publishing a RoomChanged event after a successful mutation. The actual
// wire-visible broadcast (RoomUpdate vs. a command-specific targeted
// event) is decided by the Command Dispatcher, which calls Mutate
// directly and crafts its own frame; Notifier exists so non-dispatcher
// callers of Mutate (the Lifecycle Worker's integrity pass and reverse
// sync) still surface a RoomChanged signal without duplicating the
// dispatcher's bus wiring. Eviction deletes the room and does not pass
// through Mutate, so it raises no RoomChanged.
type Notifier interface {
	NotifyRoomChanged(ctx context.Context, roomID string, room *domain.Room)
}

type Repository struct {
	store    store.Store
	notifier Notifier
}

func New(s store.Store, notifier Notifier) *Repository {
	return &Repository{store: s, notifier: notifier}
}

func roomKey(id string) string {
	return "room:" + id
}

func (r *Repository) Create(ctx context.Context, room *domain.Room) error {
	exists, err := r.store.Exists(ctx, roomKey(room.ID))
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}

	blob, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("roomrepo: encode room: %w", err)
	}

	// AtomicUpdate on a fresh key is the same create-if-absent primitive
	// the rest of the repository uses, so a create racing another create
	// for the same (improbable, re-rolled) id still can't double-write.
	return r.store.AtomicUpdate(ctx, roomKey(room.ID), func(current []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrConflict
		}
		return blob, nil
	})
}

func (r *Repository) Load(ctx context.Context, roomID string) (*domain.Room, error) {
	blob, err := r.store.Get(ctx, roomKey(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var room domain.Room
	if err := json.Unmarshal(blob, &room); err != nil {
		return nil, fmt.Errorf("roomrepo: decode room %s: %w", roomID, err)
	}
	return &room, nil
}

// MutateFunc is applied to the current Room to produce the next Room. It
// must be pure and idempotent and may reject the mutation by returning an
// error, in which case no write happens and no event is emitted.
type MutateFunc func(room *domain.Room) error

// Mutate performs an atomic read-modify-write and, on success, emits a
// RoomChanged event through the Broadcast Bus before returning the new
// Room. fn runs inside the store's OCC retry loop so it may be invoked
// more than once per call — it must not have side effects beyond mutating
// the Room it's given.
func (r *Repository) Mutate(ctx context.Context, roomID string, fn MutateFunc) (*domain.Room, error) {
	var result domain.Room
	var mutateErr error

	err := r.store.AtomicUpdate(ctx, roomKey(roomID), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			mutateErr = ErrNotFound
			return nil, ErrNotFound
		}

		var room domain.Room
		if err := json.Unmarshal(current, &room); err != nil {
			return nil, fmt.Errorf("roomrepo: decode room %s: %w", roomID, err)
		}

		if err := fn(&room); err != nil {
			mutateErr = err
			return nil, err
		}

		room.Version++
		room.Touch()

		blob, err := json.Marshal(&room)
		if err != nil {
			return nil, fmt.Errorf("roomrepo: encode room %s: %w", roomID, err)
		}

		result = room
		return blob, nil
	})

	if err != nil {
		if mutateErr != nil {
			return nil, mutateErr
		}
		return nil, err
	}

	if r.notifier != nil {
		r.notifier.NotifyRoomChanged(ctx, roomID, &result)
	}

	return &result, nil
}

func (r *Repository) Delete(ctx context.Context, roomID string) error {
	return r.store.Delete(ctx, roomKey(roomID))
}

func (r *Repository) ExistsID(ctx context.Context, roomID string) (bool, error) {
	return r.store.Exists(ctx, roomKey(roomID))
}

// ListRoomIDs is used by the Lifecycle Worker's sweeps.
func (r *Repository) ListRoomIDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.ListKeysWithPrefix(ctx, "room:")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len("room:"):])
	}
	return ids, nil
}
