// Package clientrepo implements the persisted half of the Client Registry
// (spec §4.3): client:<id> -> hash{room_id, last_seen}, used for reconnect
// routing and orphan cleanup. Grounded on the hash-field access patterns in
// the teacher's internal/repository/room/redis/member.go.
package clientrepo

import (
	"context"
	"strconv"
	"time"

	"github.com/clipsync/server/internal/store"
)

type Repository struct {
	store store.Store
}

func New(s store.Store) *Repository {
	return &Repository{store: s}
}

func clientKey(id string) string {
	return "client:" + id
}

// Bind creates or updates the reverse-index entry for a client.
func (r *Repository) Bind(ctx context.Context, clientID, roomID string) error {
	key := clientKey(clientID)
	if err := r.store.HashSet(ctx, key, "room_id", roomID); err != nil {
		return err
	}
	return r.store.HashSet(ctx, key, "last_seen", strconv.FormatInt(time.Now().Unix(), 10))
}

// Touch refreshes last_seen without changing room_id, used by ping/keepalive
// accounting (SPEC_FULL §9 supplemented feature).
func (r *Repository) Touch(ctx context.Context, clientID string) error {
	return r.store.HashSet(ctx, clientKey(clientID), "last_seen", strconv.FormatInt(time.Now().Unix(), 10))
}

// Unbind removes the reverse-index entry entirely (on leaveRoom or
// disconnect cleanup).
func (r *Repository) Unbind(ctx context.Context, clientID string) error {
	return r.store.Delete(ctx, clientKey(clientID))
}

type Record struct {
	RoomID   string
	LastSeen time.Time
	HasRoom  bool
}

func (r *Repository) Lookup(ctx context.Context, clientID string) (Record, bool, error) {
	fields, err := r.store.HashGetAll(ctx, clientKey(clientID))
	if err != nil {
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	rec := Record{RoomID: fields["room_id"], HasRoom: fields["room_id"] != ""}
	if secs, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		rec.LastSeen = time.Unix(secs, 0)
	}
	return rec, true, nil
}

// LookupRoom returns the roomId a client is bound to, or ("", false) if
// the client has no persisted binding.
func (r *Repository) LookupRoom(ctx context.Context, clientID string) (string, bool, error) {
	rec, ok, err := r.Lookup(ctx, clientID)
	if err != nil || !ok {
		return "", false, err
	}
	return rec.RoomID, rec.HasRoom, nil
}

// Restore rewrites a client's hash fields verbatim from rec, preserving
// rec.LastSeen instead of stamping the current time the way Bind does —
// used by the Lifecycle Worker's reverse-sync job (§4.7) to write a
// durable-store record back without disturbing its recorded last-seen.
func (r *Repository) Restore(ctx context.Context, clientID string, rec Record) error {
	key := clientKey(clientID)
	if err := r.store.HashSet(ctx, key, "room_id", rec.RoomID); err != nil {
		return err
	}
	return r.store.HashSet(ctx, key, "last_seen", strconv.FormatInt(rec.LastSeen.Unix(), 10))
}

// ListIDs returns every client:* key's id suffix, for Lifecycle Worker
// sweeps.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.ListKeysWithPrefix(ctx, "client:")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len("client:"):])
	}
	return ids, nil
}
