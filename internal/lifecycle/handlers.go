package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/clipsync/server/internal/clientrepo"
	"github.com/clipsync/server/internal/command"
	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/roomrepo"
	"github.com/clipsync/server/internal/snapshotstore"
	"github.com/hibiken/asynq"
)

// Handlers implements the four periodic jobs registered by Worker.Register.
// Grounded on quqxiaoli-collaborative-blackboard's worker task handlers,
// which follow the same shape: load candidates, act, log, swallow
// transient failures so one bad record doesn't kill the whole sweep.
type Handlers struct {
	rooms     *roomrepo.Repository
	clients   *clientrepo.Repository
	evictor   *command.Dispatcher
	snapshots *snapshotstore.Store // nil when no durable store is configured (§6)
	cfg       Config
	logger    *slog.Logger
}

func NewHandlers(rooms *roomrepo.Repository, clients *clientrepo.Repository, evictor *command.Dispatcher, snapshots *snapshotstore.Store, cfg Config, logger *slog.Logger) *Handlers {
	return &Handlers{rooms: rooms, clients: clients, evictor: evictor, snapshots: snapshots, cfg: cfg, logger: logger}
}

const (
	retryAttempts = 3
	retryBase     = time.Second
)

// withRetry runs fn up to retryAttempts times with exponential backoff
// (base 1s) and returns the last failure (or ctx's error if ctx ends
// first); its callers log that error as a warning and carry on, per
// §4.7's "transient failures are retried, then swallowed" policy. Used
// for snapshot/reverse-sync, not for the sweeps
// (which already loop per-record and let one failure skip one record).
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBase * time.Duration(1<<attempt)):
		}
	}
	return err
}

// HandleInactivitySweep evicts rooms with no members or with no activity
// past the configured timeout, and drops orphaned client:* records whose
// room no longer exists (§4.7, runs every 10 minutes).
func (h *Handlers) HandleInactivitySweep(ctx context.Context, _ *asynq.Task) error {
	roomIDs, err := h.rooms.ListRoomIDs(ctx)
	if err != nil {
		return err
	}

	now := domain.NowMillis()
	liveRooms := make(map[string]struct{}, len(roomIDs))

	for _, id := range roomIDs {
		room, err := h.rooms.Load(ctx, id)
		if errors.Is(err, roomrepo.ErrNotFound) {
			continue // raced with a concurrent delete; nothing to evict
		}
		if err != nil {
			h.logger.ErrorContext(ctx, "lifecycle: load room for sweep failed", "roomId", id, "error", err)
			continue
		}

		if h.shouldEvict(room, now) {
			h.evictor.EvictRoom(ctx, room, "Room closed due to inactivity")
			continue
		}
		liveRooms[id] = struct{}{}
	}

	clientIDs, err := h.clients.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range clientIDs {
		rec, ok, err := h.clients.Lookup(ctx, id)
		if err != nil || !ok {
			continue
		}
		if rec.HasRoom {
			if _, live := liveRooms[rec.RoomID]; live {
				continue
			}
			// roomId references a room that no longer exists: dropped
			// unconditionally, regardless of lastSeen.
		} else if time.Since(rec.LastSeen) <= h.cfg.OrphanTimeout {
			continue // no room yet, but still within the 24h grace window
		}
		if err := h.clients.Unbind(ctx, id); err != nil {
			h.logger.ErrorContext(ctx, "lifecycle: unbind orphan client failed", "clientId", id, "error", err)
		}
	}
	return nil
}

// shouldEvict implements §4.7's timeout extension: a room actively
// playing a video is given max(MinVideoTimeoutHours, VideoDurationMultiplier
// x video duration) of grace instead of the flat InactiveTimeout.
func (h *Handlers) shouldEvict(room *domain.Room, nowMillis int64) bool {
	if len(room.Clients) == 0 {
		return true
	}

	timeout := h.cfg.InactiveTimeout
	if room.PlayingNow != nil && room.IsPlaying {
		videoTimeout := time.Duration(float64(room.PlayingNow.DurationSeconds)*h.cfg.VideoDurationMultiplier) * time.Second
		minTimeout := time.Duration(h.cfg.MinVideoTimeoutHours * float64(time.Hour))
		if videoTimeout > minTimeout {
			timeout = videoTimeout
		} else {
			timeout = minTimeout
		}
		if timeout < h.cfg.InactiveTimeout {
			timeout = h.cfg.InactiveTimeout
		}
	}

	idle := time.Duration(nowMillis-room.LastActivity) * time.Millisecond
	return idle > timeout
}

// HandleSnapshot copies every room and client record into the durable
// store, per §4.7's 10-minute snapshot job. A no-op when no durable store
// is configured (spec §6: snapshotting is skipped if neither MONGODB_URI
// nor DATABASE_URL is set).
func (h *Handlers) HandleSnapshot(ctx context.Context, _ *asynq.Task) error {
	if h.snapshots == nil {
		return nil
	}

	roomIDs, err := h.rooms.ListRoomIDs(ctx)
	if err != nil {
		return err
	}

	batch := make([]snapshotstore.RoomSnapshot, 0, batchSizeHint)
	for _, id := range roomIDs {
		room, err := h.rooms.Load(ctx, id)
		if err != nil {
			continue
		}
		blob, err := json.Marshal(room)
		if err != nil {
			continue
		}
		batch = append(batch, snapshotstore.RoomSnapshot{RoomID: id, Blob: blob, UpdatedAt: time.Now()})
		if len(batch) == batchSizeHint {
			if err := withRetry(ctx, func() error { return h.snapshots.UpsertRooms(ctx, batch) }); err != nil {
				h.logger.ErrorContext(ctx, "lifecycle: snapshot room batch failed", "error", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := withRetry(ctx, func() error { return h.snapshots.UpsertRooms(ctx, batch) }); err != nil {
			h.logger.ErrorContext(ctx, "lifecycle: snapshot room batch failed", "error", err)
		}
	}

	clientIDs, err := h.clients.ListIDs(ctx)
	if err != nil {
		return err
	}
	cbatch := make([]snapshotstore.ClientSnapshot, 0, batchSizeHint)
	for _, id := range clientIDs {
		rec, ok, err := h.clients.Lookup(ctx, id)
		if err != nil || !ok {
			continue
		}
		blob, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		cbatch = append(cbatch, snapshotstore.ClientSnapshot{ClientID: id, Blob: blob, UpdatedAt: time.Now()})
		if len(cbatch) == batchSizeHint {
			if err := withRetry(ctx, func() error { return h.snapshots.UpsertClients(ctx, cbatch) }); err != nil {
				h.logger.ErrorContext(ctx, "lifecycle: snapshot client batch failed", "error", err)
			}
			cbatch = cbatch[:0]
		}
	}
	if len(cbatch) > 0 {
		if err := withRetry(ctx, func() error { return h.snapshots.UpsertClients(ctx, cbatch) }); err != nil {
			h.logger.ErrorContext(ctx, "lifecycle: snapshot client batch failed", "error", err)
		}
	}
	return nil
}

const batchSizeHint = 100

// HandleReverseSync streams every durable record back and re-writes it
// into the Shared State Store (§4.7's hourly reverse-sync), repairing any
// drift introduced by a Redis restore from an older snapshot.
func (h *Handlers) HandleReverseSync(ctx context.Context, _ *asynq.Task) error {
	if h.snapshots == nil {
		return nil
	}

	err := h.snapshots.AllRooms(ctx, func(row snapshotstore.RoomSnapshot) error {
		var room domain.Room
		if err := json.Unmarshal(row.Blob, &room); err != nil {
			h.logger.ErrorContext(ctx, "lifecycle: decode snapshot room failed", "roomId", row.RoomID, "error", err)
			return nil
		}
		exists, err := h.rooms.ExistsID(ctx, row.RoomID)
		if err != nil {
			return err
		}
		if !exists {
			return withRetry(ctx, func() error { return h.rooms.Create(ctx, &room) })
		}
		_, err = h.rooms.Mutate(ctx, row.RoomID, func(r *domain.Room) error {
			*r = room
			return nil
		})
		return err
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "lifecycle: reverse sync rooms failed", "error", err)
	}

	err = h.snapshots.AllClients(ctx, func(row snapshotstore.ClientSnapshot) error {
		var rec clientrepo.Record
		if err := json.Unmarshal(row.Blob, &rec); err != nil {
			h.logger.ErrorContext(ctx, "lifecycle: decode snapshot client failed", "clientId", row.ClientID, "error", err)
			return nil
		}
		return withRetry(ctx, func() error { return h.clients.Restore(ctx, row.ClientID, rec) })
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "lifecycle: reverse sync clients failed", "error", err)
	}

	return nil
}

// HandleIntegrityPass runs daily at 03:00 (§4.7): drops client:* entries
// whose room no longer exists, and filters each room's member list to
// clients that still have a persisted client:* record, repairing any
// divergence the incremental sweeps missed.
func (h *Handlers) HandleIntegrityPass(ctx context.Context, _ *asynq.Task) error {
	roomIDs, err := h.rooms.ListRoomIDs(ctx)
	if err != nil {
		return err
	}
	liveRooms := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		liveRooms[id] = struct{}{}
	}

	clientIDs, err := h.clients.ListIDs(ctx)
	if err != nil {
		return err
	}
	liveClients := make(map[string]struct{}, len(clientIDs))
	for _, id := range clientIDs {
		rec, ok, err := h.clients.Lookup(ctx, id)
		if err != nil || !ok {
			continue
		}
		if rec.HasRoom {
			if _, live := liveRooms[rec.RoomID]; !live {
				_ = h.clients.Unbind(ctx, id)
				continue
			}
		}
		liveClients[id] = struct{}{}
	}

	for id := range liveRooms {
		_, err := h.rooms.Mutate(ctx, id, func(r *domain.Room) error {
			kept := make([]domain.ClientProfile, 0, len(r.Clients))
			for _, c := range r.Clients {
				if _, ok := liveClients[c.ID]; ok {
					kept = append(kept, c)
				}
			}
			r.Clients = kept
			return nil
		})
		if err != nil && !errors.Is(err, roomrepo.ErrNotFound) {
			h.logger.ErrorContext(ctx, "lifecycle: integrity pass mutate failed", "roomId", id, "error", err)
		}
	}
	return nil
}
