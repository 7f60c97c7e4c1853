package command

import (
	"context"
	"errors"
	"time"

	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/wsrouter"
)

// videoPayload mirrors domain.Video's wire shape exactly, so commands
// that carry a full video descriptor (addVideo, playNow, ...) can
// unmarshal straight into one and hand it to the domain layer.
type videoPayload = domain.Video

func (d *Dispatcher) handleAddVideo(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.withRoomAndVideo(ctx, conn, env, func(room *domain.Room, v domain.Video) error {
		if err := room.AddVideo(v); err != nil {
			if errors.Is(err, domain.ErrVideoAlreadyInQueue) {
				return coded(CodeAlreadyInQueue, err)
			}
			return err
		}
		return nil
	})
	return nil
}

func (d *Dispatcher) handleAddVideoAndMoveToTop(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.withRoomAndVideo(ctx, conn, env, func(room *domain.Room, v domain.Video) error {
		room.AddVideoAndMoveToTop(v)
		return nil
	})
	return nil
}

// withRoomAndVideo is the shared shape behind addVideo and
// addVideoAndMoveToTop: parse a video payload, require it to be
// embeddable, then apply mutate to the room.
func (d *Dispatcher) withRoomAndVideo(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope, mutate func(*domain.Room, domain.Video) error) {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return
	}

	var v videoPayload
	if err := unmarshalPayload(env, &v); err != nil {
		d.reply(ctx, conn, err)
		return
	}

	embeddable, err := d.assets.IsEmbeddable(ctx, v.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "command: isEmbeddable failed", "videoId", v.ID, "error", err)
		d.reply(ctx, conn, coded(CodeInternalError, err))
		return
	}
	if !embeddable {
		d.reply(ctx, conn, coded(CodeVideoNotEmbeddable, nil))
		return
	}

	room, err := d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
		return mutate(r, v)
	})
	if err != nil {
		d.reply(ctx, conn, err)
		return
	}

	d.broadcastRoomUpdate(ctx, roomID, room)
}

type videoIDPayload struct {
	VideoID string `json:"videoId" validate:"required"`
}

func (d *Dispatcher) handleRemoveVideoFromQueue(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	var p videoIDPayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	room, err := d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
		r.RemoveVideoFromQueue(p.VideoID)
		return nil
	})
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.broadcastRoomUpdate(ctx, roomID, room)
	return nil
}

func (d *Dispatcher) handleMoveToTop(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	var p videoIDPayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	room, err := d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
		if err := r.MoveToTop(p.VideoID); err != nil {
			if errors.Is(err, domain.ErrVideoNotFound) {
				return coded(CodeVideoNotFound, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.broadcastRoomUpdate(ctx, roomID, room)
	return nil
}

func (d *Dispatcher) handleShuffleQueue(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcast(ctx, conn, func(r *domain.Room) error {
		r.ShuffleQueue()
		return nil
	})
	return nil
}

func (d *Dispatcher) handleClearQueue(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcast(ctx, conn, func(r *domain.Room) error {
		r.ClearQueue()
		return nil
	})
	return nil
}

func (d *Dispatcher) handleClearHistory(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcast(ctx, conn, func(r *domain.Room) error {
		r.ClearHistory()
		return nil
	})
	return nil
}

func (d *Dispatcher) handlePlayNow(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.withRoomAndVideo(ctx, conn, env, func(room *domain.Room, v domain.Video) error {
		room.PlayNow(v)
		return nil
	})
	return nil
}

func (d *Dispatcher) handleNextVideo(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcast(ctx, conn, func(r *domain.Room) error {
		r.NextVideo()
		return nil
	})
	return nil
}

// mutateAndBroadcast is the common shape for commands that require room
// membership, take no payload, mutate unconditionally, and broadcast the
// generic RoomUpdate on success.
func (d *Dispatcher) mutateAndBroadcast(ctx context.Context, conn wsrouter.Conn, fn func(*domain.Room) error) {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return
	}

	room, err := d.rooms.Mutate(ctx, roomID, fn)
	if err != nil {
		d.reply(ctx, conn, err)
		return
	}

	d.broadcastRoomUpdate(ctx, roomID, room)
}

type importPlaylistPayload struct {
	Ref string `json:"ref" validate:"required"`
}

const (
	importBatchSize  = 50
	importMaxEntries = 200
	importPause      = 100 * time.Millisecond
)

// handleImportPlaylist expands ref through the External Asset Adapter
// (bounded to 200 entries), then filters and appends survivors to the
// queue in batches of 50 with a pause between batches, per §4.6.
func (d *Dispatcher) handleImportPlaylist(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	var p importPlaylistPayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	entries, err := d.assets.ExpandPlaylist(ctx, p.Ref)
	if err != nil {
		d.logger.ErrorContext(ctx, "command: expandPlaylist failed", "ref", p.Ref, "error", err)
		d.reply(ctx, conn, coded(CodeInternalError, err))
		return nil
	}
	if len(entries) > importMaxEntries {
		entries = entries[:importMaxEntries]
	}

	var room *domain.Room
	for batchStart := 0; batchStart < len(entries); batchStart += importBatchSize {
		batch := entries[batchStart:min(batchStart+importBatchSize, len(entries))]

		survivors := make([]domain.Video, 0, len(batch))
		for _, v := range batch {
			embeddable, err := d.assets.IsEmbeddable(ctx, v.ID)
			if err != nil {
				d.logger.ErrorContext(ctx, "command: isEmbeddable failed during import", "videoId", v.ID, "error", err)
				continue
			}
			if embeddable {
				survivors = append(survivors, v)
			}
		}

		room, err = d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
			for _, v := range survivors {
				_ = r.AddVideo(v) // duplicates (AlreadyInQueue) are silently skipped for imports
			}
			return nil
		})
		if err != nil {
			d.reply(ctx, conn, err)
			return nil
		}

		if batchStart+importBatchSize < len(entries) {
			time.Sleep(importPause)
		}
	}

	if room != nil {
		d.broadcastRoomUpdate(ctx, roomID, room)
	}
	return nil
}
