package command

import (
	"context"
	"errors"

	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/wsrouter"
)

func (d *Dispatcher) handlePlay(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcastPlayer(ctx, conn, func(r *domain.Room) error {
		r.Play()
		return nil
	}, func(r *domain.Room) []byte {
		return playFrame(r.CurrentTime)
	})
	return nil
}

func (d *Dispatcher) handlePause(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcastPlayer(ctx, conn, func(r *domain.Room) error {
		r.Pause()
		return nil
	}, func(r *domain.Room) []byte {
		return pauseFrame()
	})
	return nil
}

func (d *Dispatcher) handleReplay(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	d.mutateAndBroadcastPlayer(ctx, conn, func(r *domain.Room) error {
		if err := r.Replay(); err != nil {
			if errors.Is(err, domain.ErrNothingPlaying) {
				return coded(CodeInvalidMessage, err)
			}
			return err
		}
		return nil
	}, func(r *domain.Room) []byte {
		return replayFrame()
	})
	return nil
}

type seekPayload struct {
	Time float64 `json:"time"`
}

func (d *Dispatcher) handleSeek(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	var p seekPayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.mutateAndBroadcastPlayer(ctx, conn, func(r *domain.Room) error {
		r.Seek(p.Time)
		return nil
	}, func(r *domain.Room) []byte {
		return currentTimeChangedFrame(r.CurrentTime)
	})
	return nil
}

type setVolumePayload struct {
	Volume int `json:"volume"`
}

func (d *Dispatcher) handleSetVolume(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	var p setVolumePayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.mutateAndBroadcastPlayer(ctx, conn, func(r *domain.Room) error {
		r.SetVolume(p.Volume)
		return nil
	}, func(r *domain.Room) []byte {
		return volumeChangedFrame(r.Volume)
	})
	return nil
}

// mutateAndBroadcastPlayer applies fn to the sender's room and, on
// success, broadcasts the command-specific "targeted event" frame'd by
// buildFrame instead of the generic RoomUpdate (spec §4.6: play, pause,
// replay, seek, and setVolume each have their own event type).
func (d *Dispatcher) mutateAndBroadcastPlayer(ctx context.Context, conn wsrouter.Conn, fn func(*domain.Room) error, buildFrame func(*domain.Room) []byte) {
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

	d.broadcastTargeted(ctx, roomID, buildFrame(room))
}
