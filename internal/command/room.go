package command

import (
	"context"
	"errors"

	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/roomrepo"
	"github.com/clipsync/server/internal/wsrouter"
)

// handlePing answers with pong and, per SPEC_FULL §9's ping/keepalive
// accounting, refreshes the client's persisted last_seen so the
// inactivity sweep's orphan grace window (§4.7) keeps tracking real
// activity instead of the moment the client first bound to a room.
func (d *Dispatcher) handlePing(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	if err := d.clients.Touch(ctx, clientID); err != nil {
		d.logger.ErrorContext(ctx, "command: touch client on ping failed", "error", err)
	}
	return conn.Send(pongFrame())
}

type createRoomPayload struct {
	Password string `json:"password" validate:"max=200"`
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)

	var p createRoomPayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	var roomID string
	for {
		candidate := d.roomIDs.GenerateRandomString(6)
		exists, err := d.rooms.ExistsID(ctx, candidate)
		if err != nil {
			d.reply(ctx, conn, err)
			return nil
		}
		if !exists {
			roomID = candidate
			break
		}
	}

	room := domain.NewRoom(roomID, clientID)
	if p.Password != "" {
		hash, err := d.passwords.Hash(p.Password)
		if err != nil {
			d.reply(ctx, conn, coded(CodeInternalError, err))
			return nil
		}
		room.PasswordHash = hash
		room.HasPassword = true
	}

	if err := d.rooms.Create(ctx, room); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	if err := conn.Send(roomCreatedFrame(room.ID)); err != nil {
		return nil
	}

	// createRoom then runs joinRoom's side-effects for the creator (§4.6).
	// The creator already knows the password it just set, so the room's
	// own join path is reused with that same plaintext rather than a
	// separate "admit the creator" code path.
	d.joinExistingRoom(ctx, conn, roomID, p.Password, false)
	return nil
}

type joinRoomPayload struct {
	RoomID   string `json:"roomId" validate:"required,len=6"`
	Password string `json:"password"`
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	var p joinRoomPayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	isRejoin := env.Type == "reJoinRoom"
	d.joinExistingRoom(ctx, conn, p.RoomID, p.Password, isRejoin)
	return nil
}

// joinExistingRoom implements the joinRoom effect shared by createRoom's
// follow-on join, joinRoom proper, and reJoinRoom (which differs only in
// which not-found error code it surfaces).
func (d *Dispatcher) joinExistingRoom(ctx context.Context, conn wsrouter.Conn, roomID, password string, isRejoin bool) {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	notFoundCode := CodeRoomNotFound
	if isRejoin {
		notFoundCode = CodeRejoinRoomNotFound
	}

	room, err := d.rooms.Load(ctx, roomID)
	if errors.Is(err, roomrepo.ErrNotFound) {
		d.reply(ctx, conn, coded(notFoundCode, nil))
		return
	}
	if err != nil {
		d.reply(ctx, conn, err)
		return
	}

	if room.HasPassword && !d.passwords.Verify(room.PasswordHash, password) {
		d.reply(ctx, conn, coded(CodeIncorrectPassword, nil))
		return
	}

	// Leave any current room first (invariant: at most one room per
	// connection).
	if prevRoomID, ok := d.local.LookupRoom(clientID); ok && prevRoomID != roomID {
		d.leaveRoomSideEffects(ctx, clientID, prevRoomID)
	}

	updated, err := d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
		r.AddClient(domain.ClientProfile{ID: clientID})
		return nil
	})
	if err != nil {
		d.reply(ctx, conn, err)
		return
	}

	d.local.Bind(clientID, roomID)
	if err := d.clients.Bind(ctx, clientID, roomID); err != nil {
		d.logger.ErrorContext(ctx, "command: persist client binding failed", "error", err)
	}

	_ = conn.Send(roomJoinedFrame(clientID, updated))
}

// HandleDisconnect performs leaveRoom's side-effects for a connection
// that went away without sending leaveRoom itself — the Connection
// Handler calls this unconditionally on close (spec §4.5 step 5); it is
// a no-op if the connection was never bound to a room.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, clientID string) {
	roomID, ok := d.local.LookupRoom(clientID)
	if !ok {
		return
	}
	d.leaveRoomSideEffects(ctx, clientID, roomID)
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.leaveRoomSideEffects(ctx, clientID, roomID)
	return conn.Send(leftRoomFrame(roomID))
}

// leaveRoomSideEffects removes clientID from roomID's membership, both
// locally and persisted, without replying to anyone — used both by the
// leaveRoom command and by the Connection Handler's on-close path (spec
// §4.5 step 5).
func (d *Dispatcher) leaveRoomSideEffects(ctx context.Context, clientID, roomID string) {
	_, err := d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
		r.RemoveClient(clientID)
		return nil
	})
	if err != nil && !errors.Is(err, roomrepo.ErrNotFound) {
		d.logger.ErrorContext(ctx, "command: leaveRoom mutate failed", "roomId", roomID, "error", err)
	}

	if err := d.clients.Unbind(ctx, clientID); err != nil {
		d.logger.ErrorContext(ctx, "command: unbind client record failed", "error", err)
	}
	d.local.Unbind(clientID)
}

func (d *Dispatcher) handleCloseRoom(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	room, err := d.rooms.Load(ctx, roomID)
	if errors.Is(err, roomrepo.ErrNotFound) {
		d.reply(ctx, conn, coded(CodeRoomNotFound, nil))
		return nil
	}
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}
	if room.CreatorID != clientID {
		d.reply(ctx, conn, coded(CodeNotCreatorOfRoom, nil))
		return nil
	}

	d.closeRoom(ctx, room, "Room closed by creator")
	return nil
}

// EvictRoom is closeRoom's teardown path exposed for the Lifecycle
// Worker's inactivity/empty-room sweep (spec §4.7), which has already
// decided a room is eligible and only needs the side-effects performed.
func (d *Dispatcher) EvictRoom(ctx context.Context, room *domain.Room, reason string) {
	d.closeRoom(ctx, room, reason)
}

// closeRoom is the shared teardown path for an explicit closeRoom
// command and the Lifecycle Worker's inactivity/empty-room eviction
// (spec §4.7): notify every member, unbind their client records, then
// delete the room. Members connected to this process get roomClosed
// directly before their local binding is dropped; members on other
// instances get it through the Broadcast Bus.
func (d *Dispatcher) closeRoom(ctx context.Context, room *domain.Room, reason string) {
	frame := roomClosedFrame(reason)
	for _, c := range room.Clients {
		if conn, ok := d.local.GetConnection(c.ID); ok {
			_ = conn.Send(frame)
		}
		d.local.Unbind(c.ID)
		if err := d.clients.Unbind(ctx, c.ID); err != nil {
			d.logger.ErrorContext(ctx, "command: unbind on closeRoom failed", "clientId", c.ID, "error", err)
		}
	}

	d.broadcastTargeted(ctx, room.ID, frame)

	if err := d.rooms.Delete(ctx, room.ID); err != nil {
		d.logger.ErrorContext(ctx, "command: delete room failed", "roomId", room.ID, "error", err)
	}
}

type updateProfilePayload struct {
	DisplayName string `json:"displayName" validate:"max=64"`
	Color       string `json:"color" validate:"max=32"`
}

// handleUpdateProfile is the SPEC_FULL §9 supplemented feature: an
// additive command, not in spec.md's table, that changes how a member
// displays without altering any invariant or broadcast shape — it
// simply mutates the room and lets the ordinary RoomUpdate follow.
func (d *Dispatcher) handleUpdateProfile(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	var p updateProfilePayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	room, err := d.rooms.Mutate(ctx, roomID, func(r *domain.Room) error {
		r.UpdateProfile(clientID, p.DisplayName, p.Color)
		return nil
	})
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.broadcastRoomUpdate(ctx, roomID, room)
	return nil
}

type sendMessagePayload struct {
	Content string `json:"content" validate:"required,max=500"`
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
	clientID := wsrouter.ClientIDFromCtx(ctx)
	roomID, err := d.requireRoom(clientID)
	if err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	var p sendMessagePayload
	if err := unmarshalPayload(env, &p); err != nil {
		d.reply(ctx, conn, err)
		return nil
	}

	d.broadcastTargeted(ctx, roomID, messageFrame(clientID, p.Content))
	return nil
}
