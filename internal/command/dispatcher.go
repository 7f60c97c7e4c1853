package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clipsync/server/internal/broadcast"
	"github.com/clipsync/server/internal/clientrepo"
	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/registry"
	"github.com/clipsync/server/internal/roomrepo"
	"github.com/clipsync/server/internal/wsrouter"
	"github.com/clipsync/server/pkg/validator"
)

// validate runs struct-tag validation (go-playground/validator) over
// every inbound payload before a handler acts on it, catching missing
// required fields and over-long strings as invalidMessage rather than
// letting them reach domain mutation code. Seek times and volumes carry
// no tags and pass through; the domain clamps them.
var validate = validator.NewValidator()

// AssetAdapter is the narrow capability the Command Dispatcher needs from
// the External Asset Adapter (spec §4.8): the core only ever asks
// whether a video embeds and, for importPlaylist, how a reference
// expands. Satisfied by internal/assetadapter.Adapter.
type AssetAdapter interface {
	IsEmbeddable(ctx context.Context, videoID string) (bool, error)
	ExpandPlaylist(ctx context.Context, ref string) ([]domain.Video, error)
}

// PasswordScheme hides the plaintext-vs-bcrypt toggle (IS_ENCRYPTED_PASSWORD)
// from the command handlers.
type PasswordScheme interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) bool
}

// RoomIDGenerator is the narrow capability the Command Dispatcher needs to
// mint room ids, named after the teacher's own iGenerator interface
// (sharetube-server/internal/service/service.go) that it keeps between
// itself and github.com/skewb1k/goutils/randstr.
type RoomIDGenerator interface {
	GenerateRandomString(length int) string
}

// Dispatcher is the Command Dispatcher (spec §4.6): it owns no state of
// its own beyond its collaborators, validates and applies every inbound
// command against the Room Repository, and crafts the outbound frame(s)
// each command's table row calls for.
type Dispatcher struct {
	rooms     *roomrepo.Repository
	clients   *clientrepo.Repository
	local     *registry.Local
	bus       *broadcast.Bus
	assets    AssetAdapter
	passwords PasswordScheme
	roomIDs   RoomIDGenerator
	logger    *slog.Logger
}

func New(
	rooms *roomrepo.Repository,
	clients *clientrepo.Repository,
	local *registry.Local,
	bus *broadcast.Bus,
	assets AssetAdapter,
	passwords PasswordScheme,
	roomIDs RoomIDGenerator,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		rooms:     rooms,
		clients:   clients,
		local:     local,
		bus:       bus,
		assets:    assets,
		passwords: passwords,
		roomIDs:   roomIDs,
		logger:    logger,
	}
}

// Register wires every command handler onto router, each wrapped so a
// handler panic becomes a logged internalError reply instead of
// crashing the connection's read loop.
func (d *Dispatcher) Register(router *wsrouter.Router) {
	router.Use(d.recoverMiddleware)

	router.Handle("ping", d.handlePing)
	router.Handle("createRoom", d.handleCreateRoom)
	router.Handle("joinRoom", d.handleJoinRoom)
	router.Handle("reJoinRoom", d.handleJoinRoom)
	router.Handle("leaveRoom", d.handleLeaveRoom)
	router.Handle("closeRoom", d.handleCloseRoom)
	router.Handle("updateProfile", d.handleUpdateProfile)
	router.Handle("sendMessage", d.handleSendMessage)

	router.Handle("addVideo", d.handleAddVideo)
	router.Handle("addVideoAndMoveToTop", d.handleAddVideoAndMoveToTop)
	router.Handle("removeVideoFromQueue", d.handleRemoveVideoFromQueue)
	router.Handle("moveToTop", d.handleMoveToTop)
	router.Handle("shuffleQueue", d.handleShuffleQueue)
	router.Handle("clearQueue", d.handleClearQueue)
	router.Handle("clearHistory", d.handleClearHistory)
	router.Handle("playNow", d.handlePlayNow)
	router.Handle("nextVideo", d.handleNextVideo)
	router.Handle("videoFinished", d.handleNextVideo)
	router.Handle("importPlaylist", d.handleImportPlaylist)

	router.Handle("play", d.handlePlay)
	router.Handle("pause", d.handlePause)
	router.Handle("replay", d.handleReplay)
	router.Handle("seek", d.handleSeek)
	router.Handle("setVolume", d.handleSetVolume)
}

func (d *Dispatcher) recoverMiddleware(next wsrouter.HandlerFunc) wsrouter.HandlerFunc {
	return func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorContext(ctx, "command: handler panic", "recover", r, "type", env.Type)
				_ = conn.Send(errorWithCodeFrame(CodeInternalError))
			}
		}()

		if env.RequiresAck && env.ID != "" {
			_ = conn.Send(ackFrame(env.ID))
		}

		return next(ctx, conn, env)
	}
}

// reply sends a CodedError as errorWithCode and any other error as a
// generic error frame with a constant message, per §7's propagation
// policy; it never itself returns an error, since a failure to report a
// failure must not abort the read loop.
func (d *Dispatcher) reply(ctx context.Context, conn wsrouter.Conn, err error) {
	if err == nil {
		return
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		_ = conn.Send(errorWithCodeFrame(ce.Code))
		return
	}
	d.logger.ErrorContext(ctx, "command: unhandled error", "error", err)
	_ = conn.Send(errorFrame("internal error"))
}

// requireRoom resolves the roomId a connection is currently bound to, or
// returns CodeNotInRoom.
func (d *Dispatcher) requireRoom(clientID string) (string, error) {
	roomID, ok := d.local.LookupRoom(clientID)
	if !ok {
		return "", coded(CodeNotInRoom, nil)
	}
	return roomID, nil
}

// broadcastRoomUpdate publishes the generic RoomUpdate event for roomID,
// the default broadcast shape for any command not noted as a "targeted
// event" in §4.6's table.
func (d *Dispatcher) broadcastRoomUpdate(ctx context.Context, roomID string, room *domain.Room) {
	if err := d.bus.Broadcast(ctx, roomID, roomUpdateFrame(room)); err != nil {
		d.logger.ErrorContext(ctx, "command: broadcast roomUpdate failed", "roomId", roomID, "error", err)
	}
}

func (d *Dispatcher) broadcastTargeted(ctx context.Context, roomID string, payload []byte) {
	if err := d.bus.Broadcast(ctx, roomID, payload); err != nil {
		d.logger.ErrorContext(ctx, "command: broadcast failed", "roomId", roomID, "error", err)
	}
}

func unmarshalPayload(env wsrouter.Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return coded(CodeInvalidMessage, err)
	}
	if errs, ok := validate.Validate(dst); !ok {
		return coded(CodeInvalidMessage, fmt.Errorf("%+v", errs))
	}
	return nil
}
