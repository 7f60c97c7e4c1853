package command

import (
	"encoding/json"

	"github.com/clipsync/server/internal/domain"
)

// frame is the outbound wire envelope (spec §6): a type tag plus
// whatever payload fields that type carries, flattened into one object
// so the client never has to unwrap a nested "payload" key.
type frame map[string]any

func encode(f frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// f is always built from this file's constructors over JSON-safe
		// types; a marshal failure here means a programming error, not a
		// runtime condition worth propagating.
		return []byte(`{"type":"internalError"}`)
	}
	return b
}

func ackFrame(id string) []byte {
	return encode(frame{"type": "ack", "id": id})
}

func pongFrame() []byte {
	return encode(frame{"type": "pong"})
}

func errorFrame(message string) []byte {
	return encode(frame{"type": "error", "message": message})
}

func errorWithCodeFrame(code Code) []byte {
	return encode(frame{"type": "errorWithCode", "code": string(code)})
}

func roomCreatedFrame(roomID string) []byte {
	return encode(frame{"type": "roomCreated", "roomId": roomID})
}

func roomJoinedFrame(yourID string, room *domain.Room) []byte {
	return encode(frame{"type": "roomJoined", "yourId": yourID, "room": room})
}

func roomUpdateFrame(room *domain.Room) []byte {
	without := room.WithoutClients()
	return encode(frame{"type": "roomUpdate", "room": &without})
}

func leftRoomFrame(roomID string) []byte {
	return encode(frame{"type": "leftRoom", "roomId": roomID})
}

func roomClosedFrame(reason string) []byte {
	return encode(frame{"type": "roomClosed", "reason": reason})
}

func messageFrame(senderID, text string) []byte {
	return encode(frame{"type": "message", "senderId": senderID, "text": text})
}

func playFrame(currentTime float64) []byte {
	return encode(frame{"type": "play", "currentTime": currentTime})
}

func pauseFrame() []byte {
	return encode(frame{"type": "pause"})
}

func replayFrame() []byte {
	return encode(frame{"type": "replay"})
}

func volumeChangedFrame(volume int) []byte {
	return encode(frame{"type": "volumeChanged", "volume": volume})
}

func currentTimeChangedFrame(t float64) []byte {
	return encode(frame{"type": "currentTimeChanged", "currentTime": t})
}
