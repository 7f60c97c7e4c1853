package domain

import (
	"errors"
	"math/rand/v2"
	"time"
)

var (
	ErrVideoAlreadyInQueue = errors.New("video already in queue")
	ErrVideoNotFound       = errors.New("video not found")
	ErrNothingPlaying      = errors.New("nothing playing")
)

// Room is the unit of shared playback state, addressed by a 6-digit id.
// All mutation methods are pure with respect to the receiver — they are
// only ever called from within Repository.mutate, which owns
// serialization across concurrent callers.
type Room struct {
	ID           string          `json:"id"`
	PasswordHash string          `json:"passwordHash,omitempty"`
	HasPassword  bool            `json:"hasPassword"`
	CreatorID    string          `json:"creatorId"`
	Clients      []ClientProfile `json:"clients"`
	VideoQueue   []Video         `json:"videoQueue"`
	HistoryQueue []Video         `json:"historyQueue"`
	PlayingNow   *Video          `json:"playingNow"`
	IsPlaying    bool            `json:"isPlaying"`
	CurrentTime  float64         `json:"currentTime"`
	Volume       int             `json:"volume"`
	LastActivity int64           `json:"lastActivity"` // unix millis
	Version      uint64          `json:"-"`
}

// WithoutClients returns a shallow copy with Clients stripped, for the
// roomUpdate wire payload (§6: "roomUpdate carries the Room with the
// clients field omitted").
func (r Room) WithoutClients() Room {
	r.Clients = nil
	return r
}

func NewRoom(id, creatorID string) *Room {
	return &Room{
		ID:           id,
		CreatorID:    creatorID,
		Clients:      []ClientProfile{},
		VideoQueue:   []Video{},
		HistoryQueue: []Video{},
		Volume:       100,
		LastActivity: NowMillis(),
	}
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Touch updates lastActivity to the current wall clock. Every mutating
// command calls this (invariant 6).
func (r *Room) Touch() {
	r.LastActivity = NowMillis()
}

func (r *Room) HasClient(id string) bool {
	return r.indexOfClient(id) != -1
}

func (r *Room) indexOfClient(id string) int {
	for i, c := range r.Clients {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// AddClient admits a member with the given display profile. Re-joining
// with the same id updates the stored profile rather than duplicating
// the entry (invariant: at most one Clients entry per id).
func (r *Room) AddClient(profile ClientProfile) {
	if i := r.indexOfClient(profile.ID); i != -1 {
		r.Clients[i] = profile
		return
	}
	r.Clients = append(r.Clients, profile)
}

func (r *Room) RemoveClient(id string) {
	if i := r.indexOfClient(id); i != -1 {
		r.Clients = append(r.Clients[:i], r.Clients[i+1:]...)
	}
}

// UpdateProfile changes the display name/color of an existing member
// (SPEC_FULL §9 supplemented feature). It is a no-op, not an error, if
// the client id is absent — the dispatcher is responsible for rejecting
// updateProfile from a sender not currently in the room.
func (r *Room) UpdateProfile(id, displayName, color string) {
	i := r.indexOfClient(id)
	if i == -1 {
		return
	}
	if displayName != "" {
		r.Clients[i].DisplayName = displayName
	}
	if color != "" {
		r.Clients[i].Color = color
	}
}

// SetVolume clamps to [0,100] (invariant 4).
func (r *Room) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	r.Volume = v
}

// AddVideo enforces invariant 2 (no duplicate ids in videoQueue) and, if
// nothing is playing and the queue is empty, starts the video immediately.
func (r *Room) AddVideo(v Video) error {
	if containsVideo(r.VideoQueue, v.ID) {
		return ErrVideoAlreadyInQueue
	}

	if r.PlayingNow == nil && len(r.VideoQueue) == 0 {
		r.startPlaying(v)
		return nil
	}

	r.VideoQueue = append(r.VideoQueue, v)
	return nil
}

// AddVideoAndMoveToTop removes any existing occurrence of v.ID from the
// queue then prepends it, or starts it immediately if nothing is playing
// and the queue is empty.
func (r *Room) AddVideoAndMoveToTop(v Video) {
	r.VideoQueue, _ = removeVideo(r.VideoQueue, v.ID)

	if r.PlayingNow == nil && len(r.VideoQueue) == 0 {
		r.startPlaying(v)
		return
	}

	r.VideoQueue = append([]Video{v}, r.VideoQueue...)
}

func (r *Room) RemoveVideoFromQueue(videoID string) {
	r.VideoQueue, _ = removeVideo(r.VideoQueue, videoID)
}

// MoveToTop moves an existing queue entry to position 0.
func (r *Room) MoveToTop(videoID string) error {
	i := indexOfVideo(r.VideoQueue, videoID)
	if i == -1 {
		return ErrVideoNotFound
	}
	v := r.VideoQueue[i]
	r.VideoQueue = append(r.VideoQueue[:i], r.VideoQueue[i+1:]...)
	r.VideoQueue = append([]Video{v}, r.VideoQueue...)
	return nil
}

// ShuffleQueue performs a uniform Fisher-Yates permutation, replacing the
// source's biased comparator-randomization shuffle per the redesign note.
func (r *Room) ShuffleQueue() {
	n := len(r.VideoQueue)
	for i := n - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		r.VideoQueue[i], r.VideoQueue[j] = r.VideoQueue[j], r.VideoQueue[i]
	}
}

func (r *Room) ClearQueue() {
	r.VideoQueue = []Video{}
}

func (r *Room) ClearHistory() {
	r.HistoryQueue = []Video{}
}

// pushHistory prepends v to historyQueue, first deduping any existing
// occurrence of v.ID so the front of the list is always the most recent
// (the history dedup policy of §4.6).
func (r *Room) pushHistory(v Video) {
	r.HistoryQueue, _ = removeVideo(r.HistoryQueue, v.ID)
	r.HistoryQueue = append([]Video{v}, r.HistoryQueue...)
}

func (r *Room) startPlaying(v Video) {
	r.PlayingNow = &v
	r.IsPlaying = true
	r.CurrentTime = 0
}

// PlayNow plays v immediately: removes it from both queues, archives the
// previously-playing video to history, and starts v.
func (r *Room) PlayNow(v Video) {
	r.VideoQueue, _ = removeVideo(r.VideoQueue, v.ID)
	r.HistoryQueue, _ = removeVideo(r.HistoryQueue, v.ID)

	if r.PlayingNow != nil {
		r.pushHistory(*r.PlayingNow)
	}

	r.startPlaying(v)
}

// NextVideo advances the queue: the current video (if any) moves to
// history, and the queue head (if any) becomes the new playingNow.
func (r *Room) NextVideo() {
	if r.PlayingNow != nil {
		r.pushHistory(*r.PlayingNow)
	}

	if len(r.VideoQueue) > 0 {
		next := r.VideoQueue[0]
		r.VideoQueue = r.VideoQueue[1:]
		r.startPlaying(next)
		return
	}

	r.PlayingNow = nil
	r.IsPlaying = false
	r.CurrentTime = 0
}

func (r *Room) Play() {
	if r.PlayingNow != nil {
		r.IsPlaying = true
	}
}

func (r *Room) Pause() {
	r.IsPlaying = false
}

func (r *Room) Replay() error {
	if r.PlayingNow == nil {
		return ErrNothingPlaying
	}
	r.CurrentTime = 0
	r.IsPlaying = true
	return nil
}

func (r *Room) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	r.CurrentTime = t
}

// IsEmpty reports whether the room has no members left (invariant 7's
// eviction precondition).
func (r *Room) IsEmpty() bool {
	return len(r.Clients) == 0
}
