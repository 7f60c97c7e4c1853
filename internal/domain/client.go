package domain

import "time"

// ClientRecord is the persisted reverse-index entry for a connection
// identity: which room it belongs to, and when it was last seen.
type ClientRecord struct {
	RoomID   string    `redis:"room_id"`
	LastSeen time.Time `redis:"last_seen"`
}

// ClientProfile is the lightweight display identity a member carries
// inside a Room (SPEC_FULL §9 supplemented feature): joining records only
// the id, leaving DisplayName and Color empty until updateProfile sets
// them; never itself a broadcast trigger
// beyond the ordinary roomUpdate that follows any Room mutation.
type ClientProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}
