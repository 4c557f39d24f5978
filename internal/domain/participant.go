package domain

// ParticipantInfo is a participant id resolved against the team directory
// for display purposes.
type ParticipantInfo struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
}

// RosterSnapshot is the UI-facing projection of a room's roster. It has no
// lifecycle of its own; each roster change produces a fresh snapshot and
// the latest one wins.
type RosterSnapshot struct {
	RoomID       RoomID            `json:"room_id"`
	Name         RoomName          `json:"name"`
	Participants []ParticipantInfo `json:"participants"`
}
