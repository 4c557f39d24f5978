package core

import "github.com/EWilliamHertz/ActionPad-sub000/internal/domain"

// Resolver maps participant ids to display identities from the team
// directory. Unknown ids resolve to the raw id so rendering never blocks
// on directory lag.
type Resolver interface {
	Resolve(id domain.ParticipantID) domain.ParticipantInfo
}
