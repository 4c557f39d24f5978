// Package session implements the voice-room coordinator: membership,
// per-peer connection supervision, and negotiation over the signaling
// relay. All mutable state lives on the session objects themselves and is
// torn down through dispose-once handles.
package session

import (
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/media"
)

// Events are the push streams exposed to the UI layer. All callbacks are
// optional and invoked from subscription goroutines; handlers must not
// block for long.
type Events struct {
	// OnRoster fires with the resolved roster on every change of the
	// joined room.
	OnRoster func(domain.RosterSnapshot)
	// OnSink fires once per remote participant when their audio becomes
	// playable.
	OnSink func(domain.ParticipantID, *media.Sink)
	// OnSinkClosed fires when a remote participant's audio goes away.
	OnSinkClosed func(domain.ParticipantID)
}

func (e *Events) emitRoster(s domain.RosterSnapshot) {
	if e != nil && e.OnRoster != nil {
		e.OnRoster(s)
	}
}

func (e *Events) emitSink(id domain.ParticipantID, s *media.Sink) {
	if e != nil && e.OnSink != nil {
		e.OnSink(id, s)
	}
}

func (e *Events) emitSinkClosed(id domain.ParticipantID) {
	if e != nil && e.OnSinkClosed != nil {
		e.OnSinkClosed(id)
	}
}
