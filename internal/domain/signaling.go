package domain

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// SignalKind tags exactly one payload variant per message. The variant is
// decided at write time; readers switch on the tag and never scan for
// populated fields.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

var (
	ErrSignalSelfAddressed = errors.New("signaling message addressed to sender")
	ErrSignalBadKind       = errors.New("unknown signal kind")
)

// SignalingMessage is one unit of handshake data between exactly two
// participants in a room. Write-once; consumed by the addressee's
// subscription; garbage-collected in bulk on room teardown.
type SignalingMessage struct {
	From      ParticipantID              `json:"from"`
	To        ParticipantID              `json:"to"`
	Kind      SignalKind                 `json:"kind"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func NewOffer(from, to ParticipantID, sdp webrtc.SessionDescription) (SignalingMessage, error) {
	return newSDPMessage(from, to, SignalOffer, sdp)
}

func NewAnswer(from, to ParticipantID, sdp webrtc.SessionDescription) (SignalingMessage, error) {
	return newSDPMessage(from, to, SignalAnswer, sdp)
}

func NewCandidate(from, to ParticipantID, cand webrtc.ICECandidateInit) (SignalingMessage, error) {
	if from == to {
		return SignalingMessage{}, ErrSignalSelfAddressed
	}
	return SignalingMessage{From: from, To: to, Kind: SignalCandidate, Candidate: &cand}, nil
}

func newSDPMessage(from, to ParticipantID, kind SignalKind, sdp webrtc.SessionDescription) (SignalingMessage, error) {
	if from == to {
		return SignalingMessage{}, ErrSignalSelfAddressed
	}
	return SignalingMessage{From: from, To: to, Kind: kind, SDP: &sdp}, nil
}

// Validate rejects malformed messages before they reach the relay.
func (m SignalingMessage) Validate() error {
	if m.From == m.To {
		return ErrSignalSelfAddressed
	}
	switch m.Kind {
	case SignalOffer, SignalAnswer:
		if m.SDP == nil || m.Candidate != nil {
			return ErrSignalBadKind
		}
	case SignalCandidate:
		if m.Candidate == nil || m.SDP != nil {
			return ErrSignalBadKind
		}
	default:
		return ErrSignalBadKind
	}
	return nil
}
