package core

import "errors"

// Failure classes surfaced across component boundaries. Callers classify
// with errors.Is; adapters wrap the underlying cause with %w.
var (
	// ErrMediaAcquisition: local audio device unavailable or denied.
	// A join that hits this aborts with no roster side effects.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrSignalingWrite / ErrSignalingRead: transient relay failures
	// during offer/answer/candidate exchange. Not retried; the affected
	// peer entry stays non-connected until the room is rejoined.
	ErrSignalingWrite = errors.New("signaling write failed")
	ErrSignalingRead  = errors.New("signaling read failed")

	// ErrRosterMutation: failed add/remove of self on the roster. Fatal
	// for a join; on leave, local teardown proceeds regardless.
	ErrRosterMutation = errors.New("roster mutation failed")
)
