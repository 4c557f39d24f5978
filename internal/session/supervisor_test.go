package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/media"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/relay/memory"
)

const waitFor = 2 * time.Second

func ids(list ...domain.ParticipantID) map[domain.ParticipantID]struct{} {
	out := make(map[domain.ParticipantID]struct{}, len(list))
	for _, id := range list {
		out[id] = struct{}{}
	}
	return out
}

func newTestSupervisor(t *testing.T, local domain.ParticipantID) (*Supervisor, *memory.Store, *fakeDialer, domain.RoomID) {
	t.Helper()
	store := memory.NewStore()
	dialer := &fakeDialer{}
	roomID := domain.DeriveRoomID("acme", "general")
	sup := NewSupervisor(local, roomID, store, dialer, nil, &fakeHandle{}, &Events{})
	return sup, store, dialer, roomID
}

func countKind(msgs []domain.SignalingMessage, kind domain.SignalKind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func TestReconcileConvergence(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t, "u1")
	ctx := context.Background()

	steps := []map[domain.ParticipantID]struct{}{
		ids("a", "b"),
		ids("b", "c", "d"),
		ids("d"),
		ids(),
		ids("e"),
	}
	for _, remotes := range steps {
		sup.Reconcile(ctx, remotes, false)
		want := make([]domain.ParticipantID, 0, len(remotes))
		for id := range remotes {
			want = append(want, id)
		}
		assert.ElementsMatch(t, want, sup.Peers())
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	sup, _, dialer, _ := newTestSupervisor(t, "u1")
	ctx := context.Background()

	sup.Reconcile(ctx, ids("a", "b"), false)
	require.Len(t, dialer.all(), 2)

	// Same set again: no churn on unchanged ids.
	sup.Reconcile(ctx, ids("a", "b"), false)
	assert.Len(t, dialer.all(), 2)
	for _, c := range dialer.all() {
		assert.False(t, c.isClosed())
	}
}

func TestReconcileSkipsLocalID(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t, "u1")
	sup.Reconcile(context.Background(), ids("u1", "a"), false)
	assert.Equal(t, []domain.ParticipantID{"a"}, sup.Peers())
}

func TestNewcomerIsAnswerer(t *testing.T) {
	sup, store, _, roomID := newTestSupervisor(t, "u1")
	ctx := context.Background()

	// Entries seeded at join time wait for offers.
	sup.Reconcile(ctx, ids("b"), false)
	assert.Equal(t, 0, countKind(store.SignalLog(roomID), domain.SignalOffer))

	// A remote arriving after the local join gets an offer.
	sup.Reconcile(ctx, ids("b", "c"), true)
	assert.Eventually(t, func() bool {
		return countKind(store.SignalLog(roomID), domain.SignalOffer) == 1
	}, waitFor, 10*time.Millisecond)

	msgs := store.SignalLog(roomID)
	require.Equal(t, 1, countKind(msgs, domain.SignalOffer))
	for _, m := range msgs {
		if m.Kind == domain.SignalOffer {
			assert.Equal(t, domain.ParticipantID("u1"), m.From)
			assert.Equal(t, domain.ParticipantID("c"), m.To)
		}
	}
}

func TestOfferProducesAnswer(t *testing.T) {
	sup, store, dialer, roomID := newTestSupervisor(t, "u1")
	ctx := context.Background()

	sup.Reconcile(ctx, ids("b"), false)
	require.Len(t, dialer.all(), 1)
	conn := dialer.all()[0]

	offer, err := domain.NewOffer("b", "u1", mustOffer("the-offer"))
	require.NoError(t, err)
	require.NoError(t, store.AppendSignal(ctx, roomID, offer))

	assert.Eventually(t, func() bool {
		return conn.remoteSDP() == "the-offer"
	}, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return countKind(store.SignalLog(roomID), domain.SignalAnswer) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "answer-to-the-offer", conn.localSDP())
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	sup, store, dialer, roomID := newTestSupervisor(t, "u1")
	ctx := context.Background()

	sup.Reconcile(ctx, ids("b"), true)
	require.Len(t, dialer.all(), 1)
	conn := dialer.all()[0]

	first, err := domain.NewAnswer("b", "u1", mustAnswer("answer-one"))
	require.NoError(t, err)
	require.NoError(t, store.AppendSignal(ctx, roomID, first))
	assert.Eventually(t, func() bool {
		return conn.remoteSDP() == "answer-one"
	}, waitFor, 10*time.Millisecond)

	second, err := domain.NewAnswer("b", "u1", mustAnswer("answer-two"))
	require.NoError(t, err)
	require.NoError(t, store.AppendSignal(ctx, roomID, second))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "answer-one", conn.remoteSDP(), "late answer must not replace the applied one")
}

func TestCandidateRouting(t *testing.T) {
	sup, store, dialer, roomID := newTestSupervisor(t, "u1")
	ctx := context.Background()

	sup.Reconcile(ctx, ids("b"), false)
	conn := dialer.all()[0]

	cand, err := domain.NewCandidate("b", "u1", mustCandidate("candidate:1"))
	require.NoError(t, err)
	require.NoError(t, store.AppendSignal(ctx, roomID, cand))

	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.candidates) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestSinkAllocatedOnce(t *testing.T) {
	var mu sync.Mutex
	var sinks []domain.ParticipantID
	events := &Events{OnSink: func(id domain.ParticipantID, _ *media.Sink) {
		mu.Lock()
		sinks = append(sinks, id)
		mu.Unlock()
	}}

	store := memory.NewStore()
	dialer := &fakeDialer{}
	sup := NewSupervisor("u1", domain.DeriveRoomID("acme", "general"), store, dialer, nil, &fakeHandle{}, events)
	sup.Reconcile(context.Background(), ids("b"), false)
	conn := dialer.all()[0]

	conn.fireTrack(nil)
	conn.fireTrack(nil)

	mu.Lock()
	assert.Equal(t, []domain.ParticipantID{"b"}, sinks, "second track event must not allocate a second sink")
	mu.Unlock()
	assert.NotNil(t, sup.Sink("b"))
}

func TestTeardownAll(t *testing.T) {
	sup, _, dialer, _ := newTestSupervisor(t, "u1")
	ctx := context.Background()

	sup.Reconcile(ctx, ids("a", "b", "c"), false)
	require.Len(t, sup.Peers(), 3)

	sup.TeardownAll()
	assert.Empty(t, sup.Peers())
	for _, c := range dialer.all() {
		assert.True(t, c.isClosed())
	}

	// Closed supervisors refuse new entries; a racing roster delivery
	// after leave must not resurrect connections.
	sup.Reconcile(ctx, ids("d"), true)
	assert.Empty(t, sup.Peers())
	assert.Len(t, dialer.all(), 3)
}

func TestDestroyDuringCreateIsDeferred(t *testing.T) {
	store := memory.NewStore()
	gate := make(chan struct{})
	dialer := &fakeDialer{gate: gate}
	sup := NewSupervisor("u1", domain.DeriveRoomID("acme", "general"), store, dialer, nil, &fakeHandle{}, &Events{})

	done := make(chan struct{})
	go func() {
		sup.Reconcile(context.Background(), ids("b"), false)
		close(done)
	}()

	// Creation is parked inside the dialer; tear down now.
	assert.Eventually(t, func() bool { return dialer.waiting() }, waitFor, 5*time.Millisecond)
	sup.TeardownAll()
	close(gate)
	<-done

	assert.Eventually(t, func() bool {
		conns := dialer.all()
		return len(conns) == 1 && conns[0].isClosed()
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, sup.Peers())
}
