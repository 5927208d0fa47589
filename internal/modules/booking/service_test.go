// README: Booking service tests (state machine, overlap resolution, settlement).
package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivebid/internal/clock"
	"drivebid/internal/modules/bid"
	"drivebid/internal/modules/notify"
	"drivebid/internal/modules/pricing"
	"drivebid/internal/types"
)

var day0 = types.NewDate(2026, time.June, 1)

const ownerID types.ID = "owner-1"

func envelope(vehicle types.ID, renter types.ID, startOffset, endOffset int) bid.Envelope {
	return bid.Envelope{
		Vehicle:   bid.VehicleSnapshot{ID: vehicle, Name: "Civic", Company: "Honda", ModelYear: 2021, Price: 1000, Status: "available"},
		From:      bid.Party{ID: renter, Username: string(renter), Email: string(renter) + "@example.com"},
		Owner:     bid.Party{ID: ownerID, Username: "owner", Email: "owner@example.com"},
		Amount:    1000,
		StartDate: day0.AddDays(startOffset),
		EndDate:   day0.AddDays(endOffset),
		Nonce:     fmt.Sprintf("%s-%s-%d-%d", vehicle, renter, startOffset, endOffset),
		Status:    "pending",
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, events ...notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) to(id types.ID) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Recipient.ID == id {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *recordingNotifier) {
	t.Helper()
	repo := newFakeRepo()
	n := &recordingNotifier{}
	settler := pricing.NewService(nil, pricing.Config{PlatformFeePct: 2})
	svc := NewService(repo, settler,
		WithNotifier(n),
		WithClock(clock.NewFixed(time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC))),
	)
	return svc, repo, n
}

func mustIntake(t *testing.T, svc *Service, env bid.Envelope) *Booking {
	t.Helper()
	b, created, err := svc.Intake(context.Background(), env)
	require.NoError(t, err)
	require.True(t, created)
	return b
}

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNone, StatusPending, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusStarted, true},
		{StatusStarted, StatusEnded, true},
		{StatusEnded, StatusReviewed, true},
		// terminal states
		{StatusRejected, StatusPending, false},
		{StatusRejected, StatusApproved, false},
		{StatusReviewed, StatusEnded, false},
		// skipping states
		{StatusPending, StatusStarted, false},
		{StatusApproved, StatusEnded, false},
		{StatusStarted, StatusReviewed, false},
		// no way back
		{StatusApproved, StatusPending, false},
		{StatusApproved, StatusRejected, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIntakeIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	env := envelope("v1", "renter-1", 0, 2)

	first, created, err := svc.Intake(ctx, env)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, StatusPending, first.Status)

	again, created, err := svc.Intake(ctx, env)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	assert.Len(t, repo.bookings, 1)
	assert.Len(t, repo.eventsFor(first.ID), 1)
}

func TestIntakeRejectsInvalidEnvelope(t *testing.T) {
	svc, repo, _ := newTestService(t)
	env := envelope("v1", "renter-1", 3, 1)

	_, _, err := svc.Intake(context.Background(), env)
	require.ErrorIs(t, err, bid.ErrInvalidEnvelope)
	assert.Empty(t, repo.bookings)
}

func TestApproveRejectsOverlappingPendingBids(t *testing.T) {
	svc, repo, n := newTestService(t)
	ctx := context.Background()

	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 4))
	y := mustIntake(t, svc, envelope("v1", "renter-y", 3, 7))
	z := mustIntake(t, svc, envelope("v1", "renter-z", 9, 11))
	w := mustIntake(t, svc, envelope("v2", "renter-w", 0, 4))
	edge := mustIntake(t, svc, envelope("v1", "renter-e", 4, 4))

	approval, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approval.Booking.Status)

	rejected := map[types.ID]bool{}
	for _, r := range approval.Rejected {
		rejected[r.ID] = true
	}
	assert.Equal(t, map[types.ID]bool{y.ID: true, edge.ID: true}, rejected)

	assert.Equal(t, StatusApproved, repo.status(x.ID))
	assert.Equal(t, StatusRejected, repo.status(y.ID))
	assert.Equal(t, StatusRejected, repo.status(edge.ID))
	assert.Equal(t, StatusPending, repo.status(z.ID))
	assert.Equal(t, StatusPending, repo.status(w.ID))

	assert.Len(t, n.to("renter-x"), 1)
	assert.Len(t, n.to("renter-y"), 1)
	assert.Equal(t, string(StatusRejected), n.to("renter-y")[0].Status)
	assert.Empty(t, n.to("renter-z"))

	sweep := repo.eventsFor(y.ID)
	require.Len(t, sweep, 2)
	assert.Equal(t, ActorSystem, sweep[1].ActorType)

	_, err = svc.Approve(ctx, TransitionCommand{BookingID: y.ID, ActorID: ownerID})
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "booking already rejected")
}

func TestApproveFailsAgainstCommittedOverlap(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 4))
	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)

	late := mustIntake(t, svc, envelope("v1", "renter-late", 2, 3))
	_, err = svc.Approve(ctx, TransitionCommand{BookingID: late.ID, ActorID: ownerID})
	require.ErrorIs(t, err, ErrVehicleBooked)
	assert.True(t, IsConflict(err))
	assert.Equal(t, StatusPending, repo.status(late.ID))
}

func TestApproveRequiresOwner(t *testing.T) {
	svc, repo, _ := newTestService(t)
	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 1))

	_, err := svc.Approve(context.Background(), TransitionCommand{BookingID: x.ID, ActorID: "renter-x"})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, StatusPending, repo.status(x.ID))
}

func TestApproveRollsBackOnFailure(t *testing.T) {
	svc, repo, n := newTestService(t)
	ctx := context.Background()

	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 4))
	y := mustIntake(t, svc, envelope("v1", "renter-y", 2, 6))

	repo.failEvent = func(e *Event) error {
		if e.ToStatus == StatusRejected {
			return errors.New("audit log unavailable")
		}
		return nil
	}
	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.Error(t, err)

	assert.Equal(t, StatusPending, repo.status(x.ID))
	assert.Equal(t, StatusPending, repo.status(y.ID))
	assert.Empty(t, n.to("renter-x"))
}

func TestConcurrentApprovalsOnOverlappingBids(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	const bidders = 8
	ids := make([]types.ID, bidders)
	for i := range ids {
		ids[i] = mustIntake(t, svc, envelope("v1", types.ID(fmt.Sprintf("renter-%d", i)), i, i+bidders)).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, bidders)
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := svc.Approve(ctx, TransitionCommand{BookingID: id, ActorID: ownerID})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 approval, got %d", success)
	}

	approved := 0
	for _, id := range ids {
		switch repo.status(id) {
		case StatusApproved:
			approved++
		case StatusRejected:
		default:
			t.Fatalf("booking %s left in %s", id, repo.status(id))
		}
	}
	assert.Equal(t, 1, approved)
}

func TestRejectIsTerminal(t *testing.T) {
	svc, _, n := newTestService(t)
	ctx := context.Background()
	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 1))

	b, err := svc.UpdateStatus(ctx, StatusCommand{BookingID: x.ID, ActorID: ownerID, Status: StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, b.Status)
	assert.Len(t, n.to("renter-x"), 1)

	_, err = svc.UpdateStatus(ctx, StatusCommand{BookingID: x.ID, ActorID: ownerID, Status: StatusApproved})
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "booking already rejected")

	_, err = svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(10)})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateStatusOnlyAcceptsDecisions(t *testing.T) {
	svc, _, _ := newTestService(t)
	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 1))

	for _, st := range []Status{StatusStarted, StatusEnded, StatusReviewed, StatusPending, "bogus"} {
		_, err := svc.UpdateStatus(context.Background(), StatusCommand{BookingID: x.ID, ActorID: ownerID, Status: st})
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("status %q: expected ErrBadRequest, got %v", st, err)
		}
	}
}

func TestFullLifecycleWithSettlement(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	env := envelope("v1", "renter-x", 0, 2)
	env.SelectedAddons = []bid.Addon{{Name: "child seat", Price: 200}}
	x := mustIntake(t, svc, env)

	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)

	_, err = svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID})
	require.ErrorIs(t, err, ErrBadRequest)

	started, err := svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(1000)})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, started.Status)

	_, _, err = svc.End(ctx, EndCommand{BookingID: x.ID, ActorID: ownerID, EndOdometer: ptr(900)})
	require.ErrorIs(t, err, ErrBadRequest)

	ended, settlement, err := svc.End(ctx, EndCommand{BookingID: x.ID, ActorID: ownerID, EndOdometer: ptr(1400)})
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.Equal(t, 4264.0, settlement.Total)
	assert.Equal(t, 1000.0, settlement.Fine)

	again, err := svc.Settlement(ctx, x.ID, "renter-x")
	require.NoError(t, err)
	assert.Equal(t, settlement, again)

	_, err = svc.Review(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.ErrorIs(t, err, ErrForbidden)

	reviewed, err := svc.Review(ctx, TransitionCommand{BookingID: x.ID, ActorID: "renter-x"})
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, reviewed.Status)

	var path []string
	for _, e := range repo.eventsFor(x.ID) {
		path = append(path, string(e.ToStatus))
	}
	assert.Equal(t, "pending,approved,started,ended,reviewed", strings.Join(path, ","))
}

func TestIntakeIgnoresEnvelopeOdometers(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	env := envelope("v1", "renter-x", 0, 2)
	env.StartOdometerValue = ptr(10)
	env.EndOdometerValue = ptr(50)
	x := mustIntake(t, svc, env)
	assert.Nil(t, x.StartOdometerValue)
	assert.Nil(t, x.EndOdometerValue)

	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)
	started, err := svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(100)})
	require.NoError(t, err)
	assert.Nil(t, started.EndOdometerValue)

	ended, _, err := svc.End(ctx, EndCommand{BookingID: x.ID, ActorID: ownerID, EndOdometer: ptr(150)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, *ended.EndOdometerValue, *ended.StartOdometerValue)
	assert.Equal(t, StatusEnded, repo.status(x.ID))
}

func TestStartRejectsReadingAboveRecordedEnd(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 2))
	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.bookings[x.ID].EndOdometerValue = ptr(50)
	repo.mu.Unlock()

	_, err = svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(100)})
	require.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, StatusApproved, repo.status(x.ID))

	_, err = svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(40)})
	require.NoError(t, err)
}

func TestOdometerReadingsMustFitStorage(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 2))
	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)

	_, err = svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(1e12)})
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = svc.Start(ctx, StartCommand{BookingID: x.ID, ActorID: ownerID, StartOdometer: ptr(1000)})
	require.NoError(t, err)

	_, _, err = svc.End(ctx, EndCommand{BookingID: x.ID, ActorID: ownerID, EndOdometer: ptr(1e12)})
	require.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, StatusStarted, repo.status(x.ID))
}

func TestListRejectsOffsetBeyondInt64(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustIntake(t, svc, envelope("v1", "renter-x", 0, 1))

	_, err := svc.List(ctx, ListQuery{ActorID: "renter-x", Offset: math.MaxInt64 + 1})
	require.ErrorIs(t, err, ErrBadRequest)

	got, err := svc.List(ctx, ListQuery{ActorID: "renter-x", Offset: math.MaxInt64})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEndRequiresStartedBooking(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 1))
	_, err := svc.Approve(ctx, TransitionCommand{BookingID: x.ID, ActorID: ownerID})
	require.NoError(t, err)

	_, _, err = svc.End(ctx, EndCommand{BookingID: x.ID, ActorID: ownerID, EndOdometer: ptr(10)})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Settlement(ctx, x.ID, ownerID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestGetAndListScopeToParticipants(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	x := mustIntake(t, svc, envelope("v1", "renter-x", 0, 1))
	mustIntake(t, svc, envelope("v2", "renter-y", 0, 1))

	_, err := svc.Get(ctx, x.ID, "stranger")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, "missing", ownerID)
	require.ErrorIs(t, err, ErrNotFound)

	mine, err := svc.List(ctx, ListQuery{ActorID: "renter-x", Role: ActorRenter})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, x.ID, mine[0].ID)

	owned, err := svc.List(ctx, ListQuery{ActorID: ownerID, Role: ActorOwner, VehicleID: "v2"})
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	_, err = svc.List(ctx, ListQuery{ActorID: ownerID, Role: "admin"})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.List(ctx, ListQuery{ActorID: ownerID, Role: ActorOwner, Status: "lost"})
	require.ErrorIs(t, err, ErrBadRequest)
}

func ptr(v float64) *float64 { return &v }
