// README: In-memory booking repository for service tests; honors transaction rollback.
package booking

import (
	"context"
	"errors"
	"sort"
	"sync"

	"drivebid/internal/types"
)

type fakeTxKey struct{}

// fakeRepo serializes transactions and restores its state when one fails.
type fakeRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	bookings map[types.ID]*Booking
	byKey    map[string]types.ID
	events   []Event

	failEvent func(e *Event) error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bookings: map[types.ID]*Booking{},
		byKey:    map[string]types.ID{},
	}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := r.cloneLocked()
	r.mu.Unlock()

	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.bookings, r.byKey, r.events = snapshot.bookings, snapshot.byKey, snapshot.events
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) cloneLocked() *fakeRepo {
	c := newFakeRepo()
	for id, b := range r.bookings {
		c.bookings[id] = copyBooking(b)
	}
	for k, v := range r.byKey {
		c.byKey[k] = v
	}
	c.events = append([]Event(nil), r.events...)
	return c
}

func copyBooking(b *Booking) *Booking {
	cp := *b
	return &cp
}

func (r *fakeRepo) InsertIfAbsent(_ context.Context, b *Booking) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[b.DedupKey]; ok {
		return false, nil
	}
	r.bookings[b.ID] = copyBooking(b)
	r.byKey[b.DedupKey] = b.ID
	return true, nil
}

func (r *fakeRepo) GetByDedupKey(_ context.Context, key string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(r.bookings[id]), nil
}

func (r *fakeRepo) Get(_ context.Context, id types.ID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(b), nil
}

func (r *fakeRepo) GetForUpdate(ctx context.Context, id types.ID) (*Booking, error) {
	if ctx.Value(fakeTxKey{}) == nil {
		return nil, errors.New("get for update outside transaction")
	}
	return r.Get(ctx, id)
}

func (r *fakeRepo) LockVehicle(ctx context.Context, _ types.ID) error {
	if ctx.Value(fakeTxKey{}) == nil {
		return errors.New("lock vehicle: no transaction in context")
	}
	return nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, patch Patch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from || b.StatusVersion != version {
		return false, nil
	}
	b.Status = to
	b.StatusVersion++
	if patch.StartOdometer != nil {
		b.StartOdometerValue = patch.StartOdometer
	}
	if patch.EndOdometer != nil {
		b.EndOdometerValue = patch.EndOdometer
	}
	return true, nil
}

func (r *fakeRepo) HasCommittedOverlap(_ context.Context, vehicleID, exceptID types.ID, rng types.DateRange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.Vehicle.ID == vehicleID && b.ID != exceptID && b.Status.Committed() && Overlaps(b.Range(), rng) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) RejectOverlapping(_ context.Context, vehicleID, exceptID types.ID, rng types.DateRange) ([]*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Booking
	for _, b := range r.bookings {
		if b.Vehicle.ID != vehicleID || b.ID == exceptID || b.Status != StatusPending || !Overlaps(b.Range(), rng) {
			continue
		}
		b.Status = StatusRejected
		b.StatusVersion++
		out = append(out, copyBooking(b))
	}
	return out, nil
}

func (r *fakeRepo) AppendEvent(_ context.Context, e *Event) error {
	if r.failEvent != nil {
		if err := r.failEvent(e); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *fakeRepo) List(_ context.Context, f Filter) ([]*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*Booking{}
	for _, b := range r.bookings {
		if f.OwnerID != "" && b.Owner.ID != f.OwnerID {
			continue
		}
		if f.RenterID != "" && b.From.ID != f.RenterID {
			continue
		}
		if f.VehicleID != "" && b.Vehicle.ID != f.VehicleID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, copyBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset >= uint64(len(out)) {
		return []*Booking{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *fakeRepo) status(id types.ID) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id].Status
}

func (r *fakeRepo) eventsFor(id types.ID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.BookingID == id {
			out = append(out, e)
		}
	}
	return out
}
