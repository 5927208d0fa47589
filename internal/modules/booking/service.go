// README: Booking service implements state transitions, overlap resolution and persistence.
package booking

import (
	"context"
	"fmt"
	"math"
	"time"

	"drivebid/internal/clock"
	"drivebid/internal/modules/bid"
	"drivebid/internal/modules/notify"
	"drivebid/internal/modules/pricing"
	"drivebid/internal/types"
)

// Repository is the booking store contract. Methods called inside WithTx join
// the transaction carried by ctx.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertIfAbsent(ctx context.Context, b *Booking) (bool, error)
	GetByDedupKey(ctx context.Context, key string) (*Booking, error)
	Get(ctx context.Context, id types.ID) (*Booking, error)
	GetForUpdate(ctx context.Context, id types.ID) (*Booking, error)
	LockVehicle(ctx context.Context, vehicleID types.ID) error
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch Patch) (bool, error)
	HasCommittedOverlap(ctx context.Context, vehicleID, exceptID types.ID, r types.DateRange) (bool, error)
	RejectOverlapping(ctx context.Context, vehicleID, exceptID types.ID, r types.DateRange) ([]*Booking, error)
	AppendEvent(ctx context.Context, e *Event) error
	List(ctx context.Context, f Filter) ([]*Booking, error)
}

type Settler interface {
	Settle(ctx context.Context, req pricing.Request) (pricing.Settlement, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, events ...notify.Event)
}

type Service struct {
	repo     Repository
	settler  Settler
	notifier Notifier
	clock    clock.Clock
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewService(repo Repository, settler Settler, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		settler:  settler,
		notifier: discardNotifier{},
		clock:    clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type discardNotifier struct{}

func (discardNotifier) Dispatch(context.Context, ...notify.Event) {}

type StatusCommand struct {
	BookingID types.ID
	ActorID   types.ID
	Status    Status
}

type TransitionCommand struct {
	BookingID types.ID
	ActorID   types.ID
}

type StartCommand struct {
	BookingID     types.ID
	ActorID       types.ID
	StartOdometer *float64
}

type EndCommand struct {
	BookingID   types.ID
	ActorID     types.ID
	EndOdometer *float64
}

type ListQuery struct {
	ActorID   types.ID
	Role      string
	Status    string
	VehicleID types.ID
	Limit     uint64
	Offset    uint64
}

// Approval is the outcome of a successful approve: the approved booking and
// every pending booking the overlap sweep rejected.
type Approval struct {
	Booking  *Booking
	Rejected []*Booking
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxListOffset    = math.MaxInt64

	// maxReading is the largest value a NUMERIC(12,2) odometer column holds.
	maxReading = 9999999999.99
)

// Intake persists a validated envelope as a pending booking. Redelivered
// envelopes resolve to the existing booking and created is false.
func (s *Service) Intake(ctx context.Context, env bid.Envelope) (b *Booking, created bool, err error) {
	if err := bid.Validate(env); err != nil {
		return nil, false, err
	}
	now := s.clock.Now()
	b = &Booking{
		ID:                 types.NewID(),
		DedupKey:           env.DedupKey(),
		Vehicle:            env.Vehicle,
		From:               env.From,
		Owner:              env.Owner,
		Amount:             env.Amount,
		SelectedAddons:     env.SelectedAddons,
		StartDate:          env.StartDate,
		EndDate:            env.EndDate,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if b.SelectedAddons == nil {
		b.SelectedAddons = []bid.Addon{}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.InsertIfAbsent(ctx, b)
		if err != nil || !ok {
			return err
		}
		created = true
		renter := env.From.ID
		return s.repo.AppendEvent(ctx, &Event{
			BookingID:  b.ID,
			FromStatus: StatusNone,
			ToStatus:   StatusPending,
			ActorType:  ActorRenter,
			ActorID:    &renter,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.repo.GetByDedupKey(ctx, b.DedupKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return b, true, nil
}

// UpdateStatus applies an owner decision on a pending booking.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*Booking, error) {
	tc := TransitionCommand{BookingID: cmd.BookingID, ActorID: cmd.ActorID}
	switch cmd.Status {
	case StatusApproved:
		a, err := s.Approve(ctx, tc)
		if err != nil {
			return nil, err
		}
		return a.Booking, nil
	case StatusRejected:
		return s.Reject(ctx, tc)
	case StatusStarted, StatusEnded, StatusReviewed:
		return nil, badRequest(fmt.Sprintf("status %s has its own endpoint", cmd.Status))
	default:
		return nil, badRequest("status must be approved or rejected")
	}
}

// Approve commits the booking and rejects every pending booking on the same
// vehicle whose range intersects it, in one transaction. Approvals on the
// same vehicle are serialized by a vehicle-scoped lock taken before the
// target row is re-read, so a losing approver observes the sweep's result.
func (s *Service) Approve(ctx context.Context, cmd TransitionCommand) (*Approval, error) {
	if cmd.BookingID == "" || cmd.ActorID == "" {
		return nil, ErrBadRequest
	}
	var out Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		peek, err := s.repo.Get(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if err := s.repo.LockVehicle(ctx, peek.Vehicle.ID); err != nil {
			return err
		}
		b, err := s.repo.GetForUpdate(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if b.Owner.ID != cmd.ActorID {
			return ErrForbidden
		}
		if b.Status != StatusPending {
			return alreadyResolved(b.Status)
		}
		busy, err := s.repo.HasCommittedOverlap(ctx, b.Vehicle.ID, b.ID, b.Range())
		if err != nil {
			return err
		}
		if busy {
			return ErrVehicleBooked
		}

		now := s.clock.Now()
		if err := s.transition(ctx, b, StatusApproved, Patch{}, ActorOwner, &cmd.ActorID, now); err != nil {
			return err
		}
		rejected, err := s.repo.RejectOverlapping(ctx, b.Vehicle.ID, b.ID, b.Range())
		if err != nil {
			return err
		}
		for _, r := range rejected {
			if err := s.repo.AppendEvent(ctx, &Event{
				BookingID:  r.ID,
				FromStatus: StatusPending,
				ToStatus:   StatusRejected,
				ActorType:  ActorSystem,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}
		out = Approval{Booking: b, Rejected: rejected}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	events := StatusNotifications(out.Booking, ActorOwner, now)
	for _, r := range out.Rejected {
		events = append(events, StatusNotifications(r, ActorSystem, now)...)
	}
	s.notifier.Dispatch(ctx, events...)
	return &out, nil
}

func (s *Service) Reject(ctx context.Context, cmd TransitionCommand) (*Booking, error) {
	b, err := s.ownerTransition(ctx, cmd, StatusPending, StatusRejected, Patch{}, nil)
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(ctx, StatusNotifications(b, ActorOwner, s.clock.Now())...)
	return b, nil
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Booking, error) {
	if cmd.StartOdometer == nil {
		return nil, badRequest("startOdometerValue is required")
	}
	if *cmd.StartOdometer < 0 || *cmd.StartOdometer > maxReading {
		return nil, badRequest("startOdometerValue out of range")
	}
	start := *cmd.StartOdometer
	b, err := s.ownerTransition(ctx, TransitionCommand{BookingID: cmd.BookingID, ActorID: cmd.ActorID},
		StatusApproved, StatusStarted, Patch{StartOdometer: cmd.StartOdometer},
		func(cur *Booking) error {
			if cur.EndOdometerValue != nil && start > *cur.EndOdometerValue {
				return badRequest("startOdometerValue must not exceed endOdometerValue")
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(ctx, StatusNotifications(b, ActorOwner, s.clock.Now())...)
	return b, nil
}

// End records the closing odometer and computes the settlement. The ended
// status is committed even when the settlement cannot be computed; the
// caller then receives ErrSettlementUnavailable alongside the booking.
func (s *Service) End(ctx context.Context, cmd EndCommand) (*Booking, pricing.Settlement, error) {
	if cmd.EndOdometer == nil {
		return nil, pricing.Settlement{}, badRequest("endOdometerValue is required")
	}
	if *cmd.EndOdometer < 0 || *cmd.EndOdometer > maxReading {
		return nil, pricing.Settlement{}, badRequest("endOdometerValue out of range")
	}
	var b *Booking
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if cur.Owner.ID != cmd.ActorID {
			return ErrForbidden
		}
		if cur.Status != StatusStarted {
			return invalidTransition(cur.Status, StatusEnded)
		}
		if cur.StartOdometerValue == nil {
			return fmt.Errorf("%w: booking has no start odometer", ErrInvalidState)
		}
		if *cmd.EndOdometer < *cur.StartOdometerValue {
			return badRequest("endOdometerValue must not be below startOdometerValue")
		}
		patch := Patch{EndOdometer: cmd.EndOdometer}
		if err := s.transition(ctx, cur, StatusEnded, patch, ActorOwner, &cmd.ActorID, s.clock.Now()); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		return nil, pricing.Settlement{}, err
	}
	s.notifier.Dispatch(ctx, StatusNotifications(b, ActorOwner, s.clock.Now())...)

	settlement, err := s.settle(ctx, b)
	if err != nil {
		return b, pricing.Settlement{}, err
	}
	return b, settlement, nil
}

// Review closes an ended rental. Only the renter may review.
func (s *Service) Review(ctx context.Context, cmd TransitionCommand) (*Booking, error) {
	var b *Booking
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if cur.From.ID != cmd.ActorID {
			return ErrForbidden
		}
		if cur.Status != StatusEnded {
			return invalidTransition(cur.Status, StatusReviewed)
		}
		if err := s.transition(ctx, cur, StatusReviewed, Patch{}, ActorRenter, &cmd.ActorID, s.clock.Now()); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(ctx, StatusNotifications(b, ActorRenter, s.clock.Now())...)
	return b, nil
}

// Get returns a booking visible to its owner or renter.
func (s *Service) Get(ctx context.Context, id, actorID types.ID) (*Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Owner.ID != actorID && b.From.ID != actorID {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]*Booking, error) {
	f := Filter{VehicleID: q.VehicleID, Limit: q.Limit, Offset: q.Offset}
	switch q.Role {
	case ActorOwner:
		f.OwnerID = q.ActorID
	case ActorRenter, "":
		f.RenterID = q.ActorID
	default:
		return nil, badRequest("role must be owner or renter")
	}
	if q.Status != "" {
		st, ok := ParseStatus(q.Status)
		if !ok {
			return nil, badRequest("unknown status " + q.Status)
		}
		f.Status = st
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset > maxListOffset {
		return nil, badRequest("offset out of range")
	}
	return s.repo.List(ctx, f)
}

// Settlement recomputes the amount owed for an ended or reviewed booking.
func (s *Service) Settlement(ctx context.Context, id, actorID types.ID) (pricing.Settlement, error) {
	b, err := s.Get(ctx, id, actorID)
	if err != nil {
		return pricing.Settlement{}, err
	}
	if b.Status != StatusEnded && b.Status != StatusReviewed {
		return pricing.Settlement{}, fmt.Errorf("%w: booking is %s", ErrInvalidState, b.Status)
	}
	return s.settle(ctx, b)
}

func (s *Service) settle(ctx context.Context, b *Booking) (pricing.Settlement, error) {
	if s.settler == nil || b.StartOdometerValue == nil || b.EndOdometerValue == nil {
		return pricing.Settlement{}, ErrSettlementUnavailable
	}
	addons := make([]pricing.LineItem, 0, len(b.SelectedAddons))
	for _, a := range b.SelectedAddons {
		addons = append(addons, pricing.LineItem{Name: a.Name, Price: a.Price})
	}
	out, err := s.settler.Settle(ctx, pricing.Request{
		Amount:        b.Amount,
		StartDate:     b.StartDate,
		EndDate:       b.EndDate,
		StartOdometer: *b.StartOdometerValue,
		EndOdometer:   *b.EndOdometerValue,
		Addons:        addons,
	})
	if err != nil {
		return pricing.Settlement{}, fmt.Errorf("%w: %v", ErrSettlementUnavailable, err)
	}
	return out, nil
}

// ownerTransition moves an owner-controlled booking from one status to the next.
// ownerTransition runs guard, when set, on the locked row before applying the change.
func (s *Service) ownerTransition(ctx context.Context, cmd TransitionCommand, from, to Status, patch Patch, guard func(*Booking) error) (*Booking, error) {
	if cmd.BookingID == "" || cmd.ActorID == "" {
		return nil, ErrBadRequest
	}
	var b *Booking
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if cur.Owner.ID != cmd.ActorID {
			return ErrForbidden
		}
		if cur.Status != from {
			if from == StatusPending {
				return alreadyResolved(cur.Status)
			}
			return invalidTransition(cur.Status, to)
		}
		if guard != nil {
			if err := guard(cur); err != nil {
				return err
			}
		}
		if err := s.transition(ctx, cur, to, patch, ActorOwner, &cmd.ActorID, s.clock.Now()); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// transition applies a version-guarded status change to b and records it.
func (s *Service) transition(ctx context.Context, b *Booking, to Status, patch Patch, actorType string, actorID *types.ID, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return invalidTransition(b.Status, to)
	}
	ok, err := s.repo.UpdateStatus(ctx, b.ID, b.Status, to, b.StatusVersion, patch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	from := b.Status
	b.Status = to
	b.StatusVersion++
	b.UpdatedAt = now
	if patch.StartOdometer != nil {
		b.StartOdometerValue = patch.StartOdometer
	}
	if patch.EndOdometer != nil {
		b.EndOdometerValue = patch.EndOdometer
	}
	return s.repo.AppendEvent(ctx, &Event{
		BookingID:  b.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  now,
	})
}
