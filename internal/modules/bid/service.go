// README: Bid submission: builds the envelope from directory snapshots and enqueues it.
package bid

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"drivebid/internal/types"
)

// Directory resolves the live records that get snapshotted into an envelope.
type Directory interface {
	User(ctx context.Context, id types.ID) (Party, error)
	Vehicle(ctx context.Context, id types.ID) (VehicleSnapshot, types.ID, error)
}

// Publisher is the enqueue side of the bid queue.
type Publisher interface {
	Enqueue(ctx context.Context, body []byte, attrs map[string]string) (string, error)
}

type Service struct {
	directory Directory
	queue     Publisher
}

func NewService(directory Directory, queue Publisher) *Service {
	return &Service{directory: directory, queue: queue}
}

type SubmitCommand struct {
	VehicleID types.ID
	RenterID  types.ID
	Amount    float64
	StartDate types.Date
	EndDate   types.Date
	Addons    []Addon
	Nonce     string
}

// Receipt acknowledges that a bid was accepted for asynchronous persistence.
type Receipt struct {
	MessageID string `json:"messageId"`
	Nonce     string `json:"nonce"`
	DedupKey  string `json:"dedupKey"`
}

func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (Receipt, error) {
	if cmd.VehicleID == "" || cmd.RenterID == "" {
		return Receipt{}, fmt.Errorf("%w: vehicle and renter are required", ErrInvalidEnvelope)
	}
	vehicle, ownerID, err := s.directory.Vehicle(ctx, cmd.VehicleID)
	if err != nil {
		return Receipt{}, err
	}
	if ownerID == cmd.RenterID {
		return Receipt{}, ErrOwnVehicle
	}
	if vehicle.Status != "" && !strings.EqualFold(vehicle.Status, "available") {
		return Receipt{}, ErrVehicleUnavailable
	}
	renter, err := s.directory.User(ctx, cmd.RenterID)
	if err != nil {
		return Receipt{}, err
	}
	owner, err := s.directory.User(ctx, ownerID)
	if err != nil {
		return Receipt{}, err
	}

	nonce := strings.TrimSpace(cmd.Nonce)
	if nonce == "" {
		nonce = uuid.NewString()
	}
	addons := cmd.Addons
	if addons == nil {
		addons = []Addon{}
	}
	env := Envelope{
		Vehicle:        vehicle,
		From:           renter,
		Owner:          owner,
		Amount:         cmd.Amount,
		StartDate:      cmd.StartDate,
		EndDate:        cmd.EndDate,
		SelectedAddons: addons,
		Status:         "pending",
		Nonce:          nonce,
	}
	if err := Validate(env); err != nil {
		return Receipt{}, err
	}
	body, err := env.Marshal()
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal envelope: %w", err)
	}
	id, err := s.queue.Enqueue(ctx, body, map[string]string{AttrMessageType: MessageTypeBidPlaced})
	if err != nil {
		return Receipt{}, fmt.Errorf("enqueue bid: %w", err)
	}
	return Receipt{MessageID: id, Nonce: nonce, DedupKey: env.DedupKey()}, nil
}
