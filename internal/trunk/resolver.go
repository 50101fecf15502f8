// Package trunk looks up the telephony routes a load test dials through.
package trunk

import (
	"context"
	"fmt"

	"github.com/acme/voice-load-test/internal/domain"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

// Store is the trunk lookup surface of the storage layer.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Trunk, error)
	FindByNumber(ctx context.Context, direction domain.TrunkDirection, number string) (*domain.Trunk, error)
}

// Resolver maps a trunk id and a destination number to their trunks.
type Resolver struct {
	store Store
}

// NewResolver builds a resolver on top of store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// OutboundByID returns the outbound trunk with the given id.
func (r *Resolver) OutboundByID(ctx context.Context, id string) (domain.Trunk, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return domain.Trunk{}, apperrors.Configuration(
				fmt.Errorf("trunk resolver: outbound trunk %q: %w", id, err),
				"check the --trunk-id value against the sip_trunks table",
			)
		}
		return domain.Trunk{}, fmt.Errorf("trunk resolver: outbound trunk %q: %w", id, err)
	}
	if t.Direction != domain.TrunkOutbound {
		return domain.Trunk{}, apperrors.Configuration(
			fmt.Errorf("trunk resolver: trunk %q is %s, not outbound", id, t.Direction),
			"pass the id of an outbound trunk",
		)
	}
	if len(t.Numbers) == 0 {
		return domain.Trunk{}, apperrors.Configuration(
			fmt.Errorf("trunk resolver: outbound trunk %q has no numbers", id),
			"assign a caller number to the trunk",
		)
	}
	return *t, nil
}

// InboundByNumber returns the inbound trunk that answers number.
func (r *Resolver) InboundByNumber(ctx context.Context, number string) (domain.Trunk, error) {
	t, err := r.store.FindByNumber(ctx, domain.TrunkInbound, number)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return domain.Trunk{}, apperrors.Configuration(
				fmt.Errorf("trunk resolver: no inbound trunk for %s: %w", number, err),
				"the destination number must belong to an inbound trunk",
			)
		}
		return domain.Trunk{}, fmt.Errorf("trunk resolver: inbound trunk for %s: %w", number, err)
	}
	return *t, nil
}

// Resolve looks up both ends of a run.
func (r *Resolver) Resolve(ctx context.Context, trunkID, phoneNumber string) (domain.TrunkDetails, error) {
	outbound, err := r.OutboundByID(ctx, trunkID)
	if err != nil {
		return domain.TrunkDetails{}, err
	}
	inbound, err := r.InboundByNumber(ctx, phoneNumber)
	if err != nil {
		return domain.TrunkDetails{}, err
	}
	return domain.TrunkDetails{Outbound: outbound, Inbound: inbound}, nil
}
