// Package venue defines the Client interface the lifecycle engine depends
// on for venue connectivity, instrument resolution, order submission, and
// status polling, and provides implementations for a live brokerage and an
// in-process simulator.
package venue

import (
	"context"

	"bracketd/internal/domain"
)

// OrderType enumerates the order types the engine submits.
type OrderType string

const (
	TypeLimit             OrderType = "limit"
	TypeTrailingStopLimit OrderType = "trailing-stop-limit"
)

// OrderState is the venue-reported lifecycle state of an order.
type OrderState string

const (
	StateWorking   OrderState = "Working"
	StateFilled    OrderState = "Filled"
	StateCancelled OrderState = "Cancelled"
	StateRejected  OrderState = "Rejected"
)

// Instrument is a qualified, tradable contract.
type Instrument struct {
	Symbol   string
	TickSize float64
}

// OrderSpec describes an order to submit. Child orders carry the parent's
// venue-assigned id in ParentID and are held inactive at the venue until an
// order with Transmit set activates the whole linked group.
type OrderSpec struct {
	Side     domain.Side
	Quantity int
	Type     OrderType

	// LimitPrice applies to limit orders.
	LimitPrice float64

	// TrailTrigger, TrailAmount and LimitOffset apply to trailing-stop-limit
	// orders: the initial trigger price, the trailing distance, and the
	// minimum offset between trigger and limit price.
	TrailTrigger float64
	TrailAmount  float64
	LimitOffset  float64

	ParentID string
	Transmit bool
}

// OrderHandle identifies a submitted order to the client that submitted it.
// The venue-assigned id becomes visible through Status once the venue
// acknowledges the order.
type OrderHandle struct {
	ClientID string
}

// OrderStatus is a point-in-time, polled view of an order. ID is empty
// until the venue has assigned one.
type OrderStatus struct {
	ID           string
	State        OrderState
	AvgFillPrice float64
}

// Filled reports whether the order has fully filled.
func (s OrderStatus) Filled() bool { return s.State == StateFilled }

// Client is the narrow venue capability the engine is handed. All methods
// must tolerate concurrent calls; Cancel must be idempotent (cancelling a
// filled or already-cancelled order is a no-op, not an error).
type Client interface {
	// ResolveInstrument qualifies a symbol into a tradable instrument,
	// failing with domain.ErrInstrumentNotFound if the venue cannot.
	ResolveInstrument(ctx context.Context, symbol string) (Instrument, error)

	// Submit places an order and returns a handle for polling it.
	Submit(ctx context.Context, inst Instrument, spec OrderSpec) (OrderHandle, error)

	// Cancel requests cancellation of the order. Idempotent.
	Cancel(ctx context.Context, h OrderHandle) error

	// Status returns the current polled state of the order.
	Status(ctx context.Context, h OrderHandle) (OrderStatus, error)

	// CancelAllOpen cancels every order still working at the venue.
	CancelAllOpen(ctx context.Context) error

	// IsConnected reports whether the venue connection is up.
	IsConnected() bool
}
