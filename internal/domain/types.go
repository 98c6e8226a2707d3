// Package domain defines the core value types shared across the bracket
// order system: inbound order intents, effective (override-applied)
// parameters, resolved price levels, and terminal bracket outcomes.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of the entry order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit direction for a position entered on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OffsetUnit is the unit in which take-profit and stop offsets are
// expressed. Only ticks are implemented; percent is recognised so it can be
// rejected explicitly instead of being coerced.
type OffsetUnit string

const (
	UnitTicks   OffsetUnit = "ticks"
	UnitPercent OffsetUnit = "percent"
)

// ChildKind identifies which exit leg of a bracket filled.
type ChildKind string

const (
	ChildTakeProfit   ChildKind = "takeProfit"
	ChildTrailingStop ChildKind = "trailingStop"
	ChildNone         ChildKind = ""
)

// OrderIntent is the immutable description of a desired position entry as
// received from the signal source. Offsets are relative; absolute prices are
// derived later by the price resolver.
type OrderIntent struct {
	Symbol           string
	Side             Side
	Quantity         int
	LimitPrice       float64
	TakeProfitOffset float64
	StopOffset       float64
	TrailAmount      float64
	Unit             OffsetUnit
	Timeframe        string // metadata only, carried through to the ledger
}

// Validate rejects intents that must never reach the venue.
func (oi OrderIntent) Validate() error {
	switch Side(strings.ToUpper(string(oi.Side))) {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidIntent, oi.Side)
	}
	if oi.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidIntent, oi.Quantity)
	}
	if oi.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price must be positive, got %v", ErrInvalidIntent, oi.LimitPrice)
	}
	switch OffsetUnit(strings.ToLower(string(oi.Unit))) {
	case UnitTicks:
		return nil
	case UnitPercent:
		// Declared in the wire format but not implemented end to end; the
		// percentage base (price vs notional) is undefined, so refuse it.
		return fmt.Errorf("%w: %q", ErrUnsupportedOffsetUnit, oi.Unit)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOffsetUnit, oi.Unit)
	}
}

// Normalize returns a copy with side upper-cased and unit lower-cased so the
// rest of the pipeline can compare against the canonical constants.
func (oi OrderIntent) Normalize() OrderIntent {
	oi.Side = Side(strings.ToUpper(string(oi.Side)))
	oi.Unit = OffsetUnit(strings.ToLower(string(oi.Unit)))
	oi.Symbol = strings.ToUpper(strings.TrimSpace(oi.Symbol))
	return oi
}

// EffectiveParameters are the intent's numeric fields after the runtime
// settings overrides have been applied, plus the resolved timeouts and
// feature flags. Computed once per request and never mutated afterwards.
type EffectiveParameters struct {
	Quantity    int
	TrailAmount float64
	StopLoss    float64
	TakeProfit  float64
	TPQuantity  int
	TSQuantity  int

	FillOrCancelTimeout time.Duration
	BracketFillTimeout  time.Duration

	UseTakeProfit       bool
	UseTrailingStop     bool
	CancelLegsOnTimeout bool
}

// PriceLevels holds the absolute venue prices derived from an intent's
// relative offsets. Base is snapped to the instrument tick size.
type PriceLevels struct {
	Base       float64
	TakeProfit float64
	Stop       float64
}

// BracketOutcome is the terminal record of a bracket that completed: which
// child filled and at what prices. Exactly one outcome exists per completed
// bracket group.
type BracketOutcome struct {
	ChildKind       ChildKind
	ParentFillPrice float64
	ChildFillPrice  float64
}
