// Package engine implements the bracket order lifecycle: deriving absolute
// price levels from a signal, driving the parent/child submission protocol
// against the venue, racing the exit legs to first fill, and recording the
// realized outcome.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bracketd/internal/domain"
	"bracketd/internal/ledger"
	"bracketd/internal/pricing"
	"bracketd/internal/settings"
	"bracketd/internal/venue"
)

// limitOffsetTicks is the minimum distance, in ticks, between a trailing
// stop's trigger and its limit price.
const limitOffsetTicks = 4

// Timings bounds the engine's polling loops.
type Timings struct {
	// IDPollInterval/IDTimeout bound the wait for the venue to assign the
	// parent order an id.
	IDPollInterval time.Duration
	IDTimeout      time.Duration

	// FillPollInterval paces the parent fill-or-cancel wait; its deadline
	// comes from the order settings.
	FillPollInterval time.Duration

	// RacePollInterval paces the child race; its deadline comes from the
	// order settings.
	RacePollInterval time.Duration
}

// DefaultTimings returns the production polling bounds.
func DefaultTimings() Timings {
	return Timings{
		IDPollInterval:   200 * time.Millisecond,
		IDTimeout:        5 * time.Second,
		FillPollInterval: 100 * time.Millisecond,
		RacePollInterval: 500 * time.Millisecond,
	}
}

// Engine orchestrates bracket groups. Each PlaceBracket call owns its own
// state; brackets in flight concurrently share nothing but the venue client
// and the settings store's immutable snapshots.
type Engine struct {
	venue    venue.Client
	settings *settings.Store
	ledger   *ledger.Ledger
	log      *slog.Logger
	timings  Timings
}

// New creates an Engine with production timings.
func New(v venue.Client, st *settings.Store, lg *ledger.Ledger, log *slog.Logger) *Engine {
	return &Engine{
		venue:    v,
		settings: st,
		ledger:   lg,
		log:      log,
		timings:  DefaultTimings(),
	}
}

// Result is the terminal outcome of a completed bracket.
type Result struct {
	GroupID         string           `json:"groupId"`
	ParentOrderID   string           `json:"parentOrderId"`
	ParentFillPrice float64          `json:"parentFillPrice"`
	ChildKind       domain.ChildKind `json:"childOrderType"`
	ChildFillPrice  float64          `json:"childFillPrice"`
	Entry           ledger.Entry     `json:"logEntry"`
}

// PlaceBracket runs one intent through the full lifecycle:
//
//	validate -> resolve instrument -> submit parent -> await id
//	-> await parent fill -> submit exit legs -> race legs -> record
//
// The order settings snapshot is read exactly once, before any venue
// interaction; a concurrent settings reload affects only brackets submitted
// after it.
func (e *Engine) PlaceBracket(ctx context.Context, intent domain.OrderIntent) (*Result, error) {
	intent = intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, &domain.BracketError{Stage: domain.StageValidate, Err: err}
	}

	params := effectiveParameters(e.settings.Snapshot(), intent)
	if !params.UseTakeProfit && !params.UseTrailingStop {
		return nil, &domain.BracketError{Stage: domain.StageValidate, Err: domain.ErrNoExitLegsConfigured}
	}

	groupID := uuid.NewString()
	log := e.log.With("group", groupID, "symbol", intent.Symbol, "side", intent.Side)

	inst, err := e.venue.ResolveInstrument(ctx, intent.Symbol)
	if err != nil {
		return nil, &domain.BracketError{Stage: domain.StageResolve, Err: err}
	}

	levels, err := pricing.Resolve(intent.LimitPrice, intent.Side, params.TakeProfit, params.StopLoss, inst.TickSize)
	if err != nil {
		return nil, &domain.BracketError{Stage: domain.StageValidate, Err: err}
	}
	log.Info("price levels resolved",
		"base", levels.Base, "take_profit", levels.TakeProfit, "stop", levels.Stop,
		"tick", inst.TickSize, "quantity", params.Quantity)

	// Submit the parent as a not-to-transmit limit order so the exit legs
	// can be linked before the group goes live.
	parent, err := e.venue.Submit(ctx, inst, venue.OrderSpec{
		Side:       intent.Side,
		Quantity:   params.Quantity,
		Type:       venue.TypeLimit,
		LimitPrice: levels.Base,
		Transmit:   false,
	})
	if err != nil {
		return nil, &domain.BracketError{Stage: domain.StageSubmitParent, Err: err}
	}

	parentID, err := e.awaitParentID(ctx, parent)
	if err != nil {
		return nil, &domain.BracketError{Stage: domain.StageAwaitParentID, Err: err}
	}
	log = log.With("parent", parentID)
	log.Info("parent order acknowledged")

	parentFill, err := e.awaitParentFill(ctx, parent, params.FillOrCancelTimeout)
	if err != nil {
		return nil, &domain.BracketError{Stage: domain.StageAwaitParent, ParentID: parentID, Err: err}
	}
	log.Info("parent order filled", "price", parentFill)

	legs, err := e.submitExitLegs(ctx, inst, intent, params, levels, parentID)
	if err != nil {
		return nil, &domain.BracketError{
			Stage: domain.StageSubmitChildren, ParentID: parentID,
			ParentFilled: true, ParentFill: parentFill, Err: err,
		}
	}

	outcome, err := e.raceExitLegs(ctx, legs, params, log)
	if err != nil {
		return nil, &domain.BracketError{
			Stage: domain.StageAwaitChild, ParentID: parentID,
			ParentFilled: true, ParentFill: parentFill, Err: err,
		}
	}

	entry := e.ledger.Record(intent, params.Quantity, parentFill, outcome.fill, outcome.kind)
	return &Result{
		GroupID:         groupID,
		ParentOrderID:   parentID,
		ParentFillPrice: parentFill,
		ChildKind:       outcome.kind,
		ChildFillPrice:  outcome.fill,
		Entry:           entry,
	}, nil
}

// awaitParentID polls until the venue assigns the parent a nonzero id.
// Failure is terminal for the bracket; the caller must resubmit.
func (e *Engine) awaitParentID(ctx context.Context, parent venue.OrderHandle) (string, error) {
	var parentID string
	ok, err := pollUntil(ctx, e.timings.IDPollInterval, e.timings.IDTimeout, func() (bool, error) {
		st, err := e.venue.Status(ctx, parent)
		if err != nil {
			return false, err
		}
		parentID = st.ID
		return parentID != "", nil
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNoOrderID
	}
	return parentID, nil
}

// awaitParentFill waits for the parent to fill within the fill-or-cancel
// timeout. On expiry the status is read one final time so that a fill
// landing in the same instant wins over the cancel; the cancel itself is
// idempotent at the venue.
func (e *Engine) awaitParentFill(ctx context.Context, parent venue.OrderHandle, timeout time.Duration) (float64, error) {
	var last venue.OrderStatus
	ok, err := pollUntil(ctx, e.timings.FillPollInterval, timeout, func() (bool, error) {
		st, err := e.venue.Status(ctx, parent)
		if err != nil {
			return false, err
		}
		last = st
		if st.State == venue.StateRejected {
			return false, fmt.Errorf("venue rejected parent order %s", st.ID)
		}
		return st.Filled(), nil
	})
	if err != nil {
		return 0, err
	}
	if ok {
		return last.AvgFillPrice, nil
	}

	// Deadline elapsed. Prefer a fill observed in the final re-check over
	// the timeout path.
	if st, err := e.venue.Status(ctx, parent); err == nil && st.Filled() {
		return st.AvgFillPrice, nil
	}
	if err := e.venue.Cancel(ctx, parent); err != nil {
		e.log.Warn("cancelling timed-out parent", "error", err)
	}
	return 0, domain.ErrParentTimeout
}

// exitLeg pairs a submitted exit order with its kind.
type exitLeg struct {
	kind   domain.ChildKind
	handle venue.OrderHandle
}

type raceOutcome struct {
	kind domain.ChildKind
	fill float64
}

// submitExitLegs constructs the enabled exit legs, each linked to the
// parent id. The last leg submitted carries the transmit flag and activates
// the whole group at the venue in one step.
func (e *Engine) submitExitLegs(
	ctx context.Context,
	inst venue.Instrument,
	intent domain.OrderIntent,
	params domain.EffectiveParameters,
	levels domain.PriceLevels,
	parentID string,
) ([]exitLeg, error) {
	exitSide := intent.Side.Opposite()
	legs := make([]exitLeg, 0, 2)

	if params.UseTakeProfit {
		h, err := e.venue.Submit(ctx, inst, venue.OrderSpec{
			Side:       exitSide,
			Quantity:   params.TPQuantity,
			Type:       venue.TypeLimit,
			LimitPrice: levels.TakeProfit,
			ParentID:   parentID,
			Transmit:   !params.UseTrailingStop, // sole leg transmits itself
		})
		if err != nil {
			return nil, fmt.Errorf("submitting take-profit leg: %w", err)
		}
		legs = append(legs, exitLeg{kind: domain.ChildTakeProfit, handle: h})
	}

	if params.UseTrailingStop {
		h, err := e.venue.Submit(ctx, inst, venue.OrderSpec{
			Side:         exitSide,
			Quantity:     params.TSQuantity,
			Type:         venue.TypeTrailingStopLimit,
			TrailTrigger: levels.Stop,
			TrailAmount:  params.TrailAmount,
			LimitOffset:  limitOffsetTicks * inst.TickSize,
			ParentID:     parentID,
			Transmit:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("submitting trailing-stop leg: %w", err)
		}
		legs = append(legs, exitLeg{kind: domain.ChildTrailingStop, handle: h})
	}

	return legs, nil
}

// raceExitLegs polls the legs until one fills or the bracket timeout
// elapses. Within a poll cycle the take-profit leg is always read first, so
// when both legs report filled in the same cycle the take-profit leg wins
// deterministically. The losing leg is cancelled immediately.
//
// On timeout the surviving legs are left at the venue unless the
// cancel-legs-on-timeout policy is set: with an unfilled exit the position
// risk context is unknown, so abandoning live legs is an explicit operator
// decision, and the remaining leg ids are logged loudly either way.
func (e *Engine) raceExitLegs(ctx context.Context, legs []exitLeg, params domain.EffectiveParameters, log *slog.Logger) (raceOutcome, error) {
	var winner raceOutcome
	won := false

	ok, err := pollUntil(ctx, e.timings.RacePollInterval, params.BracketFillTimeout, func() (bool, error) {
		// Legs are ordered take-profit first; the first fill observed in
		// this pass is the winner.
		for _, leg := range legs {
			st, err := e.venue.Status(ctx, leg.handle)
			if err != nil {
				return false, err
			}
			if st.Filled() {
				winner = raceOutcome{kind: leg.kind, fill: st.AvgFillPrice}
				won = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return raceOutcome{}, err
	}

	if ok && won {
		for _, leg := range legs {
			if leg.kind == winner.kind {
				continue
			}
			if err := e.venue.Cancel(ctx, leg.handle); err != nil {
				log.Warn("cancelling losing exit leg", "leg", leg.kind, "error", err)
			} else {
				log.Info("losing exit leg cancelled", "leg", leg.kind)
			}
		}
		log.Info("exit leg filled", "leg", winner.kind, "price", winner.fill)
		return winner, nil
	}

	// Bracket timeout.
	if params.CancelLegsOnTimeout {
		for _, leg := range legs {
			if err := e.venue.Cancel(ctx, leg.handle); err != nil {
				log.Warn("cancelling exit leg after bracket timeout", "leg", leg.kind, "error", err)
			}
		}
		log.Warn("bracket timed out; exit legs cancelled per policy")
	} else {
		ids := make([]string, 0, len(legs))
		for _, leg := range legs {
			if st, err := e.venue.Status(ctx, leg.handle); err == nil && st.ID != "" {
				ids = append(ids, st.ID)
			}
		}
		log.Warn("BRACKET TIMEOUT: exit legs remain LIVE at the venue and need manual attention",
			"live_leg_ids", ids)
	}
	return raceOutcome{}, domain.ErrBracketTimeout
}

// effectiveParameters applies the settings overrides to the intent. An
// override applies only when present and non-null in the snapshot; the
// leg quantities default to the effective quantity.
func effectiveParameters(snap *settings.Snapshot, intent domain.OrderIntent) domain.EffectiveParameters {
	quantity := snap.GetInt("order_settings.overrides.quantity", intent.Quantity)
	return domain.EffectiveParameters{
		Quantity:    quantity,
		TrailAmount: snap.GetFloat("order_settings.overrides.trail_amount", intent.TrailAmount),
		StopLoss:    snap.GetFloat("order_settings.overrides.stop_loss", intent.StopOffset),
		TakeProfit:  snap.GetFloat("order_settings.overrides.take_profit", intent.TakeProfitOffset),
		TPQuantity:  snap.GetInt("order_settings.overrides.tp_quantity", quantity),
		TSQuantity:  snap.GetInt("order_settings.overrides.ts_quantity", quantity),

		FillOrCancelTimeout: snap.GetSeconds("order_settings.timeouts.fill_or_cancel", 10*time.Second),
		BracketFillTimeout:  snap.GetSeconds("order_settings.timeouts.bracket_fill", 3600*time.Second),

		UseTakeProfit:       snap.GetBool("order_settings.use_take_profit", true),
		UseTrailingStop:     snap.GetBool("order_settings.use_trailing_stop", true),
		CancelLegsOnTimeout: snap.GetBool("order_settings.cancel_legs_on_timeout", false),
	}
}
