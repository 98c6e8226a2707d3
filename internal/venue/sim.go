package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"bracketd/internal/domain"
)

// Compile-time interface check.
var _ Client = (*Simulator)(nil)

// Simulator implements Client in memory for paper trading and tests. Fills
// are driven either by explicit Fill calls or by the scripted fill hooks;
// nothing fills on its own.
type Simulator struct {
	mu  sync.Mutex
	log *slog.Logger

	orders map[string]*simOrder // by client id
	seq    int

	tickSizes   map[string]float64
	defaultTick float64
	unknown     map[string]bool // symbols that fail resolution

	withholdIDs bool
	connected   bool

	// Scripted fills, applied under mu so they are atomic with respect to
	// engine polling.
	parentFill *float64 // fill entries on submit at this price (nil = at limit)
	fillOnSubmitParent bool
	tpFillOnActivate   *float64
	tsFillOnActivate   *float64
}

type simOrder struct {
	clientID string
	venueID  string
	inst     Instrument
	spec     OrderSpec
	state    OrderState
	fill     float64
	active   bool
}

// OrderView is a test- and diagnostics-friendly copy of a simulated order.
type OrderView struct {
	ClientID string
	VenueID  string
	Spec     OrderSpec
	State    OrderState
	Fill     float64
	Active   bool
}

// NewSimulator creates a connected Simulator with a 0.25 default tick size.
func NewSimulator(log *slog.Logger) *Simulator {
	return &Simulator{
		log:         log,
		orders:      make(map[string]*simOrder),
		tickSizes:   make(map[string]float64),
		unknown:     make(map[string]bool),
		defaultTick: 0.25,
		connected:   true,
	}
}

// SetTickSize overrides the tick size reported for symbol.
func (s *Simulator) SetTickSize(symbol string, tick float64) {
	s.mu.Lock()
	s.tickSizes[symbol] = tick
	s.mu.Unlock()
}

// FailResolution makes ResolveInstrument fail for symbol.
func (s *Simulator) FailResolution(symbol string) {
	s.mu.Lock()
	s.unknown[symbol] = true
	s.mu.Unlock()
}

// WithholdIDs stops the venue from assigning order ids, so submitted orders
// report an empty id forever.
func (s *Simulator) WithholdIDs(withhold bool) {
	s.mu.Lock()
	s.withholdIDs = withhold
	s.mu.Unlock()
}

// SetConnected flips the reported connection state.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

// ScriptParentFill makes entry orders (orders without a parent link) fill
// immediately on submission. With a nil price they fill at their limit.
func (s *Simulator) ScriptParentFill(price *float64) {
	s.mu.Lock()
	s.fillOnSubmitParent = true
	s.parentFill = price
	s.mu.Unlock()
}

// ScriptExitFills makes exit legs fill the moment their group activates:
// the take-profit (limit) leg at tp, the trailing-stop leg at ts. A nil
// price leaves that leg working. Fills happen atomically with activation,
// before any subsequent status poll.
func (s *Simulator) ScriptExitFills(tp, ts *float64) {
	s.mu.Lock()
	s.tpFillOnActivate = tp
	s.tsFillOnActivate = ts
	s.mu.Unlock()
}

// EnableAutoFill configures paper-run behaviour: entries fill at their
// limit price and brackets resolve through the take-profit leg.
func (s *Simulator) EnableAutoFill() {
	s.mu.Lock()
	s.fillOnSubmitParent = true
	s.parentFill = nil
	tp := 0.0
	s.tpFillOnActivate = &tp // 0 means "at the leg's own limit price"
	s.mu.Unlock()
}

// ResolveInstrument qualifies symbol against the simulated instrument
// universe.
func (s *Simulator) ResolveInstrument(_ context.Context, symbol string) (Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unknown[symbol] {
		return Instrument{}, fmt.Errorf("%w: %s", domain.ErrInstrumentNotFound, symbol)
	}
	tick := s.defaultTick
	if ts, ok := s.tickSizes[symbol]; ok {
		tick = ts
	}
	return Instrument{Symbol: symbol, TickSize: tick}, nil
}

// Submit records the order. Orders without a parent link are live
// immediately; child orders stay inactive until an order with Transmit set
// activates their group.
func (s *Simulator) Submit(_ context.Context, inst Instrument, spec OrderSpec) (OrderHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return OrderHandle{}, fmt.Errorf("%w: simulator disconnected", domain.ErrVenueUnavailable)
	}

	o := &simOrder{
		clientID: uuid.NewString(),
		inst:     inst,
		spec:     spec,
		state:    StateWorking,
		active:   spec.ParentID == "",
	}
	if !s.withholdIDs {
		s.seq++
		o.venueID = fmt.Sprintf("SIM-%d", s.seq)
	}
	s.orders[o.clientID] = o

	if o.active && s.fillOnSubmitParent {
		price := spec.LimitPrice
		if s.parentFill != nil {
			price = *s.parentFill
		}
		o.state = StateFilled
		o.fill = price
	}

	if spec.Transmit && spec.ParentID != "" {
		s.activateGroup(spec.ParentID)
	}

	s.log.Debug("sim order submitted",
		"client_id", o.clientID, "venue_id", o.venueID,
		"type", spec.Type, "side", spec.Side, "transmit", spec.Transmit)
	return OrderHandle{ClientID: o.clientID}, nil
}

// activateGroup marks every child of parentID active and applies scripted
// exit fills. Caller holds mu.
func (s *Simulator) activateGroup(parentID string) {
	for _, o := range s.orders {
		if o.spec.ParentID != parentID {
			continue
		}
		o.active = true
		if o.state != StateWorking {
			continue
		}
		switch o.spec.Type {
		case TypeLimit:
			if s.tpFillOnActivate != nil {
				price := *s.tpFillOnActivate
				if price == 0 {
					price = o.spec.LimitPrice
				}
				o.state = StateFilled
				o.fill = price
			}
		case TypeTrailingStopLimit:
			if s.tsFillOnActivate != nil {
				o.state = StateFilled
				o.fill = *s.tsFillOnActivate
			}
		}
	}
}

// Cancel transitions a working order to Cancelled. Cancelling a filled or
// already-cancelled order is a no-op.
func (s *Simulator) Cancel(_ context.Context, h OrderHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[h.ClientID]
	if !ok {
		return fmt.Errorf("unknown order %s", h.ClientID)
	}
	if o.state != StateWorking {
		return nil
	}
	o.state = StateCancelled
	s.log.Debug("sim order cancelled", "client_id", o.clientID, "venue_id", o.venueID)
	return nil
}

// Status returns the current polled view of the order.
func (s *Simulator) Status(_ context.Context, h OrderHandle) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[h.ClientID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("unknown order %s", h.ClientID)
	}
	return OrderStatus{ID: o.venueID, State: o.state, AvgFillPrice: o.fill}, nil
}

// CancelAllOpen cancels every working order.
func (s *Simulator) CancelAllOpen(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.state == StateWorking {
			o.state = StateCancelled
		}
	}
	return nil
}

// IsConnected reports the simulated connection state.
func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Fill marks a working order as filled at price. It drives manual test
// scenarios.
func (s *Simulator) Fill(clientID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clientID]
	if !ok {
		return fmt.Errorf("unknown order %s", clientID)
	}
	if o.state != StateWorking {
		return fmt.Errorf("order %s is %s, cannot fill", clientID, o.state)
	}
	o.state = StateFilled
	o.fill = price
	return nil
}

// Orders returns a copy of every order in submission-independent order.
func (s *Simulator) Orders() []OrderView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderView, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, OrderView{
			ClientID: o.clientID,
			VenueID:  o.venueID,
			Spec:     o.spec,
			State:    o.state,
			Fill:     o.fill,
			Active:   o.active,
		})
	}
	return out
}

// Children returns the child orders linked to the given parent venue id.
func (s *Simulator) Children(parentID string) []OrderView {
	var out []OrderView
	for _, o := range s.Orders() {
		if o.Spec.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out
}
